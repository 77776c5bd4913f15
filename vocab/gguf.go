package vocab

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// GGUF metadata keys read by LoadGGUF.
const (
	KeyTokenizerModel = "tokenizer.ggml.model"
	KeyTokens         = "tokenizer.ggml.tokens"
	KeyTokenTypes     = "tokenizer.ggml.token_type"
	KeyBOS            = "tokenizer.ggml.bos_token_id"
	KeyEOS            = "tokenizer.ggml.eos_token_id"
)

const ggufMagic = "GGUF"

// GGUF value types.
const (
	ggufUint8   uint32 = 0
	ggufInt8    uint32 = 1
	ggufUint16  uint32 = 2
	ggufInt16   uint32 = 3
	ggufUint32  uint32 = 4
	ggufInt32   uint32 = 5
	ggufFloat32 uint32 = 6
	ggufBool    uint32 = 7
	ggufString  uint32 = 8
	ggufArray   uint32 = 9
	ggufUint64  uint32 = 10
	ggufInt64   uint32 = 11
	ggufFloat64 uint32 = 12
)

const maxGGUFString = 1 << 24

// ErrNotGGUF is returned when a file does not start with the GGUF magic.
var ErrNotGGUF = errors.New("vocab: not a GGUF file")

type ggufReader struct {
	r       *bufio.Reader
	version uint32
}

// LoadGGUF reads the tokenizer metadata of a GGUF model file. Tensor data is
// never touched.
func LoadGGUF(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open GGUF file: %w", err)
	}
	defer f.Close()

	return ReadGGUF(f)
}

// ReadGGUF reads tokenizer metadata from a GGUF stream.
func ReadGGUF(r io.Reader) (*Table, error) {
	g := &ggufReader{r: bufio.NewReader(r)}

	magic := make([]byte, 4)
	if _, err := io.ReadFull(g.r, magic); err != nil {
		return nil, fmt.Errorf("failed to read GGUF magic: %w", err)
	}
	if string(magic) != ggufMagic {
		return nil, ErrNotGGUF
	}
	if err := binary.Read(g.r, binary.LittleEndian, &g.version); err != nil {
		return nil, fmt.Errorf("failed to read GGUF version: %w", err)
	}
	if g.version < 1 || g.version > 3 {
		return nil, fmt.Errorf("unsupported GGUF version %d", g.version)
	}

	// tensor count is not needed
	if _, err := g.count(); err != nil {
		return nil, fmt.Errorf("failed to read tensor count: %w", err)
	}
	numKV, err := g.count()
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata count: %w", err)
	}

	var (
		model  = "llama"
		tokens []string
		types  []TokenType
		bos    Token = -1
		eos    Token = -1
	)

	for i := uint64(0); i < numKV; i++ {
		key, err := g.string()
		if err != nil {
			return nil, fmt.Errorf("metadata entry %d: %w", i, err)
		}
		var typ uint32
		if err := binary.Read(g.r, binary.LittleEndian, &typ); err != nil {
			return nil, fmt.Errorf("metadata %q: %w", key, err)
		}

		switch key {
		case KeyTokenizerModel:
			if typ != ggufString {
				return nil, fmt.Errorf("metadata %q: expected string, got type %d", key, typ)
			}
			if model, err = g.string(); err != nil {
				return nil, fmt.Errorf("metadata %q: %w", key, err)
			}
		case KeyTokens:
			if tokens, err = g.stringArray(typ); err != nil {
				return nil, fmt.Errorf("metadata %q: %w", key, err)
			}
		case KeyTokenTypes:
			if types, err = g.tokenTypes(typ); err != nil {
				return nil, fmt.Errorf("metadata %q: %w", key, err)
			}
		case KeyBOS, KeyEOS:
			v, err := g.integer(typ)
			if err != nil {
				return nil, fmt.Errorf("metadata %q: %w", key, err)
			}
			if key == KeyBOS {
				bos = Token(v)
			} else {
				eos = Token(v)
			}
		default:
			if err := g.skip(typ); err != nil {
				return nil, fmt.Errorf("metadata %q: %w", key, err)
			}
		}
	}

	if tokens == nil {
		return nil, fmt.Errorf("GGUF file has no %s", KeyTokens)
	}
	kind, err := ParseKind(model)
	if err != nil {
		return nil, err
	}
	if types == nil {
		types = make([]TokenType, len(tokens))
		for i, text := range tokens {
			types[i] = classify(text, false)
		}
	}

	table, err := NewTable(kind, tokens, types)
	if err != nil {
		return nil, err
	}
	table.SetSpecial(bos, eos)
	return table, nil
}

// count reads a length field; version 1 files use 32-bit lengths.
func (g *ggufReader) count() (uint64, error) {
	if g.version == 1 {
		var n uint32
		err := binary.Read(g.r, binary.LittleEndian, &n)
		return uint64(n), err
	}
	var n uint64
	err := binary.Read(g.r, binary.LittleEndian, &n)
	return n, err
}

func (g *ggufReader) string() (string, error) {
	n, err := g.count()
	if err != nil {
		return "", err
	}
	if n > maxGGUFString {
		return "", fmt.Errorf("string length %d exceeds limit", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(g.r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func (g *ggufReader) arrayHeader(typ uint32) (uint32, uint64, error) {
	if typ != ggufArray {
		return 0, 0, fmt.Errorf("expected array, got type %d", typ)
	}
	var elem uint32
	if err := binary.Read(g.r, binary.LittleEndian, &elem); err != nil {
		return 0, 0, err
	}
	n, err := g.count()
	return elem, n, err
}

func (g *ggufReader) stringArray(typ uint32) ([]string, error) {
	elem, n, err := g.arrayHeader(typ)
	if err != nil {
		return nil, err
	}
	if elem != ggufString {
		return nil, fmt.Errorf("expected string elements, got type %d", elem)
	}
	out := make([]string, 0, min(n, 1<<20))
	for i := uint64(0); i < n; i++ {
		s, err := g.string()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (g *ggufReader) tokenTypes(typ uint32) ([]TokenType, error) {
	elem, n, err := g.arrayHeader(typ)
	if err != nil {
		return nil, err
	}
	out := make([]TokenType, 0, min(n, 1<<20))
	for i := uint64(0); i < n; i++ {
		v, err := g.integer(elem)
		if err != nil {
			return nil, err
		}
		out = append(out, TokenType(v))
	}
	return out, nil
}

func (g *ggufReader) integer(typ uint32) (int64, error) {
	switch typ {
	case ggufUint8:
		var v uint8
		err := binary.Read(g.r, binary.LittleEndian, &v)
		return int64(v), err
	case ggufInt8:
		var v int8
		err := binary.Read(g.r, binary.LittleEndian, &v)
		return int64(v), err
	case ggufUint16:
		var v uint16
		err := binary.Read(g.r, binary.LittleEndian, &v)
		return int64(v), err
	case ggufInt16:
		var v int16
		err := binary.Read(g.r, binary.LittleEndian, &v)
		return int64(v), err
	case ggufUint32:
		var v uint32
		err := binary.Read(g.r, binary.LittleEndian, &v)
		return int64(v), err
	case ggufInt32:
		var v int32
		err := binary.Read(g.r, binary.LittleEndian, &v)
		return int64(v), err
	case ggufUint64:
		var v uint64
		err := binary.Read(g.r, binary.LittleEndian, &v)
		return int64(v), err
	case ggufInt64:
		var v int64
		err := binary.Read(g.r, binary.LittleEndian, &v)
		return v, err
	default:
		return 0, fmt.Errorf("expected integer, got type %d", typ)
	}
}

// skip discards a value of the given type.
func (g *ggufReader) skip(typ uint32) error {
	switch typ {
	case ggufUint8, ggufInt8, ggufBool:
		_, err := g.r.Discard(1)
		return err
	case ggufUint16, ggufInt16:
		_, err := g.r.Discard(2)
		return err
	case ggufUint32, ggufInt32, ggufFloat32:
		_, err := g.r.Discard(4)
		return err
	case ggufUint64, ggufInt64, ggufFloat64:
		_, err := g.r.Discard(8)
		return err
	case ggufString:
		_, err := g.string()
		return err
	case ggufArray:
		elem, n, err := g.arrayHeader(typ)
		if err != nil {
			return err
		}
		for i := uint64(0); i < n; i++ {
			if err := g.skip(elem); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown value type %d", typ)
	}
}
