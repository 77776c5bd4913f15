package vocab

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// tokenizerJSON is the subset of a HuggingFace tokenizer.json we need.
type tokenizerJSON struct {
	Model struct {
		Type     string          `json:"type"`
		Vocab    json.RawMessage `json:"vocab"`
		UnkToken string          `json:"unk_token"`
		UnkID    *int            `json:"unk_id"`
	} `json:"model"`
	AddedTokens []struct {
		ID      int    `json:"id"`
		Content string `json:"content"`
		Special bool   `json:"special"`
	} `json:"added_tokens"`
	Decoder *struct {
		Type string `json:"type"`
	} `json:"decoder"`
}

// tokenizerConfig holds the special token names of tokenizer_config.json.
type tokenizerConfig struct {
	BOSToken any `json:"bos_token"`
	EOSToken any `json:"eos_token"`
}

// LoadTokenizerJSON loads a HuggingFace tokenizer.json. The path may also name
// a directory containing tokenizer.json, in which case tokenizer_config.json
// next to it is consulted for the BOS and EOS tokens.
func LoadTokenizerJSON(path string) (*Table, error) {
	dir := filepath.Dir(path)
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		dir = path
		path = filepath.Join(path, "tokenizer.json")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tokenizer.json: %w", err)
	}

	var tj tokenizerJSON
	if err := json.Unmarshal(data, &tj); err != nil {
		return nil, fmt.Errorf("failed to parse tokenizer.json: %w", err)
	}

	vocab, err := parseModelVocab(tj.Model.Vocab)
	if err != nil {
		return nil, err
	}

	special := make(map[int]bool)
	for _, added := range tj.AddedTokens {
		vocab[added.ID] = added.Content
		special[added.ID] = added.Special
	}

	size := 0
	for id := range vocab {
		if id+1 > size {
			size = id + 1
		}
	}

	unk := -1
	if tj.Model.UnkID != nil {
		unk = *tj.Model.UnkID
	}

	tokens := make([]string, size)
	types := make([]TokenType, size)
	ids := make(map[string]int, len(vocab))
	for id := 0; id < size; id++ {
		text, ok := vocab[id]
		if !ok {
			types[id] = TypeUnused
			continue
		}
		tokens[id] = text
		ids[text] = id
		switch {
		case id == unk || (tj.Model.UnkToken != "" && text == tj.Model.UnkToken):
			types[id] = TypeUnknown
		default:
			types[id] = classify(text, special[id])
		}
	}

	kind := KindSPM
	if tj.Decoder != nil && tj.Decoder.Type == "ByteLevel" {
		kind = KindBPE
	}

	table, err := NewTable(kind, tokens, types)
	if err != nil {
		return nil, err
	}

	bos, eos := Token(-1), Token(-1)
	if cfgData, err := os.ReadFile(filepath.Join(dir, "tokenizer_config.json")); err == nil {
		var cfg tokenizerConfig
		if err := json.Unmarshal(cfgData, &cfg); err == nil {
			if id, ok := ids[specialName(cfg.BOSToken)]; ok {
				bos = Token(id)
			}
			if id, ok := ids[specialName(cfg.EOSToken)]; ok {
				eos = Token(id)
			}
		}
	}
	table.SetSpecial(bos, eos)

	return table, nil
}

// parseModelVocab accepts both the BPE/WordPiece form {"piece": id} and the
// Unigram form [["piece", score], ...].
func parseModelVocab(raw json.RawMessage) (map[int]string, error) {
	out := make(map[int]string)
	if len(raw) == 0 {
		return out, nil
	}

	var byPiece map[string]int
	if err := json.Unmarshal(raw, &byPiece); err == nil {
		for text, id := range byPiece {
			out[id] = text
		}
		return out, nil
	}

	var scored [][]any
	if err := json.Unmarshal(raw, &scored); err != nil {
		return nil, fmt.Errorf("failed to parse model vocab: %w", err)
	}
	for id, entry := range scored {
		if len(entry) == 0 {
			continue
		}
		text, ok := entry[0].(string)
		if !ok {
			return nil, fmt.Errorf("vocab entry %d is not a string", id)
		}
		out[id] = text
	}
	return out, nil
}

// specialName handles tokenizer_config.json values that are either a plain
// string or an AddedToken object.
func specialName(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		if s, ok := t["content"].(string); ok {
			return s
		}
	}
	return ""
}
