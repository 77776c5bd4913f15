package vocab

import "strings"

// byteLevelShifted is how many bytes GPT-2's byte-level alphabet moves above
// U+00FF: the controls, space, DEL, NBSP and the soft hyphen.
const byteLevelShifted = 68

// byteLevel maps a rune of the byte-level alphabet back to the byte it
// stands for. Printable Latin-1 bytes are their own rune; every other byte
// takes the next rune from U+0100 on, in byte order. Entries carry bit 8 so
// that zero marks runes outside the alphabet.
var byteLevel = func() (table [0x100 + byteLevelShifted]uint16) {
	next := 0x100
	for b := 0; b < 0x100; b++ {
		r := b
		if !printableLatin1(b) {
			r = next
			next++
		}
		table[r] = uint16(b) | 0x100
	}
	return table
}()

func printableLatin1(b int) bool {
	return '!' <= b && b <= '~' || '¡' <= b && b <= '¬' || '®' <= b && b <= 'ÿ'
}

// decodeByteLevel turns a byte-level BPE token back into raw bytes. Runes
// outside the alphabet are kept as UTF-8.
func decodeByteLevel(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))
	for _, r := range text {
		if r >= 0 && int(r) < len(byteLevel) && byteLevel[r] != 0 {
			sb.WriteByte(byte(byteLevel[r]))
		} else {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
