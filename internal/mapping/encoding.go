package mapping

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/unicode/norm"
)

// toUTF8 re-decodes every byte that is not part of a valid UTF-8 sequence as
// Windows-1252 and normalizes the result to NFC.
func toUTF8(s string) string {
	if utf8.ValidString(s) {
		return norm.NFC.String(s)
	}

	var b strings.Builder
	b.Grow(len(s) + len(s)/2)

	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		if r == utf8.RuneError && size == 1 {
			b.WriteRune(charmap.Windows1252.DecodeByte(s[0]))
		} else {
			b.WriteString(s[:size])
		}
		s = s[size:]
	}

	return norm.NFC.String(b.String())
}
