package scanner

import (
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// IsMisencoded reports whether s looks like Windows-1251 text that was
// decoded as ISO-8859-1: it contains control characters or Latin-1 upper
// half code points, and nothing beyond U+00FF.
func IsMisencoded(s string) bool {
	suspicious := false
	for _, r := range s {
		if r > 0xFF {
			return false
		}
		if r < 0x20 || r >= 0x80 {
			suspicious = true
		}
	}
	return suspicious
}

// RepairEncoding re-decodes a misencoded string as Windows-1251. Strings that
// do not look misencoded are returned unchanged with ok=false.
func RepairEncoding(s string) (string, bool) {
	if !IsMisencoded(s) {
		return s, false
	}
	raw, err := charmap.ISO8859_1.NewEncoder().String(s)
	if err != nil {
		return s, false
	}
	fixed, err := charmap.Windows1251.NewDecoder().String(raw)
	if err != nil || !utf8.ValidString(fixed) {
		return s, false
	}
	return fixed, true
}
