// Package phone normalizes user-entered numbers to international format.
package phone

import (
	"strings"
	"unicode"
)

// Normalizer rewrites national numbers for a single country.
type Normalizer struct {
	CountryCode    string // without "+", e.g. "40"
	NationalDigits int    // subscriber number length without trunk prefix
}

// Normalize returns the international form of raw and whether raw was
// recognised. Unrecognised input is returned trimmed but otherwise unchanged.
func (n Normalizer) Normalize(raw string) (string, bool) {
	s := compact(raw)
	switch {
	case strings.HasPrefix(s, "+"):
		return s, true
	case n.NationalDigits > 0 && len(s) == n.NationalDigits+1 && s[0] == '0' && digits(s):
		return "+" + n.CountryCode + s[1:], true
	case n.NationalDigits > 0 && len(s) == n.NationalDigits && digits(s):
		return "+" + n.CountryCode + s, true
	}
	return s, false
}

// Key is the identity used to compare two numbers.
func (n Normalizer) Key(raw string) string {
	s, _ := n.Normalize(raw)
	return s
}

func compact(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '-' || r == '(' || r == ')' || r == '.' {
			return -1
		}
		return r
	}, s)
}

func digits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
