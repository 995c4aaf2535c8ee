package reconcile

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var companySuffixes = map[string]bool{
	"inc": true, "llc": true, "corp": true, "co": true, "ltd": true, "lp": true, "company": true,
}

// NormalizeName folds case and diacritics, turns punctuation into spaces and
// collapses whitespace: "José  O'Neil" and "jose o neil" share a key.
func NormalizeName(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	out = cases.Fold().String(out)
	out = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, out)
	return strings.Join(strings.Fields(out), " ")
}

// NormalizeCompany is NormalizeName without trailing legal suffixes.
func NormalizeCompany(s string) string {
	f := strings.Fields(NormalizeName(s))
	for len(f) > 1 && companySuffixes[f[len(f)-1]] {
		f = f[:len(f)-1]
	}
	return strings.Join(f, " ")
}
