package extract

import "strings"

// IsValidPhone reports whether s is a normalized 10-digit US number: digits
// only, area code not starting with 0 or 1, and not one repeated digit.
func IsValidPhone(s string) bool {
	if len(s) != 10 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	if s[0] == '0' || s[0] == '1' {
		return false
	}
	return strings.Count(s, s[:1]) != len(s)
}

// NormalizePhone strips punctuation and a leading country code 1.
// ok is false when the result is not a valid phone.
func NormalizePhone(s string) (string, bool) {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	d := b.String()
	if len(d) == 11 && d[0] == '1' {
		d = d[1:]
	}
	if !IsValidPhone(d) {
		return "", false
	}
	return d, true
}
