package pipeline

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"contactsignal-engine/internal/domain"
)

// upgradeName sets the contact name from the best available source. A name
// is only ever replaced by one of strictly higher confidence.
func upgradeName(c *domain.Contact, display []string, local string) {
	if c.NameSource == "" {
		c.NameSource = domain.NameNone
	}
	if n := bestDisplayName(display, c.Email); n != "" {
		if domain.NameHigh.Rank() > c.NameSource.Rank() {
			c.Name, c.NameSource = n, domain.NameHigh
		}
		return
	}
	if n := nameFromLocal(local); n != "" && domain.NameParsed.Rank() > c.NameSource.Rank() {
		c.Name, c.NameSource = n, domain.NameParsed
	}
}

// bestDisplayName picks the most frequent usable display name. Ties go to
// the longer spelling, then to the lexically smaller one.
func bestDisplayName(names []string, email string) string {
	local, _, _ := domain.SplitEmail(email)
	counts := map[string]int{}
	for _, raw := range names {
		n := cleanDisplayName(raw)
		if n == "" {
			continue
		}
		l := strings.ToLower(n)
		if strings.Contains(n, "@") || l == email || l == strings.ToLower(local) {
			continue
		}
		counts[n]++
	}
	if len(counts) == 0 {
		return ""
	}
	cands := make([]string, 0, len(counts))
	for n := range counts {
		cands = append(cands, n)
	}
	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if counts[a] != counts[b] {
			return counts[a] > counts[b]
		}
		if len(a) != len(b) {
			return len(a) > len(b)
		}
		return a < b
	})
	return cands[0]
}

// cleanDisplayName trims quotes and turns "Last, First" into "First Last".
func cleanDisplayName(s string) string {
	s = strings.Trim(strings.TrimSpace(s), `"'`)
	s = strings.Join(strings.Fields(s), " ")
	if parts := strings.Split(s, ","); len(parts) == 2 {
		last, first := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		if last != "" && first != "" && !strings.Contains(last, " ") {
			s = first + " " + last
		}
	}
	return s
}

// nameFromLocal turns "john.smith" or "mary_ann-lee" into a title-cased name.
// Single tokens and anything with digits are rejected.
func nameFromLocal(local string) string {
	parts := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-'
	})
	if len(parts) < 2 || len(parts) > 3 {
		return ""
	}
	for _, p := range parts {
		if len(p) < 2 {
			return ""
		}
		for _, r := range p {
			if !unicode.IsLetter(r) {
				return ""
			}
		}
	}
	return cases.Title(language.English).String(strings.Join(parts, " "))
}
