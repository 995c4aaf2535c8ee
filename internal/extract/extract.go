// Package extract pulls phone numbers, job titles, company names and NMLS
// license ids out of sanitized signature blocks.
package extract

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"contactsignal-engine/internal/config"
	"contactsignal-engine/internal/domain"
)

var (
	rePhone   = regexp.MustCompile(`(?:\+?1[\s.\-]?)?(?:\(\d{3}\)|\d{3})[\s.\-]?\d{3}[\s.\-]?\d{4}`)
	reNMLS    = regexp.MustCompile(`(?i)\bNMLS\s*(?:ID)?\s*#?\s*:?\s*(\d{5,8})\b`)
	reSegment = regexp.MustCompile(`\s*[|•·,–—]\s*|\s+-\s+`)
)

const (
	maxTitleWords = 6
	maxTitleLen   = 60
	opaqueMinLen  = 40
)

// rule is one row of the extraction table. Every rule sees every line.
type rule struct {
	name  string
	apply func(line string, acc *accum)
}

type accum struct {
	phones    []string
	titles    []string
	companies []string
	nmls      domain.ExtractedSignals
}

// Extractor runs the extraction table over signature text. It is immutable
// after construction and safe for concurrent use.
type Extractor struct {
	reTitle   *regexp.Regexp
	reCompany *regexp.Regexp
	rules     []rule
}

// New builds an extractor from a title vocabulary and company-suffix keywords.
func New(titles, companyKeywords []string) *Extractor {
	e := &Extractor{
		reTitle:   wordsRegexp(titles),
		reCompany: wordsRegexp(companyKeywords),
	}
	e.rules = []rule{
		{name: "phone", apply: e.phoneRule},
		{name: "title", apply: e.titleRule},
		{name: "company", apply: e.companyRule},
		{name: "nmls", apply: e.nmlsRule},
	}
	return e
}

func FromConfig(cfg config.Config) *Extractor {
	return New(cfg.Extract.Titles, cfg.Extract.CompanyKeywords)
}

// Rules lists the rule names in evaluation order.
func (e *Extractor) Rules() []string {
	out := make([]string, len(e.rules))
	for i, r := range e.rules {
		out[i] = r.name
	}
	return out
}

// Extract returns the signals observed in one sanitized sample.
func (e *Extractor) Extract(text string) domain.ExtractedSignals {
	var acc accum
	for _, ln := range strings.Split(text, "\n") {
		ln = strings.TrimSpace(ln)
		if ln == "" || isOpaque(ln) {
			continue
		}
		for _, r := range e.rules {
			r.apply(ln, &acc)
		}
	}
	return domain.ExtractedSignals{
		Phones:    domain.SortedSet(acc.phones, false),
		Titles:    domain.SortedSet(acc.titles, true),
		Companies: domain.SortedSet(acc.companies, true),
		NMLS:      acc.nmls.NMLS,
	}
}

// ExtractAll unions the signals of every sample.
func (e *Extractor) ExtractAll(samples []string) domain.ExtractedSignals {
	var out domain.ExtractedSignals
	for _, s := range samples {
		out = out.Merge(e.Extract(s))
	}
	return out
}

func (e *Extractor) phoneRule(line string, acc *accum) {
	acc.phones = append(acc.phones, FindPhones(line)...)
}

// FindPhones returns the valid normalized phones in line. Digit runs glued to
// a larger token (ids, urls, encoded payloads) are not phones.
func FindPhones(line string) []string {
	var out []string
	for _, loc := range rePhone.FindAllStringIndex(line, -1) {
		if loc[0] > 0 && glued(line[loc[0]-1]) {
			continue
		}
		if loc[1] < len(line) && isAlnum(line[loc[1]]) {
			continue
		}
		if p, ok := NormalizePhone(line[loc[0]:loc[1]]); ok {
			out = append(out, p)
		}
	}
	return out
}

func (e *Extractor) titleRule(line string, acc *accum) {
	if e.reTitle == nil {
		return
	}
	for _, seg := range segments(line) {
		if t, ok := e.title(seg); ok {
			acc.titles = append(acc.titles, t)
		}
	}
}

func (e *Extractor) companyRule(line string, acc *accum) {
	if e.reCompany == nil {
		return
	}
	for _, seg := range segments(line) {
		if _, isTitle := e.title(seg); isTitle {
			continue
		}
		acc.companies = append(acc.companies, e.companies(seg)...)
	}
}

func (e *Extractor) nmlsRule(line string, acc *accum) {
	for _, m := range reNMLS.FindAllStringSubmatch(line, -1) {
		acc.nmls = acc.nmls.Merge(domain.ExtractedSignals{NMLS: m[1]})
	}
}

// HasTitle reports whether any segment of any line reads as a job title.
func (e *Extractor) HasTitle(text string) bool {
	for _, ln := range strings.Split(text, "\n") {
		for _, seg := range segments(ln) {
			if _, ok := e.title(seg); ok {
				return true
			}
		}
	}
	return false
}

func (e *Extractor) title(seg string) (string, bool) {
	if e.reTitle == nil || isLinkish(seg) {
		return "", false
	}
	seg = strings.Join(strings.Fields(reNMLS.ReplaceAllString(seg, " ")), " ")
	seg = strings.Trim(seg, ".;: ")
	if seg == "" || len(seg) > maxTitleLen || len(strings.Fields(seg)) > maxTitleWords {
		return "", false
	}
	if !e.reTitle.MatchString(seg) {
		return "", false
	}
	return seg, true
}

// companies returns capitalized runs of two or more words that contain a
// company keyword plus at least one other word.
func (e *Extractor) companies(seg string) []string {
	if isLinkish(seg) {
		return nil
	}
	var out []string
	var run []string
	flush := func() {
		for len(run) > 0 && isConnector(run[len(run)-1]) {
			run = run[:len(run)-1]
		}
		if len(run) >= 2 {
			name := strings.Trim(strings.Join(run, " "), ".,;: ")
			rest := e.reCompany.ReplaceAllString(name, "")
			if e.reCompany.MatchString(name) && strings.IndexFunc(rest, unicode.IsLetter) >= 0 {
				out = append(out, name)
			}
		}
		run = nil
	}
	for _, w := range strings.Fields(seg) {
		switch {
		case isCapitalized(w):
			run = append(run, w)
		case isConnector(w) && len(run) > 0:
			run = append(run, w)
		default:
			flush()
		}
	}
	flush()
	return out
}

func segments(line string) []string {
	var out []string
	for _, s := range reSegment.Split(line, -1) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// wordsRegexp matches any of words on word boundaries, longest first.
func wordsRegexp(words []string) *regexp.Regexp {
	var alts []string
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		parts := strings.Fields(w)
		for i, p := range parts {
			parts[i] = regexp.QuoteMeta(p)
		}
		alts = append(alts, strings.Join(parts, `\s+`))
	}
	if len(alts) == 0 {
		return nil
	}
	sort.SliceStable(alts, func(i, j int) bool { return len(alts[i]) > len(alts[j]) })
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(alts, "|") + `)\b`)
}

// isOpaque reports an encoded payload line: long and without any whitespace.
func isOpaque(line string) bool {
	return len(line) >= opaqueMinLen && strings.IndexFunc(line, unicode.IsSpace) < 0
}

func isLinkish(s string) bool {
	l := strings.ToLower(s)
	return strings.Contains(l, "@") || strings.Contains(l, "://") || strings.HasPrefix(l, "www.")
}

func isCapitalized(w string) bool {
	r, _ := utf8.DecodeRuneInString(w)
	return unicode.IsUpper(r)
}

func isConnector(w string) bool {
	switch strings.ToLower(w) {
	case "&", "of", "and", "the":
		return true
	}
	return false
}

func isAlnum(b byte) bool {
	return b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}

// glued reports a byte that ties a digit run to a larger token.
func glued(b byte) bool {
	return isAlnum(b) || b == '+' || b == '/' || b == '='
}
