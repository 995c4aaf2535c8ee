// Package quality labels signature samples by counting bad and good signals.
// The label is advisory; extraction runs regardless of it.
package quality

import (
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"contactsignal-engine/internal/domain"
	"contactsignal-engine/internal/extract"
)

// Flag names reported in Result.
const (
	BadBase64          = "base64_run"
	BadHTML            = "html_markup"
	BadQuotedPrintable = "quoted_printable"
	BadLongURL         = "long_url"
	BadUnreadable      = "unreadable"

	GoodPhone = "phone"
	GoodEmail = "email"
	GoodName  = "name"
	GoodTitle = "title"
)

const longURLLen = 80

var (
	reBase64 = regexp.MustCompile(`[A-Za-z0-9+/=]{40,}`)
	reHTML   = regexp.MustCompile(`(?i)</?[a-z][a-z0-9]*(?:\s[^>]*)?/?>|\bstyle\s*=|&(?:nbsp|amp|lt|gt|quot|#\d{2,5});`)
	reQP     = regexp.MustCompile(`(?m)=(?:[0-9A-F]{2}|\r?$)`)
	reURL    = regexp.MustCompile(`(?i)(?:https?://|www\.)\S+`)
	reEmail  = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	reName   = regexp.MustCompile(`(?m)^\s*[A-Z][a-z'’]+(?:\s+[A-Z]\.)?\s+[A-Z][a-z'’]+`)
)

type flag struct {
	name string
	test func(s string) bool
}

// Result is the label plus the flags that produced it.
type Result struct {
	Label domain.QualityLabel `json:"label"`
	Bad   []string            `json:"bad,omitempty"`
	Good  []string            `json:"good,omitempty"`
}

type Scorer struct {
	bad  []flag
	good []flag
}

// New builds a scorer. ex supplies the title vocabulary; nil disables the title flag.
func New(ex *extract.Extractor) *Scorer {
	s := &Scorer{
		bad: []flag{
			{BadBase64, hasBase64Run},
			{BadHTML, reHTML.MatchString},
			{BadQuotedPrintable, reQP.MatchString},
			{BadLongURL, hasLongURL},
			{BadUnreadable, func(s string) bool { return !hasReadableWord(s) }},
		},
		good: []flag{
			{GoodPhone, hasPhone},
			{GoodEmail, reEmail.MatchString},
			{GoodName, reName.MatchString},
		},
	}
	if ex != nil {
		s.good = append(s.good, flag{GoodTitle, ex.HasTitle})
	}
	return s
}

// Score labels one sample. Evaluation order: empty, garbage, poor, good,
// partial, unclear. A single bad flag does not block good unless it is a
// base64 run.
func (s *Scorer) Score(sample string) Result {
	if strings.TrimSpace(sample) == "" {
		return Result{Label: domain.QualityNone}
	}
	var r Result
	for _, f := range s.bad {
		if f.test(sample) {
			r.Bad = append(r.Bad, f.name)
		}
	}
	for _, f := range s.good {
		if f.test(sample) {
			r.Good = append(r.Good, f.name)
		}
	}

	bad, good := len(r.Bad), len(r.Good)
	switch {
	case bad >= 2:
		r.Label = domain.QualityGarbage
	case bad >= 1 && good == 0:
		r.Label = domain.QualityPoor
	case good >= 2 && !slices.Contains(r.Bad, BadBase64):
		r.Label = domain.QualityGood
	case good >= 1:
		r.Label = domain.QualityPartial
	default:
		r.Label = domain.QualityUnclear
	}
	return r
}

// Best returns the most useful label, or none for an empty list.
func Best(labels []domain.QualityLabel) domain.QualityLabel {
	best := domain.QualityNone
	for _, l := range labels {
		if l.Rank() > best.Rank() {
			best = l
		}
	}
	return best
}

func hasPhone(s string) bool {
	for _, ln := range strings.Split(s, "\n") {
		if len(extract.FindPhones(ln)) > 0 {
			return true
		}
	}
	return false
}

// hasBase64Run ignores URLs; long slugs and tracking paths are not payloads.
func hasBase64Run(s string) bool {
	return reBase64.MatchString(reURL.ReplaceAllString(s, " "))
}

func hasLongURL(s string) bool {
	for _, u := range reURL.FindAllString(s, -1) {
		if len(u) >= longURLLen {
			return true
		}
	}
	return false
}

// hasReadableWord looks for a 2-24 letter word that is lower case after its
// first letter, or all caps. Encoded payloads mix case inside one token.
func hasReadableWord(s string) bool {
	words := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		n := utf8.RuneCountInString(w)
		if n < 2 || n > 24 {
			continue
		}
		if readable(w) {
			return true
		}
	}
	return false
}

func readable(w string) bool {
	var upper, lower int
	for i, r := range w {
		switch {
		case !unicode.IsLetter(r):
			return false
		case i == 0:
		case unicode.IsUpper(r):
			upper++
		default:
			lower++
		}
	}
	return upper == 0 || lower == 0
}
