package domain

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

type QualityLabel string

const (
	QualityGood    QualityLabel = "good"
	QualityPartial QualityLabel = "partial"
	QualityUnclear QualityLabel = "unclear"
	QualityPoor    QualityLabel = "poor"
	QualityGarbage QualityLabel = "garbage"
	QualityNone    QualityLabel = "none"
)

// Rank orders labels from most to least useful.
func (q QualityLabel) Rank() int {
	switch q {
	case QualityGood:
		return 5
	case QualityPartial:
		return 4
	case QualityUnclear:
		return 3
	case QualityPoor:
		return 2
	case QualityGarbage:
		return 1
	default:
		return 0
	}
}

// ExtractedSignals holds attributes parsed from signature samples.
// All slices are sorted, deduplicated sets; an empty field means "not observed".
type ExtractedSignals struct {
	Phones    []string `json:"phones,omitempty"`
	Titles    []string `json:"titles,omitempty"`
	Companies []string `json:"companies,omitempty"`
	NMLS      string   `json:"nmls,omitempty"`
}

func (s ExtractedSignals) Empty() bool {
	return len(s.Phones) == 0 && len(s.Titles) == 0 && len(s.Companies) == 0 && s.NMLS == ""
}

func (s ExtractedSignals) Clone() ExtractedSignals {
	return ExtractedSignals{
		Phones:    append([]string(nil), s.Phones...),
		Titles:    append([]string(nil), s.Titles...),
		Companies: append([]string(nil), s.Companies...),
		NMLS:      s.NMLS,
	}
}

// Merge unions two signal sets. Sets are compared case-insensitively for
// titles and companies; the first spelling in sorted order is kept.
func (s ExtractedSignals) Merge(o ExtractedSignals) ExtractedSignals {
	return ExtractedSignals{
		Phones:    unionSet(s.Phones, o.Phones, false),
		Titles:    unionSet(s.Titles, o.Titles, true),
		Companies: unionSet(s.Companies, o.Companies, true),
		NMLS:      pickNMLS(s.NMLS, o.NMLS),
	}
}

func unionSet(a, b []string, foldCase bool) []string {
	all := make([]string, 0, len(a)+len(b))
	all = append(all, a...)
	all = append(all, b...)
	return SortedSet(all, foldCase)
}

// SortedSet trims, drops empties, dedupes and sorts.
func SortedSet(in []string, foldCase bool) []string {
	if len(in) == 0 {
		return nil
	}
	cp := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v != "" {
			cp = append(cp, v)
		}
	}
	sort.Strings(cp)

	seen := map[string]bool{}
	var out []string
	for _, v := range cp {
		k := v
		if foldCase {
			k = strings.ToLower(v)
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	return out
}

// pickNMLS keeps the numerically smallest identifier so merge order never matters.
func pickNMLS(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	na, ea := strconv.Atoi(a)
	nb, eb := strconv.Atoi(b)
	if ea != nil || eb != nil {
		if a < b {
			return a
		}
		return b
	}
	if nb < na {
		return b
	}
	return a
}

// Evidence is everything the ingestion layer observed for one address.
type Evidence struct {
	Email        string    `json:"email"`
	DisplayNames []string  `json:"displayNames,omitempty"`
	Samples      []Sample  `json:"samples,omitempty"`
	Sent         int       `json:"sent"`
	Received     int       `json:"received"`
	FirstSeen    time.Time `json:"firstSeen,omitempty"`
	LastSeen     time.Time `json:"lastSeen,omitempty"`
}

// Sample is one signature sample with the date of the message it came from.
type Sample struct {
	Text string    `json:"text"`
	At   time.Time `json:"at,omitempty"`
}

type Corpus map[string]*Evidence
