package pipeline

import (
	"time"

	"contactsignal-engine/internal/reconcile"
)

type Failure struct {
	Email string `json:"email"`
	Error string `json:"error"`
}

// Report summarizes one run. It is stored with the run record and printed by
// the report command.
type Report struct {
	StartedAt      time.Time      `json:"startedAt"`
	DurationMS     int64          `json:"durationMs"`
	ContactsIn     int            `json:"contactsIn"`
	CorpusContacts int            `json:"corpusContacts"`
	Processed      int            `json:"processed"`
	ContactsOut    int            `json:"contactsOut"`
	Quality        map[string]int `json:"quality"`
	SampleQuality  map[string]int `json:"sampleQuality"`
	Categories     map[string]int `json:"categories"`
	Relationships  map[string]int `json:"relationships"`
	Engagement     map[string]int `json:"engagement"`
	Groups         map[string]int `json:"groups"`
	Removed        map[string]int `json:"removed"`
	ReviewItems    int            `json:"reviewItems"`
	Failures       []Failure      `json:"failures,omitempty"`
}

func newReport(start time.Time) Report {
	return Report{
		StartedAt:     start.UTC(),
		Quality:       map[string]int{},
		SampleQuality: map[string]int{},
		Categories:    map[string]int{},
		Relationships: map[string]int{},
		Engagement:    map[string]int{},
		Groups:        map[string]int{},
		Removed:       map[string]int{},
	}
}

func (r *Report) fill(res reconcile.Result) {
	r.ContactsOut = len(res.Contacts)
	for _, c := range res.Contacts {
		r.Quality[string(c.SignatureQuality)]++
		r.Categories[string(c.Classification.Type)]++
		r.Relationships[string(c.Relationship.Type)]++
		r.Engagement[string(c.Classification.Engagement)]++
	}
	for _, g := range res.Groups {
		r.Groups[string(g.Kind)]++
	}
	for _, rm := range res.Removed {
		r.Removed[rm.Reason]++
	}
	r.ReviewItems = len(res.Review)
}
