package domain

import (
	"sort"
	"strings"
	"time"
)

type RelationshipType string

const (
	RelClient      RelationshipType = "client"
	RelLender      RelationshipType = "lender"
	RelRealtor     RelationshipType = "realtor"
	RelColleague   RelationshipType = "colleague"
	RelVendor      RelationshipType = "vendor"
	RelTitleEscrow RelationshipType = "title_escrow"
	RelPersonal    RelationshipType = "personal"
	RelUnknown     RelationshipType = "unknown"
)

var relationshipTypes = map[RelationshipType]bool{
	RelClient: true, RelLender: true, RelRealtor: true, RelColleague: true,
	RelVendor: true, RelTitleEscrow: true, RelPersonal: true, RelUnknown: true,
}

func (r RelationshipType) Valid() bool { return relationshipTypes[r] }

// Category is the role assigned by the classifier (classification.type).
type Category string

const (
	CatBorrower    Category = "borrower"
	CatLoanOfficer Category = "loan_officer"
	CatRealtor     Category = "realtor"
	CatTitleEscrow Category = "title_escrow"
	CatVendor      Category = "vendor"
	CatAutomated   Category = "automated"
	CatUnknown     Category = "unknown"
)

var categories = map[Category]bool{
	CatBorrower: true, CatLoanOfficer: true, CatRealtor: true, CatTitleEscrow: true,
	CatVendor: true, CatAutomated: true, CatUnknown: true,
}

func (c Category) Valid() bool { return categories[c] }

type Engagement string

const (
	EngBidirectional Engagement = "bi-directional"
	EngInboundOnly   Engagement = "inbound-only"
	EngOutboundOnly  Engagement = "outbound-only"
	EngNoData        Engagement = "no-data"
)

// NameConfidence records where a contact's name came from. Higher ranks win on merge.
type NameConfidence string

const (
	NameConfirmed NameConfidence = "confirmed"
	NameHigh      NameConfidence = "high"
	NameParsed    NameConfidence = "parsed-from-email"
	NameNone      NameConfidence = "none"
)

func (n NameConfidence) Rank() int {
	switch n {
	case NameConfirmed:
		return 3
	case NameHigh:
		return 2
	case NameParsed:
		return 1
	default:
		return 0
	}
}

// Protected names are never dropped by automatic curation.
func (n NameConfidence) Protected() bool {
	return n == NameConfirmed || n == NameHigh
}

type Relationship struct {
	Type RelationshipType `json:"type"`
	Rule string           `json:"rule,omitempty"`
}

type Classification struct {
	Type               Category   `json:"type"`
	Rule               string     `json:"rule,omitempty"`
	Engagement         Engagement `json:"engagement,omitempty"`
	RequiresEngagement bool       `json:"requiresEngagement,omitempty"`
	NonHuman           bool       `json:"nonHuman,omitempty"`
	Pinned             bool       `json:"pinned,omitempty"`
}

type Stats struct {
	EmailsProcessed int       `json:"emailsProcessed"`
	Sent            int       `json:"sent"`
	Received        int       `json:"received"`
	FirstSeen       time.Time `json:"firstSeen,omitempty"`
	LastSeen        time.Time `json:"lastSeen,omitempty"`
}

type Contact struct {
	Email            string           `json:"email"`
	Name             string           `json:"name,omitempty"`
	NameSource       NameConfidence   `json:"nameSource,omitempty"`
	Relationship     Relationship     `json:"relationship"`
	Classification   Classification   `json:"classification"`
	Signals          ExtractedSignals `json:"signals"`
	SignatureQuality QualityLabel     `json:"signatureQuality,omitempty"`
	Stats            Stats            `json:"stats"`
	SampleSignatures []string         `json:"sampleSignatures,omitempty"`
	Notes            string           `json:"notes,omitempty"`
	LoanProducts     []string         `json:"loanProducts,omitempty"`
	UpdatedAt        time.Time        `json:"updatedAt,omitempty"`
}

// HasContext reports whether the contact carries human-curated evidence that
// keeps it alive regardless of engagement counters.
func (c *Contact) HasContext() bool {
	return strings.TrimSpace(c.Notes) != "" ||
		c.NameSource.Protected() ||
		len(c.LoanProducts) > 0 ||
		c.Classification.Pinned
}

func (c *Contact) Clone() *Contact {
	if c == nil {
		return nil
	}
	out := *c
	out.Signals = c.Signals.Clone()
	out.SampleSignatures = append([]string(nil), c.SampleSignatures...)
	out.LoanProducts = append([]string(nil), c.LoanProducts...)
	return &out
}

// NormalizeEmail returns the canonical contact key.
func NormalizeEmail(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "<>\"' ")
	return strings.ToLower(s)
}

// SplitEmail returns local part and domain; ok is false for anything that is not local@domain.
func SplitEmail(email string) (local, dom string, ok bool) {
	at := strings.LastIndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return "", "", false
	}
	return email[:at], email[at+1:], true
}

type ContactSet map[string]*Contact

func (s ContactSet) Get(email string) (*Contact, bool) {
	c, ok := s[NormalizeEmail(email)]
	return c, ok
}

func (s ContactSet) Put(c *Contact) {
	c.Email = NormalizeEmail(c.Email)
	s[c.Email] = c
}

// Emails returns the keys in sorted order.
func (s ContactSet) Emails() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s ContactSet) Clone() ContactSet {
	out := make(ContactSet, len(s))
	for k, c := range s {
		out[k] = c.Clone()
	}
	return out
}
