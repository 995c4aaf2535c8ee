package domain

type GroupKind string

const (
	GroupDuplicateName GroupKind = "duplicate_name"
	GroupSharedPhone   GroupKind = "shared_phone"
	GroupCompanyName   GroupKind = "company_name"
)

// Group is a set of contacts that may be the same person. Members are sorted;
// groups are surfaced for review and never merged automatically.
type Group struct {
	Kind    GroupKind `json:"kind"`
	Key     string    `json:"key"`
	Members []string  `json:"members"`
}

func (g Group) Has(email string) bool {
	for _, m := range g.Members {
		if m == email {
			return true
		}
	}
	return false
}

type ReviewItem struct {
	Email    string `json:"email"`
	Reason   string `json:"reason"`
	Evidence string `json:"evidence,omitempty"`
}

type Removal struct {
	Email  string `json:"email"`
	Reason string `json:"reason"`
}
