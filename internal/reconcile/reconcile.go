// Package reconcile curates the classified contact set: it applies the deny
// list, organization allowlists and the zero-engagement rule, then surfaces
// possible duplicate identities for review. Nothing is merged.
package reconcile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"contactsignal-engine/internal/classify"
	"contactsignal-engine/internal/config"
	"contactsignal-engine/internal/domain"
)

// Removal reasons.
const (
	ReasonDenyList       = "deny_list"
	ReasonOrgAllowlist   = "org_allowlist"
	ReasonZeroEngagement = "zero_engagement"
)

// Review reasons that are not group kinds.
const (
	ReviewAutomated       = "automated"
	ReviewUnknown         = "unknown_category"
	ReviewProtectedDeny   = "deny_list_protected"
	ReviewProtectedOrgCut = "org_allowlist_protected"
)

// DefaultNameDistance is the largest edit distance between two full names at
// the same company that still counts as a near duplicate.
const DefaultNameDistance = 2

type Result struct {
	Contacts domain.ContactSet `json:"-"`
	// Curated holds the removed contacts with their counters, keyed like
	// Contacts. Removed gives the reason for each.
	Curated domain.ContactSet   `json:"-"`
	Removed []domain.Removal    `json:"removed"`
	Groups  []domain.Group      `json:"groups"`
	Review  []domain.ReviewItem `json:"review"`
}

type Reconciler struct {
	deny         []config.Override
	orgs         []config.OrgAllowlist
	NameDistance int
}

func New(ov config.Overrides) *Reconciler {
	return &Reconciler{
		deny:         ov.Deny,
		orgs:         ov.Orgs,
		NameDistance: DefaultNameDistance,
	}
}

// Reconcile runs the curation steps in order over in. in itself is not
// modified; surviving contacts are shared with the result.
func (r *Reconciler) Reconcile(in domain.ContactSet) Result {
	res := Result{Contacts: make(domain.ContactSet, len(in)), Curated: domain.ContactSet{}}
	review := newReviewQueue()

	for _, email := range in.Emails() {
		c := in[email]
		reason, protectedHit := r.removalReason(c)
		switch {
		case reason == "":
			res.Contacts[email] = c
		case protectedHit != "":
			res.Contacts[email] = c
			review.add(email, protectedHit, "matched "+reason+" but name or pin is protected")
		default:
			res.Removed = append(res.Removed, domain.Removal{Email: email, Reason: reason})
			res.Curated[email] = c
		}
	}

	res.Groups = append(res.Groups, groupByName(res.Contacts)...)
	res.Groups = append(res.Groups, groupByPhone(res.Contacts)...)
	res.Groups = append(res.Groups, groupByCompany(res.Contacts, r.NameDistance)...)

	for _, g := range res.Groups {
		for _, m := range g.Members {
			review.add(m, string(g.Kind), fmt.Sprintf("%s=%q shared with %s", g.Kind, g.Key, others(g.Members, m)))
		}
	}
	for _, email := range res.Contacts.Emails() {
		c := res.Contacts[email]
		switch c.Classification.Type {
		case domain.CatAutomated:
			review.add(email, ReviewAutomated, "rule "+c.Classification.Rule)
		case domain.CatUnknown, "":
			review.add(email, ReviewUnknown, "no classification rule matched")
		}
	}
	res.Review = review.items()
	return res
}

// removalReason returns why c would be dropped. protectedHit is set instead
// of dropping when c carries a protected name or a pin.
func (r *Reconciler) removalReason(c *domain.Contact) (reason, protectedHit string) {
	immune := c.NameSource.Protected() || c.Classification.Pinned

	for _, d := range r.deny {
		if classify.Matches(d, c) {
			if immune {
				return ReasonDenyList, ReviewProtectedDeny
			}
			return ReasonDenyList, ""
		}
	}

	if org, ok := r.orgFor(c.Email); ok && !allowed(org, c) {
		if immune {
			return ReasonOrgAllowlist, ReviewProtectedOrgCut
		}
		return ReasonOrgAllowlist, ""
	}

	if c.Classification.RequiresEngagement &&
		c.Classification.Engagement != domain.EngBidirectional &&
		!c.HasContext() {
		return ReasonZeroEngagement, ""
	}
	return "", ""
}

func (r *Reconciler) orgFor(email string) (config.OrgAllowlist, bool) {
	_, dom, ok := domain.SplitEmail(email)
	if !ok {
		return config.OrgAllowlist{}, false
	}
	for _, o := range r.orgs {
		d := strings.ToLower(strings.TrimSpace(o.Domain))
		if d != "" && (dom == d || strings.HasSuffix(dom, "."+d)) {
			return o, true
		}
	}
	return config.OrgAllowlist{}, false
}

// allowed matches an allowlist entry against the email or the folded name.
func allowed(o config.OrgAllowlist, c *domain.Contact) bool {
	name := NormalizeName(c.Name)
	for _, k := range o.Keep {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if strings.Contains(k, "@") {
			if domain.NormalizeEmail(k) == c.Email {
				return true
			}
			continue
		}
		if name != "" && name == NormalizeName(k) {
			return true
		}
	}
	return false
}

func groupByName(cs domain.ContactSet) []domain.Group {
	idx := map[string][]string{}
	for _, email := range cs.Emails() {
		if key := NormalizeName(cs[email].Name); key != "" {
			idx[key] = append(idx[key], email)
		}
	}
	return collect(domain.GroupDuplicateName, idx)
}

func groupByPhone(cs domain.ContactSet) []domain.Group {
	idx := map[string][]string{}
	for _, email := range cs.Emails() {
		for _, p := range cs[email].Signals.Phones {
			idx[p] = append(idx[p], email)
		}
	}
	return collect(domain.GroupSharedPhone, idx)
}

// groupByCompany links contacts at the same company whose full names differ
// but share a surname or sit within maxDist edits of each other.
func groupByCompany(cs domain.ContactSet, maxDist int) []domain.Group {
	type person struct {
		email, full, surname string
	}
	byCompany := map[string][]person{}
	for _, email := range cs.Emails() {
		c := cs[email]
		full := NormalizeName(c.Name)
		fields := strings.Fields(full)
		if len(fields) < 2 {
			continue
		}
		seen := map[string]bool{}
		for _, co := range c.Signals.Companies {
			key := NormalizeCompany(co)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			byCompany[key] = append(byCompany[key], person{email, full, fields[len(fields)-1]})
		}
	}

	companies := make([]string, 0, len(byCompany))
	for k := range byCompany {
		companies = append(companies, k)
	}
	sort.Strings(companies)

	var out []domain.Group
	for _, co := range companies {
		ps := byCompany[co]
		uf := newUnionFind(len(ps))
		for i := 0; i < len(ps); i++ {
			for j := i + 1; j < len(ps); j++ {
				a, b := ps[i], ps[j]
				if a.full == b.full {
					continue
				}
				if a.surname == b.surname || levenshtein.ComputeDistance(a.full, b.full) <= maxDist {
					uf.union(i, j)
				}
			}
		}
		comps := map[int][]string{}
		for i, p := range ps {
			root := uf.find(i)
			comps[root] = append(comps[root], p.email)
		}
		for _, members := range comps {
			if len(members) < 2 {
				continue
			}
			sort.Strings(members)
			out = append(out, domain.Group{Kind: domain.GroupCompanyName, Key: co, Members: members})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Key != out[j].Key {
			return out[i].Key < out[j].Key
		}
		return out[i].Members[0] < out[j].Members[0]
	})
	return out
}

func collect(kind domain.GroupKind, idx map[string][]string) []domain.Group {
	var out []domain.Group
	for key, members := range idx {
		if len(members) < 2 {
			continue
		}
		sort.Strings(members)
		out = append(out, domain.Group{Kind: kind, Key: key, Members: members})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func others(members []string, self string) string {
	var out []string
	for _, m := range members {
		if m != self {
			out = append(out, m)
		}
	}
	return strings.Join(out, ", ")
}

type unionFind []int

func newUnionFind(n int) unionFind {
	uf := make(unionFind, n)
	for i := range uf {
		uf[i] = i
	}
	return uf
}

func (u unionFind) find(i int) int {
	for u[i] != i {
		u[i] = u[u[i]]
		i = u[i]
	}
	return i
}

func (u unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u[rb] = ra
	}
}

type reviewQueue struct {
	seen map[string]bool
	list []domain.ReviewItem
}

func newReviewQueue() *reviewQueue {
	return &reviewQueue{seen: map[string]bool{}}
}

func (q *reviewQueue) add(email, reason, evidence string) {
	k := email + "\x00" + reason
	if q.seen[k] {
		return
	}
	q.seen[k] = true
	q.list = append(q.list, domain.ReviewItem{Email: email, Reason: reason, Evidence: evidence})
}

func (q *reviewQueue) items() []domain.ReviewItem {
	sort.SliceStable(q.list, func(i, j int) bool {
		if q.list[i].Email != q.list[j].Email {
			return q.list[i].Email < q.list[j].Email
		}
		return q.list[i].Reason < q.list[j].Reason
	})
	return q.list
}
