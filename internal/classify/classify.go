// Package classify assigns a category and relationship to a contact from its
// email domain, using an ordered first-match rule table loaded from config.
package classify

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"

	"contactsignal-engine/internal/config"
	"contactsignal-engine/internal/domain"
)

const (
	RuleFallback = "fallback"
	RuleRole     = "role_address"
	RuleNMLS     = "nmls_signal"
)

// Rule is one row of the classification table.
type Rule struct {
	Name               string
	Category           domain.Category
	Relationship       domain.RelationshipType
	RequiresEngagement bool
	Match              func(dom string) bool
}

type Classifier struct {
	rules  []Rule
	role   *regexp.Regexp
	keep   []config.Override
	byName map[string]Rule
}

// New compiles the rule table from cfg. Rules keep their config order; the
// NMLS signal rule and the fallback are appended after them.
func New(cfg config.Config) (*Classifier, error) {
	c := &Classifier{
		keep:   cfg.Overrides.Keep,
		byName: map[string]Rule{},
	}
	for i, r := range cfg.Classify.Rules {
		cat := domain.Category(r.Category)
		rel := domain.RelationshipType(r.Relationship)
		if !cat.Valid() || !rel.Valid() {
			return nil, fmt.Errorf("classify.rules[%d] %q: invalid category/relationship %q/%q", i, r.Name, r.Category, r.Relationship)
		}
		c.rules = append(c.rules, Rule{
			Name:               r.Name,
			Category:           cat,
			Relationship:       rel,
			RequiresEngagement: r.RequiresEngagement,
			Match:              domainMatcher(r.Domains, r.Any),
		})
	}
	c.rules = append(c.rules, Rule{
		Name:         RuleFallback,
		Category:     domain.CatUnknown,
		Relationship: domain.RelUnknown,
		Match:        func(string) bool { return true },
	})
	for _, r := range c.rules {
		c.byName[r.Name] = r
	}
	c.role = rolePattern(cfg.Classify.RolePrefixes)
	return c, nil
}

// Rules lists rule names in evaluation order.
func (c *Classifier) Rules() []string {
	out := make([]string, len(c.rules))
	for i, r := range c.rules {
		out[i] = r.Name
	}
	return out
}

// Lookup returns the rule with the given name.
func (c *Classifier) Lookup(name string) (Rule, bool) {
	r, ok := c.byName[name]
	return r, ok
}

// Classify decides category and relationship for ct. Precedence: keep
// override, role address, domain rules in order, NMLS signal, fallback.
func (c *Classifier) Classify(ct *domain.Contact) (domain.Classification, domain.Relationship) {
	eng := Engagement(ct.Stats.Sent, ct.Stats.Received)
	_, dom, _ := domain.SplitEmail(ct.Email)

	if ov, ok := c.keepOverride(ct); ok {
		base, _ := c.byDomain(ct, dom)
		cl := domain.Classification{
			Type:       base.Category,
			Rule:       "override:" + ov.Match,
			Engagement: eng,
			Pinned:     true,
		}
		rel := domain.Relationship{Type: base.Relationship, Rule: cl.Rule}
		if ov.Category != "" {
			cl.Type = domain.Category(ov.Category)
		}
		if ov.Relationship != "" {
			rel.Type = domain.RelationshipType(ov.Relationship)
		}
		return cl, rel
	}

	if c.IsRoleAddress(ct.Email) {
		cl := domain.Classification{
			Type:       domain.CatAutomated,
			Rule:       RuleRole,
			Engagement: eng,
			NonHuman:   true,
		}
		return cl, domain.Relationship{Type: domain.RelUnknown, Rule: RuleRole}
	}

	r, _ := c.byDomain(ct, dom)
	cl := domain.Classification{
		Type:               r.Category,
		Rule:               r.Name,
		Engagement:         eng,
		RequiresEngagement: r.RequiresEngagement,
	}
	return cl, domain.Relationship{Type: r.Relationship, Rule: r.Name}
}

// Apply writes the decision onto ct.
func (c *Classifier) Apply(ct *domain.Contact) {
	ct.Classification, ct.Relationship = c.Classify(ct)
}

func (c *Classifier) byDomain(ct *domain.Contact, dom string) (Rule, bool) {
	fallback := c.rules[len(c.rules)-1]
	if dom != "" {
		for _, r := range c.rules[:len(c.rules)-1] {
			if r.Match(dom) {
				return r, true
			}
		}
	}
	if ct.Signals.NMLS != "" {
		return Rule{
			Name:         RuleNMLS,
			Category:     domain.CatLoanOfficer,
			Relationship: domain.RelLender,
		}, true
	}
	return fallback, false
}

func (c *Classifier) keepOverride(ct *domain.Contact) (config.Override, bool) {
	for _, ov := range c.keep {
		if Matches(ov, ct) {
			return ov, true
		}
	}
	return config.Override{}, false
}

// IsRoleAddress reports whether the local part starts with a role prefix.
func (c *Classifier) IsRoleAddress(email string) bool {
	if c.role == nil {
		return false
	}
	local, _, ok := domain.SplitEmail(domain.NormalizeEmail(email))
	return ok && c.role.MatchString(local)
}

// Engagement derives directionality from counters alone.
func Engagement(sent, received int) domain.Engagement {
	switch {
	case sent > 0 && received > 0:
		return domain.EngBidirectional
	case received > 0:
		return domain.EngInboundOnly
	case sent > 0:
		return domain.EngOutboundOnly
	default:
		return domain.EngNoData
	}
}

// Matches reports whether the override's pattern is a case-insensitive
// substring of the selected contact field.
func Matches(ov config.Override, ct *domain.Contact) bool {
	pat := strings.ToLower(strings.TrimSpace(ov.Match))
	if pat == "" {
		return false
	}
	var field string
	switch ov.Field {
	case "name":
		field = ct.Name
	case "local":
		field, _, _ = domain.SplitEmail(ct.Email)
	default:
		field = ct.Email
	}
	return strings.Contains(strings.ToLower(field), pat)
}

// domainMatcher matches exact domains (or their registrable domain) and
// substring keywords.
func domainMatcher(domains, keywords []string) func(string) bool {
	exact := map[string]bool{}
	for _, d := range domains {
		exact[strings.ToLower(strings.TrimSpace(d))] = true
	}
	var needles []string
	for _, a := range keywords {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			needles = append(needles, a)
		}
	}
	return func(dom string) bool {
		dom = strings.ToLower(dom)
		if exact[dom] {
			return true
		}
		if len(exact) > 0 {
			if reg, err := publicsuffix.EffectiveTLDPlusOne(dom); err == nil && exact[reg] {
				return true
			}
		}
		for _, n := range needles {
			if strings.Contains(dom, n) {
				return true
			}
		}
		return false
	}
}

func rolePattern(prefixes []string) *regexp.Regexp {
	var alts []string
	for _, p := range prefixes {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			alts = append(alts, regexp.QuoteMeta(p))
		}
	}
	if len(alts) == 0 {
		return nil
	}
	return regexp.MustCompile(`^(?:` + strings.Join(alts, "|") + `)(?:$|[._+\-0-9])`)
}
