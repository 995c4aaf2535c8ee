package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contactsignal-engine/internal/config"
	"contactsignal-engine/internal/domain"
)

func newTestClassifier(t *testing.T, mutate func(*config.Config)) *Classifier {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

func contact(email string) *domain.Contact {
	return &domain.Contact{Email: email}
}

func TestClassify_DefaultTable(t *testing.T) {
	c := newTestClassifier(t, nil)
	cases := []struct {
		email string
		cat   domain.Category
		rel   domain.RelationshipType
		rule  string
	}{
		{"pat@gmail.com", domain.CatBorrower, domain.RelClient, "personal_webmail"},
		{"pat@mail.yahoo.com", domain.CatBorrower, domain.RelClient, "personal_webmail"},
		{"jo@summitmortgage.com", domain.CatLoanOfficer, domain.RelLender, "mortgage_industry"},
		{"amy@kellerwilliams.com", domain.CatRealtor, domain.RelRealtor, "real_estate"},
		{"ed@firstcoasttitle.com", domain.CatTitleEscrow, domain.RelTitleEscrow, "title_escrow"},
		{"x@acme.io", domain.CatUnknown, domain.RelUnknown, RuleFallback},
	}
	for _, tc := range cases {
		cl, rel := c.Classify(contact(tc.email))
		assert.Equal(t, tc.cat, cl.Type, tc.email)
		assert.Equal(t, tc.rel, rel.Type, tc.email)
		assert.Equal(t, tc.rule, cl.Rule, tc.email)
	}
}

func TestClassify_RealtorRegardlessOfSignals(t *testing.T) {
	c := newTestClassifier(t, nil)
	ct := contact("amy@kellerwilliams.com")
	ct.Signals = domain.ExtractedSignals{
		Titles:    []string{"Loan Officer"},
		Companies: []string{"Summit Mortgage Group"},
		NMLS:      "123456",
	}
	cl, rel := c.Classify(ct)
	assert.Equal(t, domain.CatRealtor, cl.Type)
	assert.Equal(t, domain.RelRealtor, rel.Type)
}

func TestClassify_PersonalBeatsMortgage(t *testing.T) {
	c := newTestClassifier(t, func(cfg *config.Config) {
		cfg.Classify.Rules[0].Domains = append(cfg.Classify.Rules[0].Domains, "mortgagemail.com")
	})
	cl, _ := c.Classify(contact("someone@mortgagemail.com"))
	assert.Equal(t, domain.CatBorrower, cl.Type)
	assert.Equal(t, "personal_webmail", cl.Rule)
	assert.True(t, cl.RequiresEngagement)
}

func TestClassify_RuleOrderIsConfigOrder(t *testing.T) {
	c := newTestClassifier(t, func(cfg *config.Config) {
		cfg.Classify.Rules = append([]config.Rule{{
			Name:         "vendor_appraisal",
			Category:     string(domain.CatVendor),
			Relationship: string(domain.RelVendor),
			Any:          []string{"appraisal"},
		}}, cfg.Classify.Rules...)
	})
	assert.Equal(t, "vendor_appraisal", c.Rules()[0])
	assert.Equal(t, RuleFallback, c.Rules()[len(c.Rules())-1])

	cl, rel := c.Classify(contact("ops@appraisalmortgage.com"))
	assert.Equal(t, domain.CatVendor, cl.Type)
	assert.Equal(t, domain.RelVendor, rel.Type)
}

func TestClassify_RoleAddresses(t *testing.T) {
	c := newTestClassifier(t, nil)
	for _, e := range []string{"noreply@kw.com", "no-reply@gmail.com", "support@summitmortgage.com", "info.west@title.com", "Mailer-Daemon@x.com", "notifications2@bank.com"} {
		cl, rel := c.Classify(contact(e))
		assert.Equal(t, domain.CatAutomated, cl.Type, e)
		assert.True(t, cl.NonHuman, e)
		assert.Equal(t, domain.RelUnknown, rel.Type, e)
	}
	for _, e := range []string{"information@x.com", "helpful.hank@gmail.com", "adminah@kw.com"} {
		assert.False(t, c.IsRoleAddress(e), e)
	}
}

func TestClassify_KeepOverride(t *testing.T) {
	c := newTestClassifier(t, func(cfg *config.Config) {
		cfg.Overrides.Keep = []config.Override{
			{Match: "info@smalltitleco.com", Category: "title_escrow", Relationship: "title_escrow"},
			{Match: "grandma", Field: "name", Relationship: "personal"},
		}
	})

	cl, rel := c.Classify(contact("info@smalltitleco.com"))
	assert.Equal(t, domain.CatTitleEscrow, cl.Type)
	assert.Equal(t, domain.RelTitleEscrow, rel.Type)
	assert.True(t, cl.Pinned)
	assert.False(t, cl.NonHuman)

	ct := contact("rose@gmail.com")
	ct.Name = "Grandma Rose"
	cl, rel = c.Classify(ct)
	assert.True(t, cl.Pinned)
	assert.Equal(t, domain.CatBorrower, cl.Type)
	assert.Equal(t, domain.RelPersonal, rel.Type)
}

func TestClassify_NMLSSignalBeforeFallback(t *testing.T) {
	c := newTestClassifier(t, nil)
	ct := contact("jo@acme.io")
	ct.Signals.NMLS = "445566"
	cl, _ := c.Classify(ct)
	assert.Equal(t, domain.CatLoanOfficer, cl.Type)
	assert.Equal(t, RuleNMLS, cl.Rule)
}

func TestEngagement(t *testing.T) {
	assert.Equal(t, domain.EngBidirectional, Engagement(2, 1))
	assert.Equal(t, domain.EngInboundOnly, Engagement(0, 3))
	assert.Equal(t, domain.EngOutboundOnly, Engagement(1, 0))
	assert.Equal(t, domain.EngNoData, Engagement(0, 0))
}

func TestClassify_EngagementIndependentOfCategory(t *testing.T) {
	c := newTestClassifier(t, nil)
	ct := contact("noreply@x.com")
	ct.Stats.Sent, ct.Stats.Received = 1, 1
	cl, _ := c.Classify(ct)
	assert.Equal(t, domain.EngBidirectional, cl.Engagement)
}

func TestNew_RejectsUnknownCategory(t *testing.T) {
	cfg := config.Default()
	cfg.Classify.Rules[0].Category = "astronaut"
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestMatches(t *testing.T) {
	ct := &domain.Contact{Email: "jane.doe@corp.com", Name: "Jane Doe"}
	assert.True(t, Matches(config.Override{Match: "CORP.com"}, ct))
	assert.True(t, Matches(config.Override{Match: "doe", Field: "name"}, ct))
	assert.True(t, Matches(config.Override{Match: "jane.", Field: "local"}, ct))
	assert.False(t, Matches(config.Override{Match: "corp", Field: "local"}, ct))
	assert.False(t, Matches(config.Override{Match: "  "}, ct))
}
