package httpapi

import (
	"net/http"
	"net/url"
	"strings"

	"contactsignal-engine/internal/domain"
)

type ContactsHandler struct {
	Runner RunService
}

type contactList struct {
	Version  int               `json:"version"`
	Total    int               `json:"total"`
	Contacts []*domain.Contact `json:"contacts"`
}

// List returns contacts sorted by email. Optional filters: category,
// relationship, quality and q (substring of email, name or company).
func (h ContactsHandler) List(w http.ResponseWriter, r *http.Request) {
	cs, version, ok := h.load(w, r)
	if !ok {
		return
	}

	qs := r.URL.Query()
	category := qs.Get("category")
	relationship := qs.Get("relationship")
	quality := qs.Get("quality")
	needle := strings.ToLower(strings.TrimSpace(qs.Get("q")))

	out := contactList{Version: version, Total: len(cs), Contacts: []*domain.Contact{}}
	for _, email := range cs.Emails() {
		c := cs[email]
		if category != "" && string(c.Classification.Type) != category {
			continue
		}
		if relationship != "" && string(c.Relationship.Type) != relationship {
			continue
		}
		if quality != "" && string(c.SignatureQuality) != quality {
			continue
		}
		if needle != "" && !matchesNeedle(c, needle) {
			continue
		}
		out.Contacts = append(out.Contacts, c)
	}
	writeJSON(w, out)
}

// GetByPath expects /contacts/{email}.
func (h ContactsHandler) GetByPath(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.URL.Path, "/contacts/")
	email, err := url.PathUnescape(raw)
	if err != nil || strings.TrimSpace(email) == "" {
		WriteError(w, r, http.StatusBadRequest, "bad_request", "missing or invalid email")
		return
	}
	cs, _, ok := h.load(w, r)
	if !ok {
		return
	}
	c, found := cs.Get(email)
	if !found {
		WriteError(w, r, http.StatusNotFound, "not_found", "no contact "+email)
		return
	}
	writeJSON(w, c)
}

func (h ContactsHandler) load(w http.ResponseWriter, r *http.Request) (domain.ContactSet, int, bool) {
	cs, version, err := h.Runner.Contacts()
	if err != nil {
		WriteEngineError(w, r, err)
		return nil, 0, false
	}
	return cs, version, true
}

func matchesNeedle(c *domain.Contact, needle string) bool {
	if strings.Contains(c.Email, needle) || strings.Contains(strings.ToLower(c.Name), needle) {
		return true
	}
	for _, co := range c.Signals.Companies {
		if strings.Contains(strings.ToLower(co), needle) {
			return true
		}
	}
	return false
}
