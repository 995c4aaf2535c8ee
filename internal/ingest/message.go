// Package ingest reads mail from IMAP, mbox archives and .eml directories and
// folds it into per-contact evidence for the pipeline.
package ingest

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"contactsignal-engine/internal/domain"
)

var ErrNoSender = errors.New("message has no sender")

type Address struct {
	Name  string
	Email string
}

// Message is one raw RFC 822 message plus the headers ingestion needs.
type Message struct {
	ID      string
	Source  string
	From    []Address
	To      []Address
	Cc      []Address
	Date    time.Time
	Subject string
	Raw     []byte
}

// ParseMessage reads the header block of raw. Malformed address lists and
// dates degrade to empty values; only a missing sender is an error.
func ParseMessage(raw []byte, source string) (Message, error) {
	th, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return Message{}, fmt.Errorf("read header: %w", err)
	}
	h := mail.Header{Header: message.Header{Header: th}}

	m := Message{Source: source, Raw: raw}
	m.ID, _ = h.MessageID()
	m.Subject, _ = h.Subject()
	if d, err := h.Date(); err == nil {
		m.Date = d.UTC()
	}
	m.From = addressList(h, "From")
	m.To = addressList(h, "To")
	m.Cc = addressList(h, "Cc")

	if len(m.From) == 0 {
		return m, ErrNoSender
	}
	return m, nil
}

func addressList(h mail.Header, key string) []Address {
	list, err := h.AddressList(key)
	if err != nil {
		// Fall back to a bare address scan for headers net/mail rejects.
		return looseAddresses(h.Get(key))
	}
	out := make([]Address, 0, len(list))
	for _, a := range list {
		if a == nil || a.Address == "" {
			continue
		}
		out = append(out, Address{Name: strings.TrimSpace(a.Name), Email: domain.NormalizeEmail(a.Address)})
	}
	return out
}

func looseAddresses(v string) []Address {
	var out []Address
	for _, f := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ';' || r == ' ' }) {
		f = domain.NormalizeEmail(f)
		if _, _, ok := domain.SplitEmail(f); ok {
			out = append(out, Address{Email: f})
		}
	}
	return out
}
