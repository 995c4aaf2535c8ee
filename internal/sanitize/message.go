package sanitize

import (
	"bytes"
	"io"
	"regexp"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

const maxPartBytes = 6 << 20

// Parts holds the best text/plain and text/html bodies of a message.
type Parts struct {
	Plain string
	HTML  string
}

// ParseParts walks the MIME tree of raw and keeps the longest plain and html
// parts. ok is false when raw is not parseable as a message at all.
func ParseParts(raw []byte) (parts Parts, ok bool) {
	defer func() {
		// go-message is robust, but a truncated archive entry must never take a batch down.
		if rec := recover(); rec != nil {
			parts, ok = Parts{}, false
		}
	}()

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return Parts{}, false
	}
	if mr == nil {
		return Parts{}, false
	}
	defer mr.Close()

	for {
		p, err := mr.NextPart()
		if err != nil {
			// io.EOF, or a part we cannot decode: keep what we have
			break
		}

		h, isInline := p.Header.(*mail.InlineHeader)
		if !isInline {
			continue
		}
		ct, _, _ := h.ContentType()
		ct = strings.ToLower(ct)
		if ct == "" {
			ct = "text/plain"
		}

		b, _ := io.ReadAll(io.LimitReader(p.Body, maxPartBytes))
		switch {
		case strings.HasPrefix(ct, "text/plain"):
			if len(b) > len(parts.Plain) {
				parts.Plain = string(b)
			}
		case strings.HasPrefix(ct, "text/html"):
			if len(b) > len(parts.HTML) {
				parts.HTML = string(b)
			}
		}
	}
	return parts, true
}

// Body returns the sanitized human-authored text of a raw RFC 822 message.
func Body(raw []byte) string {
	parts, ok := ParseParts(raw)
	switch {
	case !ok:
		return Text(string(raw))
	case strings.TrimSpace(parts.Plain) != "":
		return Text(parts.Plain)
	case parts.HTML != "":
		return Text(HTMLToText(parts.HTML))
	default:
		return ""
	}
}

var (
	reQuoteIntro  = regexp.MustCompile(`(?i)^on\s.{4,200}\swrote:?$`)
	reOriginalMsg = regexp.MustCompile(`(?i)^-{2,}\s*(original message|forwarded message)\s*-{2,}$`)
	reFwdHeader   = regexp.MustCompile(`(?i)^(from|sent|to|cc|subject|date):\s`)
	reMobileSent  = regexp.MustCompile(`(?i)^sent from my\s`)
)

// StripQuoted drops quoted replies and forwarded blocks from a sanitized body.
func StripQuoted(body string) string {
	lines := strings.Split(body, "\n")
	for i, ln := range lines {
		t := strings.TrimSpace(ln)
		switch {
		case strings.HasPrefix(t, ">"),
			reQuoteIntro.MatchString(t),
			reOriginalMsg.MatchString(t):
			return strings.Join(lines[:i], "\n")
		case reFwdHeader.MatchString(t) && i+1 < len(lines) && reFwdHeader.MatchString(strings.TrimSpace(lines[i+1])):
			return strings.Join(lines[:i], "\n")
		}
	}
	return body
}

// Signature returns the trailing signature block of a sanitized body: the
// text after the last "--" delimiter, or else the last maxLines non-empty lines.
func Signature(body string, maxLines int) string {
	lines := strings.Split(StripQuoted(body), "\n")

	kept := lines[:0:0]
	for _, ln := range lines {
		if reMobileSent.MatchString(strings.TrimSpace(ln)) {
			continue
		}
		kept = append(kept, ln)
	}

	for i := len(kept) - 1; i >= 0; i-- {
		if strings.TrimSpace(kept[i]) == "--" {
			return collapse(strings.Join(kept[i+1:], "\n"))
		}
	}

	if maxLines <= 0 {
		return ""
	}
	var nonEmpty []string
	for _, ln := range kept {
		if strings.TrimSpace(ln) != "" {
			nonEmpty = append(nonEmpty, ln)
		}
	}
	if len(nonEmpty) > maxLines {
		nonEmpty = nonEmpty[len(nonEmpty)-maxLines:]
	}
	return collapse(strings.Join(nonEmpty, "\n"))
}
