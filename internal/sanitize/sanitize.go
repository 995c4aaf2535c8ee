// Package sanitize turns raw email bodies into plain text that the signature
// extractor can work on line by line. Nothing in here returns an error:
// malformed input degrades to a raw-text passthrough.
package sanitize

import (
	"html"
	"io"
	"mime/quotedprintable"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	reTags       = regexp.MustCompile(`(?is)<[^>]+>`)
	reHTMLish    = regexp.MustCompile(`(?i)<(html|body|div|p|br|table|span|font|a\s)[^>]*>`)
	reQPEscape   = regexp.MustCompile(`=([0-9A-Fa-f]{2})`)
	reQPSoftWrap = regexp.MustCompile(`=\r?\n`)
	reQPHint     = regexp.MustCompile(`=(?:[0-9A-F]{2}|\r?\n)`)
	reBoundary   = regexp.MustCompile(`^--[-_=.A-Za-z0-9]{8,}(--)?$`)
	rePartHeader = regexp.MustCompile(`(?i)^(content-(type|transfer-encoding|disposition|id)|mime-version):`)
	reHSpace     = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)
)

// Text decodes quoted-printable escapes, drops MIME scaffolding and HTML,
// collapses whitespace within each line and trims. Line breaks survive.
func Text(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = DecodeQuotedPrintable(s)
	s = dropMIMEScaffolding(s)
	if LooksLikeHTML(s) {
		s = HTMLToText(s)
	} else if strings.ContainsRune(s, '<') {
		s = reTags.ReplaceAllString(s, " ")
	}
	s = html.UnescapeString(s)
	return collapse(s)
}

// Flatten collapses all whitespace, line breaks included, into single spaces.
func Flatten(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// DecodeQuotedPrintable decodes =XY escapes and soft line breaks when the
// text looks quoted-printable. Decoding is lenient: a broken escape is kept as-is.
func DecodeQuotedPrintable(s string) string {
	if !reQPHint.MatchString(s) {
		return s
	}
	out, err := io.ReadAll(quotedprintable.NewReader(strings.NewReader(s)))
	if err == nil {
		return string(out)
	}
	// stdlib reader is strict about malformed sequences; fall back to a lenient pass.
	s = reQPSoftWrap.ReplaceAllString(s, "")
	return reQPEscape.ReplaceAllStringFunc(s, func(m string) string {
		b, perr := strconv.ParseUint(m[1:], 16, 8)
		if perr != nil {
			return m
		}
		return string([]byte{byte(b)})
	})
}

func LooksLikeHTML(s string) bool {
	return reHTMLish.MatchString(s)
}

// HTMLToText renders the visible text of an HTML fragment, keeping block
// boundaries as line breaks.
func HTMLToText(s string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return reTags.ReplaceAllString(s, " ")
	}
	doc.Find("script,style,head,title").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p,div,tr,li,table,h1,h2,h3,h4,h5,h6,blockquote").Each(func(_ int, sel *goquery.Selection) {
		sel.AppendHtml("\n")
	})
	return doc.Text()
}

func dropMIMEScaffolding(s string) string {
	if !strings.Contains(s, "--") && !strings.Contains(strings.ToLower(s), "content-") {
		return s
	}
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, ln := range lines {
		t := strings.TrimSpace(ln)
		if reBoundary.MatchString(t) || rePartHeader.MatchString(t) {
			continue
		}
		out = append(out, ln)
	}
	return strings.Join(out, "\n")
}

func collapse(s string) string {
	var out []string
	prevBlank := true
	for _, ln := range strings.Split(s, "\n") {
		ln = strings.TrimSpace(reHSpace.ReplaceAllString(ln, " "))
		if ln == "" {
			if !prevBlank {
				out = append(out, "")
			}
			prevBlank = true
			continue
		}
		out = append(out, ln)
		prevBlank = false
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
