package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestText_DecodesQuotedPrintable(t *testing.T) {
	in := "Jane=20Doe\nLoan Off=\nicer\nNMLS=3A 123456"
	assert.Equal(t, "Jane Doe\nLoan Officer\nNMLS: 123456", Text(in))
}

func TestText_LenientOnBrokenEscape(t *testing.T) {
	// "=ZZ" is not a valid escape and must survive decoding.
	out := Text("Price=ZZ and caf=C3=A9")
	assert.Equal(t, "Price=ZZ and café", out)
}

func TestText_StripsHTML(t *testing.T) {
	in := `<div>John Smith</div><div>Loan Officer<br>(310) 555-0199</div><style>p{color:red}</style>`
	assert.Equal(t, "John Smith\nLoan Officer\n(310) 555-0199", Text(in))
}

func TestText_DropsMIMEScaffolding(t *testing.T) {
	in := strings.Join([]string{
		"--000000000000abcdef12",
		"Content-Type: text/plain; charset=UTF-8",
		"Content-Transfer-Encoding: 7bit",
		"",
		"Hello   there",
		"--000000000000abcdef12--",
	}, "\n")
	assert.Equal(t, "Hello there", Text(in))
}

func TestText_CollapsesWhitespace(t *testing.T) {
	in := "  a \t b  \n\n\n\n c  d  "
	assert.Equal(t, "a b\n\nc d", Text(in))
	assert.Equal(t, "a b c d", Flatten(Text(in)))
}

func TestText_Empty(t *testing.T) {
	assert.Equal(t, "", Text(""))
	assert.Equal(t, "", Text(" \n\t "))
}

const multipartMsg = "From: Jane Doe <jane@kw.com>\n" +
	"To: me@example.com\n" +
	"Subject: Hi\n" +
	"MIME-Version: 1.0\n" +
	"Content-Type: multipart/alternative; boundary=\"XYZ\"\n" +
	"\n" +
	"--XYZ\n" +
	"Content-Type: text/plain; charset=utf-8\n" +
	"Content-Transfer-Encoding: quoted-printable\n" +
	"\n" +
	"Thanks!=20\n" +
	"--=20\n" +
	"Jane Doe\n" +
	"Realtor=C2=AE\n" +
	"--XYZ\n" +
	"Content-Type: text/html; charset=utf-8\n" +
	"\n" +
	"<div>Thanks from html</div>\n" +
	"--XYZ--\n"

func TestBody_PrefersPlainPart(t *testing.T) {
	body := Body([]byte(multipartMsg))
	assert.Equal(t, "Thanks!\n--\nJane Doe\nRealtor®", body)
	assert.Equal(t, "Jane Doe\nRealtor®", Signature(body, 5))
}

func TestBody_FallsBackToHTML(t *testing.T) {
	raw := "From: a@b.com\n" +
		"Content-Type: text/html; charset=utf-8\n" +
		"\n" +
		"<html><body><p>Bob Lee</p><p>Escrow Officer</p></body></html>\n"
	assert.Equal(t, "Bob Lee\nEscrow Officer", Body([]byte(raw)))
}

func TestBody_MalformedPassesThrough(t *testing.T) {
	raw := "John Smith\nLoan Officer\n(310) 555-0199"
	assert.Equal(t, raw, Body([]byte(raw)))
}

func TestBody_NeverPanics(t *testing.T) {
	inputs := []string{
		"",
		"Content-Type: multipart/mixed; boundary=\n\n--\n",
		"Content-Type: multipart/mixed; boundary=\"b\"\n\n--b\nContent-Type: text/plain\n\nunterminated",
		"Content-Transfer-Encoding: base64\n\n!!!not base64!!!",
	}
	for _, in := range inputs {
		require.NotPanics(t, func() { _ = Body([]byte(in)) }, "input %q", in)
	}
}

func TestSignature_LastLinesWithoutDelimiter(t *testing.T) {
	body := "Hi Bob,\nSee attached.\nThanks\nJohn Smith\nLoan Officer\n(310) 555-0199"
	assert.Equal(t, "John Smith\nLoan Officer\n(310) 555-0199", Signature(body, 3))
	assert.Equal(t, "", Signature(body, 0))
}

func TestSignature_StripsQuotedReply(t *testing.T) {
	body := strings.Join([]string{
		"Sounds good.",
		"Ann Lee",
		"Title Officer",
		"Sent from my iPhone",
		"On Mon, Jan 6, 2025 at 9:00 AM Bob <bob@x.com> wrote:",
		"> previous message",
		"> Bob Quoted",
	}, "\n")
	assert.Equal(t, "Ann Lee\nTitle Officer", Signature(body, 2))
}

func TestSignature_StripsForwardedHeaders(t *testing.T) {
	body := "FYI\nMark\nFrom: Someone <s@x.com>\nSent: Monday\nSubject: hello\nbody text"
	assert.Equal(t, "FYI\nMark", Signature(body, 10))
}
