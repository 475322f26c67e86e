package message

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"mime/quotedprintable"
	"strings"
)

// TransferEncoding names a Content-Transfer-Encoding value (RFC 2045 §6).
type TransferEncoding string

const (
	SevenBit        TransferEncoding = "7bit"
	EightBit        TransferEncoding = "8bit"
	Binary          TransferEncoding = "binary"
	QuotedPrintable TransferEncoding = "quoted-printable"
	Base64          TransferEncoding = "base64"
)

// Subtype names a multipart subtype (RFC 2046).
type Subtype string

const (
	Mixed       Subtype = "mixed"
	Alternative Subtype = "alternative"
	Related     Subtype = "related"
	Digest      Subtype = "digest"
)

// Content-Type shorthand constants (supplemented feature: lettre exposes
// these as ContentType::TEXT_PLAIN etc. so callers don't hand-type MIME
// type strings for the common cases).
const (
	TypeTextPlain  = "text/plain; charset=UTF-8"
	TypeTextHTML   = "text/html; charset=UTF-8"
	TypeOctetStream = "application/octet-stream"
)

// Part is the sum type of the MIME body tree (spec §3 "Part"). It is
// either a *Single leaf or a *Multipart branch.
type Part interface {
	part()
}

// Single is a leaf part: headers plus opaque body bytes.
type Single struct {
	Header *Set
	Body   []byte

	// Textual tells the transfer-encoding selection rule (§4.3) whether
	// Body should be treated as text (eligible for 7bit/8bit/
	// quoted-printable) or binary (always base64). Set by whoever built
	// this Single — the encoder does not sniff content.
	Textual bool

	// Encoding overrides automatic transfer-encoding selection when
	// non-empty. Leave empty to let EncodeOptions decide at serialize time.
	Encoding TransferEncoding
}

func (*Single) part() {}

// NewTextPart returns a Single part with the given Content-Type (typically
// one of the Type* constants) and text body.
func NewTextPart(contentType string, body []byte) *Single {
	h := NewSet()
	h.Set("Content-Type", contentType)
	return &Single{Header: h, Body: body, Textual: true}
}

// NewBinaryPart returns a Single part for an attachment: contentType,
// filename (used for Content-Disposition), and raw bytes.
func NewBinaryPart(contentType, filename string, body []byte) *Single {
	h := NewSet()
	if contentType == "" {
		contentType = TypeOctetStream
	}
	h.Set("Content-Type", contentType)
	h.Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	return &Single{Header: h, Body: body, Textual: false}
}

// Multipart is a branch part: a subtype and an ordered list of children.
type Multipart struct {
	Subtype  Subtype
	Header   *Set // additional headers beyond Content-Type; may be nil
	Children []Part

	boundary string
}

func (*Multipart) part() {}

// NewMultipart returns an empty Multipart of the given subtype.
func NewMultipart(subtype Subtype, children ...Part) *Multipart {
	return &Multipart{Subtype: subtype, Children: children}
}

// AlternativeBody is a supplemented builder helper (grounded on lettre's
// MultiPart::alternative_plain_html) that assembles the common
// text+HTML multipart/alternative pairing in one call.
func AlternativeBody(text, html string) *Multipart {
	return NewMultipart(Alternative,
		NewTextPart(TypeTextPlain, []byte(text)),
		NewTextPart(TypeTextHTML, []byte(html)),
	)
}

// EncodeOptions carries the transport-supplied facts the encoder needs at
// serialize time to apply §4.3's transfer-encoding rule and §9's resolved
// open question ("the encoder never guesses; it is told"): whether 8-bit
// data is safe to send unencoded (8BITMIME was negotiated) and whether
// SMTPUTF8 is in effect for this submission.
type EncodeOptions struct {
	EightBitSafe bool
	SMTPUTF8     bool
}

// selectEncoding applies spec §4.3's transfer-encoding selection rule.
func selectEncoding(p *Single, opts EncodeOptions) TransferEncoding {
	if p.Encoding != "" {
		return p.Encoding
	}
	if !p.Textual {
		return Base64
	}
	if isSevenBitClean(p.Body) {
		return SevenBit
	}
	if opts.EightBitSafe || opts.SMTPUTF8 {
		return EightBit
	}
	return QuotedPrintable
}

// isSevenBitClean reports whether b is pure 7-bit ASCII with no line
// exceeding 998 octets (spec §4.3 rule 1, §8 property 1/2). Bodies are
// stored internally as LF (spec §4.3 "Internal storage may be LF;
// normalization happens once during serialization"), so a bare LF is not
// disqualifying here — only line length and the ASCII range matter,
// matching the original's is_7bit_encoded/contains_too_long_lines, which
// splits purely on '\n' and never inspects CR placement.
func isSevenBitClean(b []byte) bool {
	lineLen := 0
	for i := 0; i < len(b); i++ {
		c := b[i]
		if c >= 0x80 {
			return false
		}
		if c == '\n' {
			lineLen = 0
			continue
		}
		lineLen++
		if lineLen > 998 {
			return false
		}
	}
	return true
}

// EncodeBody renders p's body per its selected transfer encoding and
// returns the encoding used alongside the encoded bytes.
func EncodeBody(p *Single, opts EncodeOptions) (TransferEncoding, []byte) {
	enc := selectEncoding(p, opts)
	switch enc {
	case SevenBit, EightBit, Binary:
		return enc, normalizeCRLF(p.Body)
	case QuotedPrintable:
		var buf bytes.Buffer
		w := quotedprintable.NewWriter(&buf)
		w.Write(normalizeLF(p.Body))
		w.Close()
		return enc, normalizeCRLF(buf.Bytes())
	case Base64:
		var buf bytes.Buffer
		base64Wrap(&buf, p.Body)
		return enc, buf.Bytes()
	}
	return enc, p.Body
}

// base64Wrap encodes b and wraps output at 76 octets per line, CRLF
// terminated (RFC 2045 §6.8), grounded on BourgeoisBear-email.v2's
// base64Wrap technique.
func base64Wrap(w *bytes.Buffer, b []byte) {
	const maxLineOctets = 76
	const rawPerLine = maxLineOctets / 4 * 3 // 57
	for len(b) >= rawPerLine {
		line := make([]byte, base64.StdEncoding.EncodedLen(rawPerLine))
		base64.StdEncoding.Encode(line, b[:rawPerLine])
		w.Write(line)
		w.WriteString("\r\n")
		b = b[rawPerLine:]
	}
	if len(b) > 0 {
		line := make([]byte, base64.StdEncoding.EncodedLen(len(b)))
		base64.StdEncoding.Encode(line, b)
		w.Write(line)
		w.WriteString("\r\n")
	}
}

// normalizeLF collapses CRLF and bare CR to LF, for input to
// quotedprintable.Writer which expects plain-text line semantics.
func normalizeLF(b []byte) []byte {
	s := strings.ReplaceAll(string(b), "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return []byte(s)
}

// normalizeCRLF converts every LF (bare or CRLF-preceded) to CRLF, so that
// all line terminators on the wire are CRLF regardless of how the caller
// or an intermediate encoder produced its output (spec §4.3, §8 property 2).
func normalizeCRLF(b []byte) []byte {
	s := strings.ReplaceAll(string(b), "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, "\n", "\r\n")
	return []byte(s)
}

// newBoundary draws a 48-octet URL-safe base64 boundary token from a
// cryptographic RNG (spec §4.3 "a 48-64 octet token").
func newBoundary() (string, error) {
	raw := make([]byte, 36) // base64-encodes to 48 octets
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
