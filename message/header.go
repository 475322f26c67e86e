// Package message builds RFC 5322 messages with MIME multipart bodies:
// a typed, ordered header model, a Part tree with transfer-encoding
// selection, and a builder that assembles both into a wire-ready byte
// stream and a derived envelope.
package message

import (
	"bytes"
	"fmt"
	"mime"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/submitkit/mailsubmit"
)

// maxUnfoldedColumns is the preferred maximum column width for an
// unfolded header line before a fold point is inserted (RFC 5322 §2.1.1
// recommends 78; hard limit is 998, enforced separately).
const maxUnfoldedColumns = 78

// maxHeaderLineOctets is the hard RFC 5322 §2.1.1 line length limit.
const maxHeaderLineOctets = 998

// maxEncodedWordOctets bounds each individual RFC 2047 encoded-word so
// that, once wrapped in "=?UTF-8?Q?...?=", the whole token stays at or
// under 75 octets as RFC 2047 §2 requires.
const maxEncodedWordOctets = 75

// Field is one header name/value pair as inserted by the caller. Value is
// the semantic content (never pre-folded or pre-encoded); Set.Render does
// both at emission time.
type Field struct {
	Name  string
	Value string
}

// Set is an ordered, case-insensitive collection of header fields.
// Insertion order is preserved on emission (spec: "Ordering of insertion
// is preserved on emission. Case-insensitive name equality.").
type Set struct {
	fields []Field
}

// NewSet returns an empty header set.
func NewSet() *Set {
	return &Set{}
}

func canonicalName(name string) string {
	return strings.ToLower(name)
}

// Set replaces every existing field named name with a single field
// carrying value, preserving the position of the first occurrence (or
// appending if name was absent).
func (s *Set) Set(name, value string) {
	target := canonicalName(name)
	for i, f := range s.fields {
		if canonicalName(f.Name) == target {
			s.fields[i].Value = value
			s.removeAfter(i, target)
			return
		}
	}
	s.fields = append(s.fields, Field{Name: name, Value: value})
}

func (s *Set) removeAfter(keep int, target string) {
	out := s.fields[:keep+1]
	for _, f := range s.fields[keep+1:] {
		if canonicalName(f.Name) == target {
			continue
		}
		out = append(out, f)
	}
	s.fields = out
}

// Add appends a field, allowing multiple values for the same name.
func (s *Set) Add(name, value string) {
	s.fields = append(s.fields, Field{Name: name, Value: value})
}

// Get returns the first value for name, if present.
func (s *Set) Get(name string) (string, bool) {
	target := canonicalName(name)
	for _, f := range s.fields {
		if canonicalName(f.Name) == target {
			return f.Value, true
		}
	}
	return "", false
}

// Has reports whether name is present.
func (s *Set) Has(name string) bool {
	_, ok := s.Get(name)
	return ok
}

// Del removes every field named name.
func (s *Set) Del(name string) {
	target := canonicalName(name)
	out := s.fields[:0]
	for _, f := range s.fields {
		if canonicalName(f.Name) != target {
			out = append(out, f)
		}
	}
	s.fields = out
}

// Fields returns the fields in insertion order.
func (s *Set) Fields() []Field {
	return append([]Field(nil), s.fields...)
}

// structuredVerbatim names headers whose values are pre-formatted
// structured text (address lists, content-type parameters, dates,
// message-IDs) and must be folded but never RFC 2047 encoded, since
// encoded-words are only legal in "unstructured" and "phrase" contexts
// (RFC 2047 §5). Encodable sub-parts of these (e.g. a display-name) are
// encoded by the caller before assembling the structured value.
var structuredVerbatim = map[string]bool{
	"to":                        true,
	"cc":                        true,
	"bcc":                       true,
	"from":                      true,
	"reply-to":                  true,
	"sender":                    true,
	"date":                      true,
	"message-id":                true,
	"content-type":              true,
	"content-transfer-encoding": true,
	"content-disposition":       true,
	"mime-version":              true,
}

// Render writes every field to buf as folded, CRLF-terminated wire lines.
func (s *Set) Render(buf *bytes.Buffer) {
	for _, f := range s.fields {
		value := f.Value
		if !structuredVerbatim[canonicalName(f.Name)] && !isASCII(value) {
			value = EncodeWord(value)
		}
		writeFolded(buf, f.Name, value)
	}
}

// EncodeWord RFC 2047-encodes s as a sequence of UTF-8 encoded words, each
// split so the full "=?UTF-8?Q?...?="/"=?UTF-8?B?...?=" token stays within
// maxEncodedWordOctets. Runs of ASCII text between encodable spans are
// left unencoded and separated by folding whitespace, matching how mail
// clients render "plain text café more text" style subjects.
//
// Per spec §4.2, the encoding actually used is whichever of Q or B renders
// shorter: Q reads better for mostly-Latin text with a few accented
// characters, but B (plain base64) is more compact once most of the
// string needs escaping, e.g. non-Latin scripts.
func EncodeWord(s string) string {
	if isASCII(s) {
		return s
	}
	enc, encoded := shorterEncoding(s)
	if len(encoded) <= maxEncodedWordOctets {
		return encoded
	}
	return splitEncodedWords(s, enc)
}

// shorterEncoding returns whichever of Q- or B-encoding renders s more
// compactly, along with that rendering.
func shorterEncoding(s string) (mime.WordEncoder, string) {
	q := mime.QEncoding.Encode("UTF-8", s)
	b := mime.BEncoding.Encode("UTF-8", s)
	if len(b) < len(q) {
		return mime.BEncoding, b
	}
	return mime.QEncoding, q
}

// splitEncodedWords breaks s into multiple encoded-words using enc, each
// encoding a prefix of s short enough that its rendered form fits the
// budget.
func splitEncodedWords(s string, enc mime.WordEncoder) string {
	const overhead = len("=?UTF-8?Q??=") // "=?UTF-8?B??=" is the same length
	budget := maxEncodedWordOctets - overhead
	var words []string
	runes := []rune(s)
	for len(runes) > 0 {
		lo, hi := 1, len(runes)
		best := 1
		for lo <= hi {
			mid := (lo + hi) / 2
			candidate := enc.Encode("UTF-8", string(runes[:mid]))
			if len(candidate)-overhead <= budget {
				best = mid
				lo = mid + 1
			} else {
				hi = mid - 1
			}
		}
		words = append(words, enc.Encode("UTF-8", string(runes[:best])))
		runes = runes[best:]
	}
	return strings.Join(words, " ")
}

// writeFolded writes "Name: value\r\n", inserting CRLF+space fold points
// at whitespace boundaries so no line exceeds maxUnfoldedColumns when a
// break point is available, and never exceeds maxHeaderLineOctets.
func writeFolded(buf *bytes.Buffer, name, value string) {
	prefix := name + ": "
	line := prefix + value
	if len(line) <= maxUnfoldedColumns {
		buf.WriteString(line)
		buf.WriteString("\r\n")
		return
	}

	words := strings.Split(value, " ")
	col := len(prefix)
	buf.WriteString(prefix)
	for i, w := range words {
		sep := " "
		if i == 0 {
			sep = ""
		}
		add := len(sep) + len(w)
		if col+add > maxUnfoldedColumns && col > 0 {
			buf.WriteString("\r\n ")
			col = 1
			sep = ""
		}
		buf.WriteString(sep)
		buf.WriteString(w)
		col += len(sep) + len(w)
	}
	buf.WriteString("\r\n")
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// FormatDate renders t as an RFC 5322 §3.3 date-time (IMF-fixdate style,
// with numeric zone), e.g. "Mon, 02 Jan 2006 15:04:05 -0700".
func FormatDate(t time.Time) string {
	return t.Format("Mon, 02 Jan 2006 15:04:05 -0700")
}

// FormatAddressList renders mailboxes as a comma-separated address-list
// header value, encoding any non-ASCII display name as an RFC 2047 word.
func FormatAddressList(mailboxes []mailsubmit.Mailbox) string {
	parts := make([]string, len(mailboxes))
	for i, mb := range mailboxes {
		parts[i] = formatMailbox(mb)
	}
	return strings.Join(parts, ", ")
}

func formatMailbox(mb mailsubmit.Mailbox) string {
	if mb.Name == "" {
		return mb.Address.String()
	}
	name := mb.Name
	if !isASCII(name) {
		name = EncodeWord(name)
	} else if needsQuoting(name) {
		name = quoteWord(name)
	}
	return fmt.Sprintf("%s <%s>", name, mb.Address.String())
}

func needsQuoting(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case strings.ContainsRune("!#$%&'*+-/=?^_`{|}~. ", r):
		default:
			return true
		}
	}
	return strings.ContainsAny(s, `"\`) || strings.Contains(s, ",")
}

func quoteWord(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		if r == '"' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}

// FormatMessageID wraps a bare token@domain as an RFC 5322 msg-id:
// "<token@domain>".
func FormatMessageID(token, domain string) string {
	return fmt.Sprintf("<%s@%s>", token, domain)
}
