package message

import (
	"strings"

	"github.com/submitkit/mailsubmit"
)

// MailboxList is an ordered collection of mailboxes with a header-value
// round trip, for filling To/Cc/Bcc from one comma-separated string
// instead of one ParseAddress call per recipient. Grounded on lettre's
// message::Mailboxes convenience wrapper (see SPEC_FULL.md's supplemented
// features).
type MailboxList []mailsubmit.Mailbox

// ParseMailboxList splits s on commas and parses each entry as either a
// bare address ("jane@example.com") or a display-name form
// ("Jane Doe <jane@example.com>").
func ParseMailboxList(s string) (MailboxList, error) {
	var out MailboxList
	for _, part := range splitUnquoted(s, ',') {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		mb, err := parseMailbox(part)
		if err != nil {
			return nil, err
		}
		out = append(out, mb)
	}
	return out, nil
}

// String renders the list the way it would appear in a To/Cc header
// value, joined by ", ".
func (l MailboxList) String() string {
	parts := make([]string, len(l))
	for i, mb := range l {
		parts[i] = mb.String()
	}
	return strings.Join(parts, ", ")
}

// Addresses returns the bare addresses, in order.
func (l MailboxList) Addresses() []mailsubmit.Address {
	out := make([]mailsubmit.Address, len(l))
	for i, mb := range l {
		out[i] = mb.Address
	}
	return out
}

func parseMailbox(s string) (mailsubmit.Mailbox, error) {
	if i := strings.LastIndexByte(s, '<'); i >= 0 && strings.HasSuffix(s, ">") {
		name := strings.TrimSpace(s[:i])
		name = strings.Trim(name, `"`)
		addrPart := s[i+1 : len(s)-1]
		addr, err := mailsubmit.ParseAddress(addrPart)
		if err != nil {
			return mailsubmit.Mailbox{}, err
		}
		return mailsubmit.Mailbox{Name: name, Address: addr}, nil
	}
	addr, err := mailsubmit.ParseAddress(s)
	if err != nil {
		return mailsubmit.Mailbox{}, err
	}
	return mailsubmit.Mailbox{Address: addr}, nil
}

// splitUnquoted splits s on sep, ignoring separators inside a double-quoted
// display name (so `"Doe, Jane" <jane@example.com>, next@example.com`
// splits into two entries, not three).
func splitUnquoted(s string, sep byte) []string {
	var out []string
	var cur strings.Builder
	inQuotes := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			inQuotes = !inQuotes
			cur.WriteByte(c)
		case c == sep && !inQuotes:
			out = append(out, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	out = append(out, cur.String())
	return out
}
