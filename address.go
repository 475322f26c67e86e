package mailsubmit

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
	"golang.org/x/text/unicode/norm"
)

// Address represents an email address as local-part@domain (RFC 5321 §4.1.2).
//
// Domain always holds the ASCII form used on the wire (an A-label per RFC
// 5891 when the original domain was internationalized). UDomain holds the
// original Unicode U-label form and is empty when the domain was already
// ASCII; callers that have negotiated SMTPUTF8 may emit UDomain instead of
// Domain.
type Address struct {
	LocalPart string
	Domain    string
	UDomain   string
}

// InvalidAddress reports a validation failure encountered while parsing or
// constructing an Address (spec §4.1).
type InvalidAddress struct {
	Input  string
	Reason string
}

func (e *InvalidAddress) Error() string {
	if e.Input == "" {
		return fmt.Sprintf("mailsubmit: invalid address: %s", e.Reason)
	}
	return fmt.Sprintf("mailsubmit: invalid address %q: %s", e.Input, e.Reason)
}

func invalidAddress(input, reason string) error {
	return &InvalidAddress{Input: input, Reason: reason}
}

// String returns the mailbox formatted as "local-part@domain", using the
// ASCII domain form.
func (a Address) String() string {
	if a.LocalPart == "" && a.Domain == "" {
		return ""
	}
	return a.LocalPart + "@" + a.Domain
}

// UnicodeString returns the address using the original Unicode domain form
// when available, for SMTPUTF8-capable transports.
func (a Address) UnicodeString() string {
	if a.UDomain != "" {
		return a.LocalPart + "@" + a.UDomain
	}
	return a.String()
}

// IsZero reports whether the address is empty.
func (a Address) IsZero() bool {
	return a.LocalPart == "" && a.Domain == ""
}

// Mailbox pairs an optional display name with an Address (spec §3).
type Mailbox struct {
	Name    string // Unicode display name, empty if unset.
	Address Address
}

// String formats the mailbox as it would appear unencoded in a header,
// e.g. `Jane Doe <jane@example.com>` or bare `jane@example.com`.
func (m Mailbox) String() string {
	if m.Name == "" {
		return m.Address.String()
	}
	return quoteDisplayName(m.Name) + " <" + m.Address.String() + ">"
}

func quoteDisplayName(name string) string {
	if isAtomPhrase(name) {
		return name
	}
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range name {
		if r == '"' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}

// isAtomPhrase reports whether name can be emitted unquoted as a sequence of
// RFC 5322 atoms separated by single spaces.
func isAtomPhrase(name string) bool {
	if name == "" {
		return false
	}
	for _, word := range strings.Split(name, " ") {
		if word == "" {
			return false
		}
		for _, r := range word {
			if !isPhraseAtext(r) {
				return false
			}
		}
	}
	return true
}

func isPhraseAtext(r rune) bool {
	if r > 127 {
		return false // Non-ASCII always goes through encoded-word or quoting.
	}
	return isAtext(r)
}

// ParseAddress parses "local-part@domain" (no angle brackets, no display
// name) into an Address.
func ParseAddress(s string) (Address, error) {
	if s == "" {
		return Address{}, invalidAddress(s, "empty address")
	}

	at := strings.LastIndexByte(s, '@')
	if at < 0 {
		return Address{}, invalidAddress(s, "missing @")
	}
	if at == 0 {
		return Address{}, invalidAddress(s, "empty local-part")
	}
	if at == len(s)-1 {
		return Address{}, invalidAddress(s, "empty domain")
	}

	local := s[:at]
	domain := s[at+1:]

	if err := validateLocalPart(local); err != nil {
		return Address{}, err
	}

	asciiDomain, uDomain, err := normalizeDomain(domain)
	if err != nil {
		return Address{}, err
	}
	if err := validateDomain(asciiDomain); err != nil {
		return Address{}, err
	}
	if len(local)+1+len(asciiDomain) > 254 {
		return Address{}, invalidAddress(s, "address exceeds 254 octets")
	}

	return Address{LocalPart: local, Domain: asciiDomain, UDomain: uDomain}, nil
}

// ParseMailbox parses "Display Name <local@domain>" or bare "local@domain"
// into a Mailbox.
func ParseMailbox(s string) (Mailbox, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Mailbox{}, invalidAddress(s, "empty mailbox")
	}

	if lt := strings.IndexByte(s, '<'); lt >= 0 {
		gt := strings.LastIndexByte(s, '>')
		if gt < lt {
			return Mailbox{}, invalidAddress(s, "unbalanced angle brackets")
		}
		name := strings.TrimSpace(s[:lt])
		addrPart := strings.TrimSpace(s[lt+1 : gt])
		name = unquotePhrase(name)
		addr, err := ParseAddress(addrPart)
		if err != nil {
			return Mailbox{}, err
		}
		return Mailbox{Name: name, Address: addr}, nil
	}

	if !strings.Contains(s, "@") {
		return Mailbox{}, invalidAddress(s, "no @ and no angle-bracketed address")
	}
	addr, err := ParseAddress(s)
	if err != nil {
		return Mailbox{}, err
	}
	return Mailbox{Address: addr}, nil
}

// ParseMailboxList parses a comma-separated list of mailboxes, e.g. the
// value of a To/Cc header.
func ParseMailboxList(s string) ([]Mailbox, error) {
	parts := splitMailboxList(s)
	out := make([]Mailbox, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		mb, err := ParseMailbox(p)
		if err != nil {
			return nil, err
		}
		out = append(out, mb)
	}
	if len(out) == 0 {
		return nil, invalidAddress(s, "empty mailbox list")
	}
	return out, nil
}

// splitMailboxList splits on commas that are not inside a quoted string or
// angle-bracketed address.
func splitMailboxList(s string) []string {
	var parts []string
	depth := 0
	inQuote := false
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			if i == 0 || s[i-1] != '\\' {
				inQuote = !inQuote
			}
		case '<':
			if !inQuote {
				depth++
			}
		case '>':
			if !inQuote && depth > 0 {
				depth--
			}
		case ',':
			if !inQuote && depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}

func unquotePhrase(name string) string {
	name = strings.TrimSpace(name)
	if len(name) >= 2 && name[0] == '"' && name[len(name)-1] == '"' {
		inner := name[1 : len(name)-1]
		var b strings.Builder
		for i := 0; i < len(inner); i++ {
			if inner[i] == '\\' && i+1 < len(inner) {
				i++
			}
			b.WriteByte(inner[i])
		}
		return b.String()
	}
	return name
}

// normalizeDomain returns the ASCII (A-label) form of domain and, when the
// input was non-ASCII, the NFC-normalized Unicode (U-label) form.
// IPv4/IPv6 address literals ("[...]") are passed through unchanged.
func normalizeDomain(domain string) (asciiForm, uForm string, err error) {
	if domain == "" {
		return "", "", invalidAddress(domain, "empty domain")
	}
	if domain[0] == '[' {
		return domain, "", nil
	}
	if isASCIIString(domain) {
		return domain, "", nil
	}
	normalized := norm.NFC.String(domain)
	ascii, err := idna.Lookup.ToASCII(normalized)
	if err != nil {
		return "", "", invalidAddress(domain, "invalid internationalized domain: "+err.Error())
	}
	return ascii, normalized, nil
}

func isASCIIString(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 127 {
			return false
		}
	}
	return true
}

func validateLocalPart(local string) error {
	if local == "" {
		return invalidAddress(local, "empty local-part")
	}
	if len(local) > 64 { // RFC 5321 §4.5.3.1.1
		return invalidAddress(local, "local-part exceeds 64 octets")
	}

	if len(local) >= 2 && local[0] == '"' && local[len(local)-1] == '"' {
		return validateQuotedLocalPart(local[1 : len(local)-1])
	}
	return validateDotAtom(local)
}

func validateDotAtom(s string) error {
	if s == "" {
		return invalidAddress(s, "empty dot-atom")
	}
	if s[0] == '.' || s[len(s)-1] == '.' {
		return invalidAddress(s, "dot-atom cannot start or end with a dot")
	}
	if strings.Contains(s, "..") {
		return invalidAddress(s, "dot-atom cannot contain consecutive dots")
	}
	for _, r := range s {
		if !isDotAtomChar(r) {
			return invalidAddress(s, "invalid character in local-part")
		}
	}
	return nil
}

func isDotAtomChar(r rune) bool {
	if r == '.' {
		return true
	}
	return isAtext(r)
}

// isAtext checks for RFC 5321 atext characters.
func isAtext(r rune) bool {
	if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
		return true
	}
	switch r {
	case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '/', '=', '?', '^', '_', '`', '{', '|', '}', '~':
		return true
	}
	return false
}

func validateQuotedLocalPart(s string) error {
	if !utf8.ValidString(s) {
		return invalidAddress(s, "invalid UTF-8 in quoted local-part")
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' {
			i++
			if i >= len(s) {
				return invalidAddress(s, "trailing backslash in quoted local-part")
			}
			continue
		}
		if c == '"' {
			return invalidAddress(s, "unescaped quote in quoted local-part")
		}
	}
	return nil
}

// validateDomain checks the ASCII-form domain per RFC 5321 §4.1.2. Accepts
// DNS hostnames and IPv4/IPv6 address literals ([...]).
func validateDomain(domain string) error {
	if domain == "" {
		return invalidAddress(domain, "empty domain")
	}
	if len(domain) > 255 { // RFC 5321 §4.5.3.1.2
		return invalidAddress(domain, "domain exceeds 255 octets")
	}

	if domain[0] == '[' {
		if domain[len(domain)-1] != ']' {
			return invalidAddress(domain, "unclosed address literal")
		}
		return nil
	}

	if domain[0] == '.' || domain[len(domain)-1] == '.' {
		return invalidAddress(domain, "domain cannot start or end with a dot")
	}

	labels := strings.Split(domain, ".")
	for _, label := range labels {
		if label == "" {
			return invalidAddress(domain, "empty label in domain")
		}
		if len(label) > 63 {
			return invalidAddress(domain, "domain label exceeds 63 octets")
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return invalidAddress(domain, "domain label cannot start or end with hyphen")
		}
		for _, r := range label {
			if !isASCIIDomainChar(r) {
				return invalidAddress(domain, "invalid character in domain")
			}
		}
	}
	return nil
}

func isASCIIDomainChar(r rune) bool {
	if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
		return true
	}
	return r == '-'
}

// Envelope is the SMTP envelope (spec §3): a reverse-path distinct from the
// header From/To/Cc, and the ordered set of RCPT forward-paths (which
// includes Bcc recipients that must never appear in the headers).
type Envelope struct {
	ReversePath  *Address // nil represents the null reverse-path <>.
	ForwardPaths []Address
}

// NewEnvelope constructs an Envelope. from may be nil for a null sender
// (bounce messages). to must be non-empty.
func NewEnvelope(from *Address, to []Address) (Envelope, error) {
	if len(to) == 0 {
		return Envelope{}, errors.New("mailsubmit: envelope requires at least one recipient")
	}
	fwd := make([]Address, len(to))
	copy(fwd, to)
	return Envelope{ReversePath: from, ForwardPaths: fwd}, nil
}
