package message

import (
	"time"

	"github.com/submitkit/mailsubmit"
)

// Builder accumulates a message's fields and validates them on Finalize
// (spec §9 "Builder pattern": "validates on finalize... reported as
// BuildError, not panics"), grounded on lettre's Message::builder()
// fluent/validate-on-finalize pattern (original_source).
type Builder struct {
	from       []mailsubmit.Mailbox
	sender     *mailsubmit.Mailbox
	replyTo    []mailsubmit.Mailbox
	to         []mailsubmit.Mailbox
	cc         []mailsubmit.Mailbox
	bcc        []mailsubmit.Mailbox
	subject    string
	date       *time.Time
	messageID  string
	domainOverride string
	extra      *Set
	body       Part

	// now is the clock used when Date is not set explicitly. Tests inject
	// a fixed clock; production code leaves it nil to use time.Now.
	now func() time.Time
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{extra: NewSet()}
}

func (b *Builder) From(mb ...mailsubmit.Mailbox) *Builder { b.from = append(b.from, mb...); return b }
func (b *Builder) Sender(mb mailsubmit.Mailbox) *Builder   { b.sender = &mb; return b }
func (b *Builder) ReplyTo(mb ...mailsubmit.Mailbox) *Builder {
	b.replyTo = append(b.replyTo, mb...)
	return b
}
func (b *Builder) To(mb ...mailsubmit.Mailbox) *Builder  { b.to = append(b.to, mb...); return b }
func (b *Builder) Cc(mb ...mailsubmit.Mailbox) *Builder  { b.cc = append(b.cc, mb...); return b }
func (b *Builder) Bcc(mb ...mailsubmit.Mailbox) *Builder { b.bcc = append(b.bcc, mb...); return b }
func (b *Builder) Subject(s string) *Builder             { b.subject = s; return b }
func (b *Builder) Date(t time.Time) *Builder              { b.date = &t; return b }
func (b *Builder) MessageIDOverride(id string) *Builder   { b.messageID = id; return b }
func (b *Builder) MessageIDDomain(domain string) *Builder { b.domainOverride = domain; return b }
func (b *Builder) Header(name, value string) *Builder     { b.extra.Add(name, value); return b }
func (b *Builder) Body(p Part) *Builder                   { b.body = p; return b }
func (b *Builder) Clock(now func() time.Time) *Builder    { b.now = now; return b }

// Text sets the body to a plain-text Single part.
func (b *Builder) Text(body string) *Builder {
	b.body = &Single{Header: NewSet(), Body: []byte(body), Textual: true}
	return b
}

// HTML sets the body to an HTML Single part.
func (b *Builder) HTML(body string) *Builder {
	return b.Body(NewTextPart(TypeTextHTML, []byte(body)))
}

// AlternativePlainHTML sets the body to a multipart/alternative pairing of
// text and html (supplemented feature: lettre's alternative_plain_html).
func (b *Builder) AlternativePlainHTML(text, html string) *Builder {
	return b.Body(AlternativeBody(text, html))
}

// clockNow returns the Builder's injected clock or time.Now.
func (b *Builder) clockNow() time.Time {
	if b.now != nil {
		return b.now()
	}
	return time.Now()
}

// Finalize validates the accumulated fields and assembles a Message,
// injecting Date and Message-ID if not already set (spec §3 "Message"
// required headers on finalization: From, Date, Message-ID).
func (b *Builder) Finalize() (*Message, error) {
	if len(b.from) == 0 {
		return nil, &mailsubmit.BuildError{Reason: "message requires at least one From mailbox"}
	}
	if len(b.from) > 1 && b.sender == nil {
		return nil, &mailsubmit.BuildError{Reason: "message with multiple From mailboxes requires exactly one Sender"}
	}
	if len(b.to)+len(b.cc)+len(b.bcc) == 0 {
		return nil, &mailsubmit.BuildError{Reason: "message requires at least one To, Cc, or Bcc recipient"}
	}
	if b.body == nil {
		return nil, &mailsubmit.BuildError{Reason: "message requires a body"}
	}

	h := NewSet()
	h.Set("From", FormatAddressList(b.from))
	if b.sender != nil {
		h.Set("Sender", FormatAddressList([]mailsubmit.Mailbox{*b.sender}))
	}
	if len(b.replyTo) > 0 {
		h.Set("Reply-To", FormatAddressList(b.replyTo))
	}
	if len(b.to) > 0 {
		h.Set("To", FormatAddressList(b.to))
	}
	if len(b.cc) > 0 {
		h.Set("Cc", FormatAddressList(b.cc))
	}
	// Bcc is deliberately never written to headers (spec §3 "Bcc MUST NOT
	// appear in headers but MUST appear in the envelope").
	if b.subject != "" {
		h.Set("Subject", b.subject)
	}

	date := b.clockNow()
	if b.date != nil {
		date = *b.date
	}
	h.Set("Date", FormatDate(date))

	domain := b.domainOverride
	if domain == "" {
		domain = b.from[0].Address.Domain
	}
	msgID := b.messageID
	if msgID == "" {
		id, err := GenerateMessageID(domain)
		if err != nil {
			return nil, &mailsubmit.BuildError{Reason: "generating Message-ID", Err: err}
		}
		msgID = id
	}
	h.Set("Message-ID", msgID)

	for _, f := range b.extra.Fields() {
		h.Add(f.Name, f.Value)
	}

	env, err := b.envelope()
	if err != nil {
		return nil, err
	}

	return &Message{
		Header:    h,
		Root:      b.body,
		Envelope:  env,
		MessageID: msgID,
	}, nil
}

func (b *Builder) envelope() (mailsubmit.Envelope, error) {
	var reverse *mailsubmit.Address
	if b.sender != nil {
		a := b.sender.Address
		reverse = &a
	} else {
		a := b.from[0].Address
		reverse = &a
	}

	var forward []mailsubmit.Address
	for _, mb := range b.to {
		forward = append(forward, mb.Address)
	}
	for _, mb := range b.cc {
		forward = append(forward, mb.Address)
	}
	for _, mb := range b.bcc {
		forward = append(forward, mb.Address)
	}

	env, err := mailsubmit.NewEnvelope(reverse, forward)
	if err != nil {
		return mailsubmit.Envelope{}, &mailsubmit.BuildError{Reason: "building envelope", Err: err}
	}
	return env, nil
}

// Message is a finalized, immutable message: header set, root body Part,
// derived envelope, and Message-ID (spec §3 "Message").
type Message struct {
	Header    *Set
	Root      Part
	Envelope  mailsubmit.Envelope
	MessageID string
}
