// Package transport implements the transport façade of spec.md §4.9: a
// single Send contract shared by an SMTP backend (pool + smtpengine), a
// local command handoff, a maildir-style directory writer, and an
// in-memory stub for tests.
package transport

import (
	"context"

	"github.com/submitkit/mailsubmit"
)

// Transport submits one already-serialized message under one envelope
// and reports the outcome. Every backend implements exactly this method
// (spec.md §4.9 "All backends implement send(envelope, message_bytes) ->
// Report").
type Transport interface {
	Send(ctx context.Context, env mailsubmit.Envelope, messageID string, payload []byte) (mailsubmit.Report, error)
}

// TransportFunc adapts a plain function to the Transport interface, for
// tests and small ad hoc backends.
type TransportFunc func(ctx context.Context, env mailsubmit.Envelope, messageID string, payload []byte) (mailsubmit.Report, error)

func (f TransportFunc) Send(ctx context.Context, env mailsubmit.Envelope, messageID string, payload []byte) (mailsubmit.Report, error) {
	return f(ctx, env, messageID, payload)
}
