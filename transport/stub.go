package transport

import (
	"context"
	"sync"

	"github.com/submitkit/mailsubmit"
)

// Sent records one call captured by StubTransport.
type Sent struct {
	Envelope  mailsubmit.Envelope
	MessageID string
	Payload   []byte
}

// StubTransport records every Send call in memory and replays a
// caller-configured Report (spec.md §4.9 "Stub": "record (envelope,
// message) in memory for tests; configurable to return success or a
// chosen failure on each call").
type StubTransport struct {
	mu      sync.Mutex
	sent    []Sent
	queue   []stubResult // per-call overrides, consumed in order.
	Default mailsubmit.Report
}

type stubResult struct {
	report mailsubmit.Report
	err    error
}

// NewStubTransport returns a StubTransport that reports
// ClassificationSuccess unless a queued result says otherwise.
func NewStubTransport() *StubTransport {
	return &StubTransport{Default: mailsubmit.Report{Classification: mailsubmit.ClassificationSuccess}}
}

// QueueResult arranges for the next call to Send to return report, err,
// instead of Default. Calls consume queued results in FIFO order.
func (s *StubTransport) QueueResult(report mailsubmit.Report, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, stubResult{report: report, err: err})
}

// Send records the call and returns the next queued result, or Default.
func (s *StubTransport) Send(ctx context.Context, env mailsubmit.Envelope, messageID string, payload []byte) (mailsubmit.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sent = append(s.sent, Sent{Envelope: env, MessageID: messageID, Payload: append([]byte(nil), payload...)})

	if len(s.queue) > 0 {
		next := s.queue[0]
		s.queue = s.queue[1:]
		return next.report, next.err
	}
	return s.Default, nil
}

// Sent returns every call recorded so far.
func (s *StubTransport) Sent() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Sent, len(s.sent))
	copy(out, s.sent)
	return out
}

// Reset discards recorded calls and queued results.
func (s *StubTransport) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = nil
	s.queue = nil
}
