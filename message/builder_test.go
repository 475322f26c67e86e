package message

import (
	"strings"
	"testing"
	"time"

	"github.com/submitkit/mailsubmit"
)

func mustMailbox(t *testing.T, addr string) mailsubmit.Mailbox {
	t.Helper()
	a, err := mailsubmit.ParseAddress(addr)
	if err != nil {
		t.Fatalf("ParseAddress(%q): %v", addr, err)
	}
	return mailsubmit.Mailbox{Address: a}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// TestBuilder_S1PlainText7Bit exercises scenario S1: a plain-text 7bit
// message has no MIME-Version or Content-Transfer-Encoding headers.
func TestBuilder_S1PlainText7Bit(t *testing.T) {
	when := time.Date(2024, 1, 2, 15, 4, 5, 0, time.FixedZone("", 0))
	msg, err := NewBuilder().
		From(mustMailbox(t, "a@x")).
		To(mustMailbox(t, "b@y")).
		Subject("Hi").
		Text("Hello.\n").
		Clock(fixedClock(when)).
		MessageIDOverride("<fixed@x>").
		Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	out, err := Serialize(msg, EncodeOptions{})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	s := string(out)

	if !strings.HasPrefix(s, "From: a@x\r\nTo: b@y\r\nSubject: Hi\r\n") {
		t.Fatalf("unexpected header prefix: %q", s)
	}
	if strings.Contains(s, "MIME-Version") {
		t.Errorf("plain 7bit message must not carry MIME-Version: %q", s)
	}
	if strings.Contains(s, "Content-Transfer-Encoding") {
		t.Errorf("plain 7bit message must not carry Content-Transfer-Encoding: %q", s)
	}
	if !strings.HasSuffix(s, "\r\n\r\nHello.\r\n") {
		t.Errorf("body not terminated as expected: %q", s)
	}
}

// TestBuilder_S2UTF8Subject exercises scenario S2.
func TestBuilder_S2UTF8Subject(t *testing.T) {
	msg, err := NewBuilder().
		From(mustMailbox(t, "a@x")).
		To(mustMailbox(t, "b@y")).
		Subject("café").
		Text("hi\r\n").
		MessageIDOverride("<fixed@x>").
		Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	out, err := Serialize(msg, EncodeOptions{})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if !strings.Contains(string(out), "Subject: =?UTF-8?Q?caf=C3=A9?=\r\n") {
		t.Errorf("Serialize output missing encoded subject: %q", out)
	}
}

// TestBuilder_S3MultipartAlternative exercises scenario S3.
func TestBuilder_S3MultipartAlternative(t *testing.T) {
	msg, err := NewBuilder().
		From(mustMailbox(t, "a@x")).
		To(mustMailbox(t, "b@y")).
		Subject("Hi").
		AlternativePlainHTML("plain body", "<b>html</b>").
		MessageIDOverride("<fixed@x>").
		Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	out, err := Serialize(msg, EncodeOptions{})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	s := string(out)
	if !strings.Contains(s, "Content-Type: multipart/alternative; boundary=") {
		t.Fatalf("missing multipart/alternative content-type: %q", s)
	}

	mp := msg.Root.(*Multipart)
	boundary := mp.Boundary()
	if len(boundary) < 48 {
		t.Errorf("boundary %q shorter than 48 octets", boundary)
	}
	if got := strings.Count(s, "--"+boundary+"\r\n"); got != 2 {
		t.Errorf("expected 2 boundary openings, got %d", got)
	}
	if got := strings.Count(s, "--"+boundary+"--\r\n"); got != 1 {
		t.Errorf("expected 1 boundary close, got %d", got)
	}
}

func TestBuilder_RequiresFrom(t *testing.T) {
	_, err := NewBuilder().To(mustMailbox(t, "b@y")).Text("hi").Finalize()
	if err == nil {
		t.Fatal("expected BuildError for missing From")
	}
	var be *mailsubmit.BuildError
	if !asBuildError(err, &be) {
		t.Errorf("expected *mailsubmit.BuildError, got %T", err)
	}
}

func TestBuilder_RequiresRecipient(t *testing.T) {
	_, err := NewBuilder().From(mustMailbox(t, "a@x")).Text("hi").Finalize()
	if err == nil {
		t.Fatal("expected BuildError for missing recipient")
	}
}

func TestBuilder_BccOmittedFromHeadersPresentInEnvelope(t *testing.T) {
	msg, err := NewBuilder().
		From(mustMailbox(t, "a@x")).
		To(mustMailbox(t, "b@y")).
		Bcc(mustMailbox(t, "secret@y")).
		Text("hi\r\n").
		Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	out, err := Serialize(msg, EncodeOptions{})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if strings.Contains(string(out), "secret@y") {
		t.Errorf("Bcc address leaked into headers: %q", out)
	}
	found := false
	for _, a := range msg.Envelope.ForwardPaths {
		if a.String() == "secret@y" {
			found = true
		}
	}
	if !found {
		t.Errorf("Bcc address missing from envelope forward-paths: %+v", msg.Envelope.ForwardPaths)
	}
}

func asBuildError(err error, target **mailsubmit.BuildError) bool {
	be, ok := err.(*mailsubmit.BuildError)
	if ok {
		*target = be
	}
	return ok
}
