package smtpengine

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/submitkit/mailsubmit"
	"github.com/submitkit/mailsubmit/internal/relayfixture"
)

func mustAddr(t *testing.T, s string) mailsubmit.Address {
	t.Helper()
	a, err := mailsubmit.ParseAddress(s)
	if err != nil {
		t.Fatalf("ParseAddress(%q): %v", s, err)
	}
	return a
}

func openPlain(t *testing.T, fx *relayfixture.Fixture) *Connection {
	t.Helper()
	cfg := testConfig(WithSecurity(SecurityNone))
	conn, err := Open(context.Background(), fx.Addr(), cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return conn
}

// TestSubmit_HappyPath covers spec §8 scenario S4: full MAIL/RCPT/DATA
// exchange against a single accepting recipient.
func TestSubmit_HappyPath(t *testing.T) {
	fx := relayfixture.Start(t)
	from := mustAddr(t, "sender@example.com")
	to := mustAddr(t, "rcpt@example.net")
	env, err := mailsubmit.NewEnvelope(&from, []mailsubmit.Address{to})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}

	go func() {
		conn := fx.Accept()
		conn.WriteReply(int(mailsubmit.ReplyServiceReady), "fixture ready")
		conn.ReadLine(2048) // EHLO
		conn.WriteReply(int(mailsubmit.ReplyOK), "fixture", "SIZE 1000000")
		conn.ReadLine(2048) // MAIL FROM
		conn.WriteReply(int(mailsubmit.ReplyOK), "OK")
		conn.ReadLine(2048) // RCPT TO
		conn.WriteReply(int(mailsubmit.ReplyOK), "OK")
		conn.ReadLine(2048) // DATA
		conn.WriteReply(int(mailsubmit.ReplyStartMailInput), "go ahead")
		body, _ := io.ReadAll(conn.DotReader())
		if string(body) != "Subject: hi\r\n\r\nhello\r\n" {
			t.Errorf("unexpected body: %q", body)
		}
		conn.WriteReply(int(mailsubmit.ReplyOK), "queued")
	}()

	conn := openPlain(t, fx)
	defer conn.Close()

	payload := []byte("Subject: hi\r\n\r\nhello\r\n")
	report, err := Submit(context.Background(), conn, testConfig(), env, payload)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if report.Classification != mailsubmit.ClassificationSuccess {
		t.Errorf("Classification = %v, want success", report.Classification)
	}
	if len(report.Accepted()) != 1 {
		t.Errorf("Accepted() = %v, want 1 recipient", report.Accepted())
	}
}

// TestSubmit_PartialRecipients covers spec §8 scenario S6: one recipient
// accepted, one rejected, DATA still proceeds and the report reflects
// partial success.
func TestSubmit_PartialRecipients(t *testing.T) {
	fx := relayfixture.Start(t)
	from := mustAddr(t, "sender@example.com")
	good := mustAddr(t, "good@example.net")
	bad := mustAddr(t, "bad@example.net")
	env, err := mailsubmit.NewEnvelope(&from, []mailsubmit.Address{good, bad})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}

	go func() {
		conn := fx.Accept()
		conn.WriteReply(int(mailsubmit.ReplyServiceReady), "fixture ready")
		conn.ReadLine(2048) // EHLO
		conn.WriteReply(int(mailsubmit.ReplyOK), "fixture")
		conn.ReadLine(2048) // MAIL FROM
		conn.WriteReply(int(mailsubmit.ReplyOK), "OK")
		conn.ReadLine(2048) // RCPT good
		conn.WriteReply(int(mailsubmit.ReplyOK), "OK")
		conn.ReadLine(2048) // RCPT bad
		conn.WriteReply(int(mailsubmit.ReplyMailboxNotFound), "5.1.1 no such user")
		conn.ReadLine(2048) // DATA
		conn.WriteReply(int(mailsubmit.ReplyStartMailInput), "go ahead")
		io.ReadAll(conn.DotReader())
		conn.WriteReply(int(mailsubmit.ReplyOK), "queued")
	}()

	conn := openPlain(t, fx)
	defer conn.Close()

	report, err := Submit(context.Background(), conn, testConfig(), env, []byte("body\r\n"))
	var rcptErr *mailsubmit.RecipientError
	if !errors.As(err, &rcptErr) {
		t.Fatalf("Submit err = %v, want *mailsubmit.RecipientError", err)
	}
	if len(rcptErr.Rejected) != 1 {
		t.Errorf("RecipientError.Rejected = %v, want 1 entry", rcptErr.Rejected)
	}
	if report.Classification != mailsubmit.ClassificationPartialSuccess {
		t.Errorf("Classification = %v, want partial-success", report.Classification)
	}
	if len(report.Accepted()) != 1 || len(report.Rejected()) != 1 {
		t.Errorf("Accepted=%d Rejected=%d, want 1/1", len(report.Accepted()), len(report.Rejected()))
	}
}

// TestSubmit_AllRecipientsRejected covers spec §4.7 "Rcpt": every RCPT
// rejected aborts the transaction with NoRecipientsError before DATA.
func TestSubmit_AllRecipientsRejected(t *testing.T) {
	fx := relayfixture.Start(t)
	from := mustAddr(t, "sender@example.com")
	to := mustAddr(t, "nobody@example.net")
	env, err := mailsubmit.NewEnvelope(&from, []mailsubmit.Address{to})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}

	go func() {
		conn := fx.Accept()
		conn.WriteReply(int(mailsubmit.ReplyServiceReady), "fixture ready")
		conn.ReadLine(2048) // EHLO
		conn.WriteReply(int(mailsubmit.ReplyOK), "fixture")
		conn.ReadLine(2048) // MAIL FROM
		conn.WriteReply(int(mailsubmit.ReplyOK), "OK")
		conn.ReadLine(2048) // RCPT
		conn.WriteReply(int(mailsubmit.ReplyMailboxNotFound), "5.1.1 no such user")
		// No DATA should be sent.
	}()

	conn := openPlain(t, fx)
	defer conn.Close()

	_, err = Submit(context.Background(), conn, testConfig(), env, []byte("body\r\n"))
	var noRecip *mailsubmit.NoRecipientsError
	if !errors.As(err, &noRecip) {
		t.Fatalf("err = %v, want *mailsubmit.NoRecipientsError", err)
	}
}

// TestSubmit_Pipelined covers the PIPELINING batch path: MAIL, RCPT×2 and
// DATA are read back in a single ReadReplies call.
func TestSubmit_Pipelined(t *testing.T) {
	fx := relayfixture.Start(t)
	from := mustAddr(t, "sender@example.com")
	a := mustAddr(t, "a@example.net")
	b := mustAddr(t, "b@example.net")
	env, err := mailsubmit.NewEnvelope(&from, []mailsubmit.Address{a, b})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}

	go func() {
		conn := fx.Accept()
		conn.WriteReply(int(mailsubmit.ReplyServiceReady), "fixture ready")
		conn.ReadLine(2048) // EHLO
		conn.WriteReply(int(mailsubmit.ReplyOK), "fixture", "PIPELINING")
		conn.ReadLine(2048) // MAIL
		conn.ReadLine(2048) // RCPT a
		conn.ReadLine(2048) // RCPT b
		conn.ReadLine(2048) // DATA
		conn.WriteReply(int(mailsubmit.ReplyOK), "mail ok")
		conn.WriteReply(int(mailsubmit.ReplyOK), "rcpt a ok")
		conn.WriteReply(int(mailsubmit.ReplyOK), "rcpt b ok")
		conn.WriteReply(int(mailsubmit.ReplyStartMailInput), "go ahead")
		io.ReadAll(conn.DotReader())
		conn.WriteReply(int(mailsubmit.ReplyOK), "queued")
	}()

	conn := openPlain(t, fx)
	defer conn.Close()
	if !conn.Extensions().Has(mailsubmit.ExtPIPELINING) {
		t.Fatal("fixture should have advertised PIPELINING")
	}

	report, err := Submit(context.Background(), conn, testConfig(), env, []byte("body\r\n"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if report.Classification != mailsubmit.ClassificationSuccess {
		t.Errorf("Classification = %v, want success", report.Classification)
	}
}

// TestAuthenticate_WrongPassword covers spec §8 scenario S7: a mechanism
// intersection is found but the server rejects the credentials with 535.
func TestAuthenticate_WrongPassword(t *testing.T) {
	fx := relayfixture.Start(t)

	go func() {
		conn := fx.Accept()
		conn.WriteReply(int(mailsubmit.ReplyServiceReady), "fixture ready")
		conn.ReadLine(2048) // EHLO
		conn.WriteReply(int(mailsubmit.ReplyOK), "fixture", "AUTH PLAIN LOGIN")
		conn.ReadLine(2048) // AUTH PLAIN <initial>
		conn.WriteReply(int(mailsubmit.ReplyAuthFailed), "5.7.8 authentication failed")
	}()

	cfg := testConfig(
		WithSecurity(SecurityNone),
		WithMechanisms("PLAIN"),
		WithCredentials(mailsubmit.Credentials{Username: "user", Password: "wrong"}),
	)
	_, err := Open(context.Background(), fx.Addr(), cfg)
	var authErr *mailsubmit.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("err = %v, want *mailsubmit.AuthError", err)
	}
	if authErr.Mechanism != "PLAIN" {
		t.Errorf("Mechanism = %q, want PLAIN", authErr.Mechanism)
	}
}

// TestAuthenticate_NoMechanismOverlap covers spec §4.6: no overlap between
// requested and advertised mechanisms is a configuration error caught
// before any AUTH command is sent.
func TestAuthenticate_NoMechanismOverlap(t *testing.T) {
	fx := relayfixture.Start(t)

	go func() {
		conn := fx.Accept()
		conn.WriteReply(int(mailsubmit.ReplyServiceReady), "fixture ready")
		conn.ReadLine(2048) // EHLO
		conn.WriteReply(int(mailsubmit.ReplyOK), "fixture", "AUTH LOGIN")
		// No AUTH command should ever be sent by the client.
	}()

	cfg := testConfig(
		WithSecurity(SecurityNone),
		WithMechanisms("XOAUTH2"),
		WithCredentials(mailsubmit.Credentials{Username: "user", Password: "pw"}),
	)
	_, err := Open(context.Background(), fx.Addr(), cfg)
	var buildErr *mailsubmit.BuildError
	if !errors.As(err, &buildErr) {
		t.Fatalf("err = %v, want *mailsubmit.BuildError", err)
	}
}
