package transport

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/submitkit/mailsubmit"
	"github.com/submitkit/mailsubmit/internal/relayfixture"
	"github.com/submitkit/mailsubmit/internal/textproto"
	"github.com/submitkit/mailsubmit/pool"
	"github.com/submitkit/mailsubmit/smtpengine"
)

func TestSMTPTransport_Send(t *testing.T) {
	fx := relayfixture.Start(t)
	from := mustAddr(t, "sender@example.com")
	to := mustAddr(t, "rcpt@example.net")
	env, err := mailsubmit.NewEnvelope(&from, []mailsubmit.Address{to})
	require.NoError(t, err)

	go func() {
		conn := fx.Accept()
		conn.WriteReply(int(mailsubmit.ReplyServiceReady), "fixture ready")
		conn.ReadLine(2048) // EHLO
		conn.WriteReply(int(mailsubmit.ReplyOK), "fixture")
		conn.ReadLine(2048) // MAIL FROM
		conn.WriteReply(int(mailsubmit.ReplyOK), "OK")
		conn.ReadLine(2048) // RCPT TO
		conn.WriteReply(int(mailsubmit.ReplyOK), "OK")
		conn.ReadLine(2048) // DATA
		conn.WriteReply(int(mailsubmit.ReplyStartMailInput), "go ahead")
		io.ReadAll(conn.DotReader())
		conn.WriteReply(int(mailsubmit.ReplyOK), "queued")
	}()

	cfg := smtpengine.NewConfig(smtpengine.WithSecurity(smtpengine.SecurityNone))
	tr, err := NewSMTPTransport(fx.Addr(), cfg, pool.DefaultPolicy(), nil)
	require.NoError(t, err)
	defer tr.Close()

	report, err := tr.Send(context.Background(), env, "msg-1", []byte("Subject: hi\r\n\r\nhello\r\n"))
	require.NoError(t, err)
	assert.Equal(t, mailsubmit.ClassificationSuccess, report.Classification)
	assert.Len(t, report.Accepted(), 1)
}

// TestSMTPTransport_ReusesConnectionAcrossSends covers spec.md §4.8: a
// connection whose transaction completed cleanly (mailInFlight cleared)
// is returned to the pool and reused for the next Send without a fresh
// TCP connect or EHLO round trip.
func TestSMTPTransport_ReusesConnectionAcrossSends(t *testing.T) {
	fx := relayfixture.Start(t)
	from := mustAddr(t, "sender@example.com")
	to := mustAddr(t, "rcpt@example.net")
	env, err := mailsubmit.NewEnvelope(&from, []mailsubmit.Address{to})
	require.NoError(t, err)

	transaction := func(conn *textproto.Conn) {
		conn.ReadLine(2048) // MAIL FROM
		conn.WriteReply(int(mailsubmit.ReplyOK), "OK")
		conn.ReadLine(2048) // RCPT TO
		conn.WriteReply(int(mailsubmit.ReplyOK), "OK")
		conn.ReadLine(2048) // DATA
		conn.WriteReply(int(mailsubmit.ReplyStartMailInput), "go ahead")
		io.ReadAll(conn.DotReader())
		conn.WriteReply(int(mailsubmit.ReplyOK), "queued")
	}

	go func() {
		conn := fx.Accept()
		conn.WriteReply(int(mailsubmit.ReplyServiceReady), "fixture ready")
		conn.ReadLine(2048) // EHLO
		conn.WriteReply(int(mailsubmit.ReplyOK), "fixture")
		transaction(conn)
		transaction(conn) // second Send, same connection, no re-EHLO.
	}()

	cfg := smtpengine.NewConfig(smtpengine.WithSecurity(smtpengine.SecurityNone))
	tr, err := NewSMTPTransport(fx.Addr(), cfg, pool.DefaultPolicy(), nil)
	require.NoError(t, err)
	defer tr.Close()

	report1, err := tr.Send(context.Background(), env, "msg-1", []byte("body\r\n"))
	require.NoError(t, err)
	assert.Equal(t, mailsubmit.ClassificationSuccess, report1.Classification)

	report2, err := tr.Send(context.Background(), env, "msg-2", []byte("body\r\n"))
	require.NoError(t, err)
	assert.Equal(t, mailsubmit.ClassificationSuccess, report2.Classification)
}
