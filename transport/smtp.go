package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/submitkit/mailsubmit"
	"github.com/submitkit/mailsubmit/pool"
	"github.com/submitkit/mailsubmit/smtpengine"
)

// SMTPTransport sends over pooled SMTP connections (spec.md §4.9: "for
// SMTP, pool returns a warmed Connection → Transaction engine issues
// MAIL/RCPT/DATA"). Grounded on the teacher's smtpclient.Client.SendMail,
// generalized to lease/release through pool.Pool instead of owning one
// connection per call.
type SMTPTransport struct {
	addr   string
	cfg    smtpengine.Config
	pool   *pool.Pool
	key    pool.Key
	logger *slog.Logger
}

// NewSMTPTransport builds an SMTPTransport whose connections are drawn
// from a pool.Pool dialing addr with cfg.
func NewSMTPTransport(addr string, cfg smtpengine.Config, policy pool.Policy, logger *slog.Logger) (*SMTPTransport, error) {
	key, err := pool.NewKey(addr, cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger
	}
	dial := func(ctx context.Context, key pool.Key) (*smtpengine.Connection, error) {
		return smtpengine.Open(ctx, addr, cfg)
	}
	return &SMTPTransport{
		addr:   addr,
		cfg:    cfg,
		pool:   pool.New(dial, policy, logger),
		key:    key,
		logger: logger,
	}, nil
}

// NewSMTPRelay is the supplemented relay-guessing convenience
// constructor (SPEC_FULL.md supplemented feature 6, grounded on
// lettre::SmtpTransport::relay): port 587, opportunistic STARTTLS, and a
// hello name inferred from domain when the caller hasn't set one via
// opts.
func NewSMTPRelay(domain string, opts ...smtpengine.Option) (*SMTPTransport, error) {
	base := []smtpengine.Option{smtpengine.WithSecurity(smtpengine.SecurityOpportunistic)}
	cfg := smtpengine.NewConfig(append(base, opts...)...)
	if cfg.HelloName == "" {
		cfg.HelloName = domain
	}
	addr := net.JoinHostPort(domain, "587")
	return NewSMTPTransport(addr, cfg, pool.DefaultPolicy(), nil)
}

// Send checks out a pooled connection, runs one SMTP transaction over
// it, and returns it to the pool (or drops it) per spec.md §4.7/§4.8.
func (t *SMTPTransport) Send(ctx context.Context, env mailsubmit.Envelope, messageID string, payload []byte) (mailsubmit.Report, error) {
	lease, err := t.pool.Checkout(ctx, t.key)
	if err != nil {
		t.logger.Warn("transport: checkout failed", "message_id", messageID, "err", err)
		return mailsubmit.Report{
			Classification: mailsubmit.ClassificationTransientFailure,
			Err:            fmt.Errorf("transport: checkout: %w", err),
		}, err
	}

	report, err := smtpengine.Submit(ctx, lease.Conn, t.cfg, env, payload)

	// A cancelled send may leave the connection in an indeterminate
	// state (spec.md §5 "Cancellation"); such a connection is dropped
	// rather than returned, matching smtpengine.SubmitNew's non-pooled
	// counterpart.
	if ctx.Err() != nil {
		t.logger.Warn("transport: send cancelled, dropping connection", "message_id", messageID, "err", ctx.Err())
		lease.Drop()
		return report, err
	}

	if err != nil {
		t.logger.Warn("transport: send failed", "message_id", messageID, "classification", report.Classification, "err", err)
	} else {
		t.logger.Debug("transport: send succeeded", "message_id", messageID, "classification", report.Classification)
	}

	healthy := report.Classification == mailsubmit.ClassificationSuccess ||
		report.Classification == mailsubmit.ClassificationPartialSuccess
	lease.Release(healthy)
	return report, err
}

// Close releases every idle pooled connection.
func (t *SMTPTransport) Close() { t.pool.Close() }
