package smtpengine

import (
	"context"

	"github.com/submitkit/mailsubmit"
)

// SubmitNew opens a fresh connection to addr, submits one message over it,
// and closes it. It exists for callers that do not need pooling — the pool
// package instead keeps a Connection alive across Open and calls Submit
// directly on the reused connection.
func SubmitNew(ctx context.Context, addr string, cfg Config, env mailsubmit.Envelope, payload []byte) (mailsubmit.Report, error) {
	conn, err := Open(ctx, addr, cfg)
	if err != nil {
		report := mailsubmit.Report{Err: err}
		if ce, ok := err.(interface{ Temporary() bool }); ok && ce.Temporary() {
			report.Classification = mailsubmit.ClassificationTransientFailure
		} else {
			report.Classification = mailsubmit.ClassificationPermanentFailure
		}
		return report, err
	}

	if ctx.Err() != nil {
		conn.Drop()
		err := &mailsubmit.CancelledError{Stage: "before submit", Err: ctx.Err()}
		return mailsubmit.Report{Classification: mailsubmit.ClassificationCancelled, Err: err}, err
	}

	report, err := Submit(ctx, conn, cfg, env, payload)

	if ctx.Err() != nil && conn.NeedsReset() {
		// Cancellation mid-transaction: drop rather than attempt a graceful
		// close, matching spec §8 property 9.
		conn.Drop()
		return report, err
	}
	conn.Close()
	return report, err
}
