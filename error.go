package mailsubmit

import (
	"errors"
	"fmt"
	"strings"
)

// SMTPError represents an SMTP protocol error with a reply code,
// optional enhanced status code, and human-readable message.
type SMTPError struct {
	Code         ReplyCode
	EnhancedCode EnhancedCode
	Message      string
}

// Error implements the error interface.
func (e *SMTPError) Error() string {
	if !e.EnhancedCode.IsZero() {
		return fmt.Sprintf("smtp: %d %s %s", e.Code, e.EnhancedCode, e.Message)
	}
	return fmt.Sprintf("smtp: %d %s", e.Code, e.Message)
}

// Temporary reports whether the error represents a transient failure (4xx).
func (e *SMTPError) Temporary() bool {
	return e.Code.IsTransient()
}

// WireLines returns the error formatted as SMTP wire-protocol reply lines.
// Multi-line messages (containing newlines) are formatted with continuation
// lines using the "code-SP" / "code-hyphen" convention (RFC 5321 §4.2).
func (e *SMTPError) WireLines() string {
	msg := e.Message
	if msg == "" {
		msg = "Error"
	}

	lines := strings.Split(msg, "\n")
	var b strings.Builder
	for i, line := range lines {
		fmt.Fprintf(&b, "%d", e.Code)
		if i < len(lines)-1 {
			b.WriteByte('-')
		} else {
			b.WriteByte(' ')
		}
		if !e.EnhancedCode.IsZero() {
			fmt.Fprintf(&b, "%s ", e.EnhancedCode)
		}
		b.WriteString(line)
		b.WriteString("\r\n")
	}
	return b.String()
}

// Errorf creates an SMTPError with a formatted message.
func Errorf(code ReplyCode, enhanced EnhancedCode, format string, args ...any) *SMTPError {
	return &SMTPError{
		Code:         code,
		EnhancedCode: enhanced,
		Message:      fmt.Sprintf(format, args...),
	}
}

// The taxonomy below implements spec §7. Every member wraps whatever
// underlying error or SMTPError caused it, and exposes Temporary() so
// callers can treat unfamiliar errors in this package uniformly with
// errors.As plus a Temporary() bool check.

// classified is satisfied by every error type in this taxonomy.
type classified interface {
	error
	Temporary() bool
}

var (
	_ classified = (*BuildError)(nil)
	_ classified = (*ConnectError)(nil)
	_ classified = (*ProtocolError)(nil)
	_ classified = (*AuthError)(nil)
	_ classified = (*RecipientError)(nil)
	_ classified = (*TransactionError)(nil)
	_ classified = (*TimeoutError)(nil)
	_ classified = (*CancelledError)(nil)
)

// BuildError reports a failure while composing a Message: a missing From, a
// Date-less message with no clock, an invalid address, an oversized header,
// or an unencodable body.
type BuildError struct {
	Reason string
	Err    error
}

func (e *BuildError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mailsubmit: build: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("mailsubmit: build: %s", e.Reason)
}
func (e *BuildError) Unwrap() error { return e.Err }
func (*BuildError) Temporary() bool { return false }

// ConnectError reports a TCP or TLS failure while establishing a connection.
// Always transient unless the verifier rejected the presented certificate,
// which is permanent (retrying will not help without operator intervention).
type ConnectError struct {
	Reason    string
	Permanent bool
	Err       error
}

func (e *ConnectError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mailsubmit: connect: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("mailsubmit: connect: %s", e.Reason)
}
func (e *ConnectError) Unwrap() error  { return e.Err }
func (e *ConnectError) Temporary() bool { return !e.Permanent }

// ErrStartTlsNotOffered is the ConnectError reason used when security mode
// Required is configured but the server did not advertise STARTTLS.
const ErrStartTlsNotOffered = "STARTTLS required but not offered"

// ProtocolError reports an unexpected reply, a parse failure, an
// over-length line, or a state-machine violation. Permanent at the
// connection level — the connection that saw it is always retired — but
// may be retryable at the transport level if the attempt count allows.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mailsubmit: protocol: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("mailsubmit: protocol: %s", e.Reason)
}
func (e *ProtocolError) Unwrap() error  { return e.Err }
func (*ProtocolError) Temporary() bool { return false }

// AuthError reports a 5xx reply during SASL authentication. Permanent; the
// engine does not retry authentication automatically.
type AuthError struct {
	Mechanism string
	Err       *SMTPError
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("mailsubmit: auth (%s): %v", e.Mechanism, e.Err)
}
func (e *AuthError) Unwrap() error  { return e.Err }
func (*AuthError) Temporary() bool { return false }

// RecipientError aggregates per-recipient 5xx rejections. The send it
// belongs to is a permanent-partial outcome: some recipients were accepted
// (see the enclosing Report), these were not.
type RecipientError struct {
	Rejected []RecipientStatus
}

func (e *RecipientError) Error() string {
	return fmt.Sprintf("mailsubmit: %d recipient(s) rejected", len(e.Rejected))
}
func (*RecipientError) Temporary() bool { return false }

// NoRecipientsError is returned when every RCPT TO was rejected and the
// transaction must abort (spec §4.7 "Rcpt").
type NoRecipientsError struct {
	Rejected []RecipientStatus
}

func (e *NoRecipientsError) Error() string { return "mailsubmit: all recipients rejected" }
func (*NoRecipientsError) Temporary() bool { return false }

// TransactionError reports that the server rejected MAIL or DATA.
// Classified transient for 4xx, permanent for 5xx.
type TransactionError struct {
	Err *SMTPError
}

func (e *TransactionError) Error() string   { return fmt.Sprintf("mailsubmit: transaction: %v", e.Err) }
func (e *TransactionError) Unwrap() error   { return e.Err }
func (e *TransactionError) Temporary() bool { return e.Err.Temporary() }

// TimeoutError originates from any configured deadline (connect, read,
// write, TLS handshake). Always transient.
type TimeoutError struct {
	Stage string // "connect", "read", "write", "tls"
	Err   error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("mailsubmit: timeout (%s): %v", e.Stage, e.Err)
}
func (e *TimeoutError) Unwrap() error  { return e.Err }
func (*TimeoutError) Temporary() bool { return true }

// CancelledError originates from caller-initiated context cancellation.
// It carries no transient/permanent classification.
type CancelledError struct {
	Stage string
	Err   error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("mailsubmit: cancelled (%s): %v", e.Stage, e.Err)
}
func (e *CancelledError) Unwrap() error  { return e.Err }
func (*CancelledError) Temporary() bool { return false }

// IsTemporary reports whether err (or an error it wraps) is classified
// transient. Errors outside this package's taxonomy are treated as
// non-temporary — the caller must know how to retry them, if at all.
func IsTemporary(err error) bool {
	var c classified
	if errors.As(err, &c) {
		return c.Temporary()
	}
	return false
}
