package smtpengine

import (
	"net"
	"time"

	"github.com/submitkit/mailsubmit"
	"github.com/submitkit/mailsubmit/internal/textproto"
)

// State names a position in the transaction state machine (spec §4.7).
type State int

const (
	StateGreeting State = iota
	StateEhlo
	StateStartTLS
	StateAuth
	StateMail
	StateRcpt
	StateData
	StatePayload
	StateQuit
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateGreeting:
		return "greeting"
	case StateEhlo:
		return "ehlo"
	case StateStartTLS:
		return "starttls"
	case StateAuth:
		return "auth"
	case StateMail:
		return "mail"
	case StateRcpt:
		return "rcpt"
	case StateData:
		return "data"
	case StatePayload:
		return "payload"
	case StateQuit:
		return "quit"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connection is a single SMTP transport connection and its negotiated
// state (spec §3 "Connection"). It is owned exclusively by whoever holds
// it — the pool package's checkout handle, or a direct caller bypassing
// the pool.
type Connection struct {
	wire     *textproto.Conn
	netConn  net.Conn
	hostname string // server greeting banner, first line
	exts     mailsubmit.Extensions

	authenticatedAs string
	isTLS           bool

	createdAt  time.Time
	lastUsedAt time.Time
	state      State

	// mailInFlight is true from a successful MAIL FROM until DATA
	// completes; a connection with this set must be RSET before reuse
	// (spec §4.7 "A connection that has sent MAIL but not completed DATA
	// must be reset via RSET before reuse").
	mailInFlight bool
}

// Extensions returns the capabilities advertised in the last EHLO reply.
func (c *Connection) Extensions() mailsubmit.Extensions { return c.exts }

// IsTLS reports whether the connection is protected by TLS.
func (c *Connection) IsTLS() bool { return c.isTLS }

// AuthenticatedAs returns the SASL identity used to authenticate this
// connection, or empty if it never authenticated.
func (c *Connection) AuthenticatedAs() string { return c.authenticatedAs }

// State returns the connection's current state-machine position.
func (c *Connection) State() State { return c.state }

// CreatedAt and LastUsedAt support the pool's idle-TTL/max-age eviction.
func (c *Connection) CreatedAt() time.Time  { return c.createdAt }
func (c *Connection) LastUsedAt() time.Time { return c.lastUsedAt }

// NeedsReset reports whether a transaction was left open (spec §4.7).
func (c *Connection) NeedsReset() bool { return c.mailInFlight }

// Touch marks the connection as used now, for pool idle-TTL bookkeeping.
// The pool calls this on every checkout reuse and on release back to the
// idle list, not just at dial time, so LastUsedAt tracks actual last use
// rather than freezing at connection creation (spec §4.8).
func (c *Connection) Touch() { c.lastUsedAt = time.Now() }

// Close sends QUIT best-effort and closes the underlying socket
// (spec §4.7 "Quit": "expect 221 but do not fail if missing").
func (c *Connection) Close() error {
	if c.state != StateClosed {
		c.wire.Cmd("QUIT")
		c.state = StateClosed
	}
	return c.netConn.Close()
}

// Drop closes the connection without attempting a graceful QUIT, for the
// cancellation-safety path (spec §8 property 9: "a send cancelled between
// MAIL and DATA results in the connection being dropped, not returned").
func (c *Connection) Drop() error {
	c.state = StateClosed
	return c.netConn.Close()
}
