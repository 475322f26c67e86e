package smtpengine

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/submitkit/mailsubmit"
	"github.com/submitkit/mailsubmit/internal/textproto"
)

// Open dials addr, performs the greeting/EHLO/[StartTls/EHLO]/[Auth]
// sequence described in spec §4.7, and returns a ready-to-submit
// Connection. It is the constructor the pool package uses to build a new
// pooled connection, and can also be called directly for a one-shot send.
func Open(ctx context.Context, addr string, cfg Config) (*Connection, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("smtpengine: dialing", "addr", addr, "security", cfg.Security)

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	var nc net.Conn
	var err error
	if cfg.Security == SecurityImplicitTLS {
		nc, err = dialImplicitTLS(connectCtx, addr, cfg)
	} else {
		var d net.Dialer
		nc, err = d.DialContext(connectCtx, "tcp", addr)
	}
	if err != nil {
		if connectCtx.Err() != nil {
			logger.Warn("smtpengine: connect timed out", "addr", addr, "err", err)
			return nil, &mailsubmit.TimeoutError{Stage: "connect", Err: err}
		}
		logger.Warn("smtpengine: dial failed", "addr", addr, "err", err)
		return nil, &mailsubmit.ConnectError{Reason: "dial " + addr, Err: err}
	}

	helloName := cfg.HelloName
	if helloName == "" {
		helloName = identityFor(nc)
	}

	conn := &Connection{
		wire:      textproto.NewConn(nc),
		netConn:   nc,
		createdAt: time.Now(),
		isTLS:     cfg.Security == SecurityImplicitTLS,
	}
	conn.Touch()

	if err := readGreeting(ctx, conn, cfg); err != nil {
		logger.Warn("smtpengine: greeting failed", "addr", addr, "err", err)
		nc.Close()
		return nil, err
	}
	conn.state = StateGreeting
	logger.Debug("smtpengine: greeting received", "hostname", conn.hostname)

	if err := ehlo(ctx, conn, cfg, helloName); err != nil {
		logger.Warn("smtpengine: EHLO failed", "addr", addr, "err", err)
		nc.Close()
		return nil, err
	}
	conn.state = StateEhlo
	logger.Debug("smtpengine: EHLO complete", "helo_name", helloName)

	if err := negotiateTLS(ctx, conn, cfg, helloName); err != nil {
		logger.Warn("smtpengine: STARTTLS negotiation failed", "addr", addr, "err", err)
		nc.Close()
		return nil, err
	}

	if len(cfg.Mechanisms) > 0 {
		if err := authenticate(ctx, conn, cfg); err != nil {
			logger.Warn("smtpengine: authentication failed", "addr", addr, "err", err)
			nc.Close()
			return nil, err
		}
		conn.state = StateAuth
		logger.Debug("smtpengine: authenticated")
	}

	logger.Debug("smtpengine: connection ready", "addr", addr, "tls", conn.isTLS)
	return conn, nil
}

func dialImplicitTLS(ctx context.Context, addr string, cfg Config) (net.Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	host, _, _ := net.SplitHostPort(addr)
	tlsConn := tls.Client(nc, tlsConfigFor(host, cfg.Verifier))
	handshakeCtx, cancel := context.WithTimeout(ctx, cfg.TLSTimeout)
	defer cancel()
	if err := tlsConn.HandshakeContext(handshakeCtx); err != nil {
		nc.Close()
		return nil, err
	}
	return tlsConn, nil
}

func readGreeting(ctx context.Context, conn *Connection, cfg Config) error {
	conn.netConn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	reply, err := conn.wire.ReadReply()
	if err != nil {
		return &mailsubmit.ConnectError{Reason: "reading greeting", Err: err}
	}
	if reply.Code != int(mailsubmit.ReplyServiceReady) {
		return &mailsubmit.ConnectError{Reason: "greeting rejected", Err: replyToSMTPError(reply)}
	}
	if len(reply.Lines) > 0 {
		conn.hostname = reply.Lines[0]
	}
	return nil
}

// ehlo sends EHLO with a client identity and falls back to HELO once on a
// 5xx reply (spec §4.7 "Ehlo": "on 5xx fall back to HELO once").
func ehlo(ctx context.Context, conn *Connection, cfg Config, helloName string) error {
	conn.netConn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
	conn.netConn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))

	reply, err := conn.wire.Cmd("EHLO %s", helloName)
	if err != nil {
		return &mailsubmit.ProtocolError{Reason: "EHLO", Err: err}
	}
	if reply.Code == int(mailsubmit.ReplyOK) {
		conn.exts = mailsubmit.ParseEHLOResponse(reply.Lines)
		return nil
	}
	if reply.Code >= 500 {
		reply, err = conn.wire.Cmd("HELO %s", helloName)
		if err != nil {
			return &mailsubmit.ProtocolError{Reason: "HELO", Err: err}
		}
		if reply.Code != int(mailsubmit.ReplyOK) {
			return &mailsubmit.ConnectError{Reason: "HELO rejected", Err: replyToSMTPError(reply)}
		}
		conn.exts = nil
		return nil
	}
	return &mailsubmit.ConnectError{Reason: "EHLO rejected", Err: replyToSMTPError(reply)}
}

// negotiateTLS implements spec §4.7's StartTls state: entered only if
// security mode is Opportunistic-and-offered or Required.
func negotiateTLS(ctx context.Context, conn *Connection, cfg Config, helloName string) error {
	if conn.isTLS {
		return nil
	}
	offered := conn.exts.Has(mailsubmit.ExtSTARTTLS)
	switch cfg.Security {
	case SecurityNone:
		return nil
	case SecurityOpportunistic:
		if !offered {
			return nil
		}
	case SecurityRequired:
		if !offered {
			return &mailsubmit.ConnectError{Reason: mailsubmit.ErrStartTlsNotOffered, Permanent: true}
		}
	default:
		return nil
	}

	conn.netConn.SetDeadline(time.Now().Add(cfg.WriteTimeout))
	reply, err := conn.wire.Cmd("STARTTLS")
	if err != nil {
		return &mailsubmit.ProtocolError{Reason: "STARTTLS", Err: err}
	}
	if reply.Code != int(mailsubmit.ReplyServiceReady) {
		return &mailsubmit.ConnectError{Reason: "STARTTLS rejected", Err: replyToSMTPError(reply)}
	}

	host, _, _ := net.SplitHostPort(conn.netConn.RemoteAddr().String())
	tlsConn := tls.Client(conn.netConn, tlsConfigFor(host, cfg.Verifier))
	handshakeCtx, cancel := context.WithTimeout(ctx, cfg.TLSTimeout)
	defer cancel()
	if err := tlsConn.HandshakeContext(handshakeCtx); err != nil {
		return &mailsubmit.ConnectError{Reason: "TLS handshake", Err: err}
	}

	conn.netConn = tlsConn
	conn.wire.ReplaceConn(tlsConn)
	conn.isTLS = true
	conn.state = StateStartTLS

	// Discard prior capabilities and re-EHLO over the encrypted stream
	// (spec §4.7 "on success, discard prior capabilities and re-EHLO").
	conn.exts = nil
	return ehlo(ctx, conn, cfg, helloName)
}

// identityFor picks the client identity for EHLO/HELO: an FQDN if one can
// be resolved, otherwise the bracketed local IP literal, otherwise
// "[127.0.0.1]" (spec §4.7 "Ehlo").
func identityFor(nc net.Conn) string {
	if h, err := os.Hostname(); err == nil && h != "" && strings.Contains(h, ".") {
		return h
	}
	if local, ok := nc.LocalAddr().(*net.TCPAddr); ok && local.IP != nil {
		return fmt.Sprintf("[%s]", local.IP.String())
	}
	return "[127.0.0.1]"
}
