// Package relayfixture is a condensed, scriptable single-connection SMTP
// listener used only by smtpengine's and pool's tests to drive spec
// scenarios end to end. It is adapted from the teacher's smtpserver
// package, stripped to what a fixture needs: no handler interfaces, no
// connection limiting, no submission-mode gating — one accepted
// connection per test, its whole conversation scripted inline.
package relayfixture

import (
	"crypto/tls"
	"net"
	"testing"

	"github.com/submitkit/mailsubmit/internal/textproto"
)

// Fixture is a single-use SMTP listener. Tests call Start, launch a
// goroutine that Accepts the one connection and drives its script, then
// dial Addr with the code under test.
type Fixture struct {
	t  testing.TB
	ln net.Listener
}

// Start opens a TCP listener on an ephemeral loopback port. The listener
// and any accepted connection are closed automatically at test cleanup.
func Start(t testing.TB) *Fixture {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("relayfixture: listen: %v", err)
	}
	f := &Fixture{t: t, ln: ln}
	t.Cleanup(func() { ln.Close() })
	return f
}

// Addr returns the listener's dial address (host:port).
func (f *Fixture) Addr() string {
	return f.ln.Addr().String()
}

// Accept blocks for the next inbound connection and wraps it in a
// textproto.Conn. Fails the test on accept error, since every fixture
// test dials exactly the connections it scripts for.
func (f *Fixture) Accept() *textproto.Conn {
	f.t.Helper()
	nc, err := f.ln.Accept()
	if err != nil {
		f.t.Fatalf("relayfixture: accept: %v", err)
	}
	f.t.Cleanup(func() { nc.Close() })
	return textproto.NewConn(nc)
}

// UpgradeServerTLS performs the server side of a STARTTLS handshake on
// conn using cfg, and replaces conn's underlying connection with the
// negotiated TLS connection. Grounded on the teacher's
// smtpserver.session.handleSTARTTLS (session.go), condensed to the bare
// tls.Server/Handshake/ReplaceConn sequence a fixture needs.
func UpgradeServerTLS(t testing.TB, conn *textproto.Conn, cfg *tls.Config) {
	t.Helper()
	tlsConn := tls.Server(conn.NetConn(), cfg)
	if err := tlsConn.Handshake(); err != nil {
		t.Fatalf("relayfixture: TLS handshake: %v", err)
	}
	conn.ReplaceConn(tlsConn)
}

// SelfSignedTLSConfig returns a tls.Config good only for exercising
// STARTTLS transitions in tests; it is never a substitute for the
// engine's certificate verification, which is exercised through the
// Verifier interface, not through this fixture's certificate.
func SelfSignedTLSConfig(t testing.TB) *tls.Config {
	t.Helper()
	cert, err := tls.X509KeyPair(fixtureCertPEM, fixtureKeyPEM)
	if err != nil {
		t.Fatalf("relayfixture: loading fixture certificate: %v", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}
}
