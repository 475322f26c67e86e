package smtpengine

import (
	"crypto/tls"
	"crypto/x509"
)

// Verifier is the abstract TLS certificate contract the engine consumes
// (spec §6 "TLS verifier"). Spec §1 explicitly excludes the choice of TLS
// library from this design's scope; abstracting behind this interface
// keeps crypto/tls as an implementation detail the caller can replace,
// without the engine importing a specific verification library.
type Verifier interface {
	// Verify is called with the server name from SNI/hello and the
	// certificate chain presented during the handshake. Returning a
	// non-nil error fails the handshake.
	Verify(serverName string, chain []*x509.Certificate) error
	// MinProtocolVersion returns the minimum acceptable TLS version.
	MinProtocolVersion() uint16
}

// VerifierOptions configures the default crypto/tls-backed Verifier
// (spec §6: "{accept_invalid_hostnames, accept_invalid_certs, root_store}").
type VerifierOptions struct {
	AcceptInvalidHostnames bool
	AcceptInvalidCerts     bool
	RootCAs                *x509.CertPool
	MinProtocolVersion     uint16
}

// defaultVerifier wraps the standard library's crypto/tls certificate
// verification. It is the default Verifier, used unless the caller
// supplies its own — spec §1 abstracts the choice of TLS library, not the
// existence of one, and crypto/tls is the standard implementation every
// pack repo relies on.
type defaultVerifier struct {
	opts VerifierOptions
}

// NewDefaultVerifier returns a Verifier backed by crypto/tls's own
// certificate verification, honoring opts.
func NewDefaultVerifier(opts VerifierOptions) Verifier {
	if opts.MinProtocolVersion == 0 {
		opts.MinProtocolVersion = tls.VersionTLS12
	}
	return &defaultVerifier{opts: opts}
}

func (v *defaultVerifier) MinProtocolVersion() uint16 { return v.opts.MinProtocolVersion }

func (v *defaultVerifier) Verify(serverName string, chain []*x509.Certificate) error {
	if v.opts.AcceptInvalidCerts || len(chain) == 0 {
		return nil
	}
	pool := v.opts.RootCAs
	verifyOpts := x509.VerifyOptions{
		Roots:         pool,
		Intermediates: x509.NewCertPool(),
	}
	if !v.opts.AcceptInvalidHostnames {
		verifyOpts.DNSName = serverName
	}
	for _, cert := range chain[1:] {
		verifyOpts.Intermediates.AddCert(cert)
	}
	_, err := chain[0].Verify(verifyOpts)
	return err
}

// tlsConfigFor builds a *tls.Config that routes certificate verification
// through v, since crypto/tls's own InsecureSkipVerify+
// VerifyPeerCertificate hook is the standard way to plug in a custom
// verifier without disabling the handshake itself.
func tlsConfigFor(serverName string, v Verifier) *tls.Config {
	cfg := &tls.Config{
		ServerName:         serverName,
		MinVersion:         v.MinProtocolVersion(),
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			certs := make([]*x509.Certificate, 0, len(rawCerts))
			for _, raw := range rawCerts {
				cert, err := x509.ParseCertificate(raw)
				if err != nil {
					return err
				}
				certs = append(certs, cert)
			}
			return v.Verify(serverName, certs)
		},
	}
	return cfg
}
