package pool

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/submitkit/mailsubmit"
	"github.com/submitkit/mailsubmit/smtpengine"
)

// Key identifies a set of interchangeable connections: (hostname, port,
// security-mode, credentials-fingerprint, client-hello-id). Connections
// with different keys are never interchangeable (spec §3 "Pool entry
// key"). Key is comparable and usable directly as a map key.
type Key struct {
	Hostname               string
	Port                   int
	Security               smtpengine.SecurityMode
	CredentialsFingerprint string
	ClientHelloID          uuid.UUID
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d/%d/%s/%s", k.Hostname, k.Port, k.Security, k.CredentialsFingerprint, k.ClientHelloID)
}

// NewKey derives a pool Key from a dial address and the engine
// configuration that will be used to build connections for it.
func NewKey(addr string, cfg smtpengine.Config) (Key, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return Key{}, fmt.Errorf("pool: invalid address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Key{}, fmt.Errorf("pool: invalid port in %q: %w", addr, err)
	}
	return Key{
		Hostname:               host,
		Port:                   port,
		Security:               cfg.Security,
		CredentialsFingerprint: fingerprintCredentials(cfg.Credentials),
		ClientHelloID:          clientHelloID(cfg),
	}, nil
}

// fingerprintCredentials hashes a Credentials value so the pool key never
// carries the raw username/password/token, while still separating
// connections authenticated as different identities.
func fingerprintCredentials(creds mailsubmit.Credentials) string {
	if creds.Username == "" && creds.Token == "" {
		return "anonymous"
	}
	h := sha256.New()
	h.Write([]byte(creds.Identity))
	h.Write([]byte{0})
	h.Write([]byte(creds.Username))
	h.Write([]byte{0})
	h.Write([]byte(creds.Password))
	h.Write([]byte{0})
	h.Write([]byte(creds.Token))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// clientHelloID derives a deterministic UUID from the connection-shaping
// parts of a Config: identical configs collapse to the same ID, so pool
// entries stay interchangeable across calls that build an equivalent
// Config value, while any change to the client's negotiation behavior
// (hello name, security mode, offered mechanisms) forces a distinct pool
// (spec §3 "client-hello-id"). google/uuid's NewSHA1 gives a stable,
// namespaced hash instead of a random ID per call.
func clientHelloID(cfg smtpengine.Config) uuid.UUID {
	name := strings.Join(append([]string{cfg.HelloName}, cfg.Mechanisms...), "|")
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name))
}
