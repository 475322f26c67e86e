package mailsubmit

import (
	"errors"
	"fmt"

	"github.com/emersion/go-sasl"
)

// SASLMechanism is the client-side SASL authentication contract (spec
// §4.6). It is exactly github.com/emersion/go-sasl's Client interface:
// Start returns the IANA mechanism name and an optional initial response,
// Next answers a server challenge.
type SASLMechanism = sasl.Client

// Credentials names the supported credential shapes for SASL
// authentication (spec §6 "credentials {username, password} | XOAuth2(token)").
type Credentials struct {
	Identity string // Authorization identity, usually empty (PLAIN only).
	Username string
	Password string // Used by PLAIN and LOGIN.
	Token    string // Used by XOAUTH2 (an OAuth2 bearer token).
}

// PlainAuth returns a SASLMechanism implementing SASL PLAIN (RFC 4616),
// delegating to go-sasl's client implementation.
func PlainAuth(identity, username, password string) SASLMechanism {
	return sasl.NewPlainClient(identity, username, password)
}

// LoginAuth returns a SASLMechanism implementing the LOGIN mechanism
// (widely deployed, draft-murchison-sasl-login), delegating to go-sasl.
func LoginAuth(username, password string) SASLMechanism {
	return sasl.NewLoginClient(username, password)
}

// XOAuth2Auth returns a SASLMechanism implementing SASL XOAUTH2, used by
// Gmail and Office 365 OAuth2 authentication. go-sasl does not ship this
// mechanism, so it is hand-written here against the same sasl.Client
// contract (see DESIGN.md).
func XOAuth2Auth(username, token string) SASLMechanism {
	return &xoauth2Client{username: username, token: token}
}

type xoauth2Client struct {
	username string
	token    string
	started  bool
}

func (c *xoauth2Client) Start() (mech string, ir []byte, err error) {
	c.started = true
	ir = []byte(fmt.Sprintf("user=%s\x01auth=Bearer %s\x01\x01", c.username, c.token))
	return "XOAUTH2", ir, nil
}

// Next handles the server's continuation. On failure, Google's XOAUTH2
// servers send a JSON error payload as a 334 continuation; the client must
// answer with an empty response to let the server send its final 5xx.
func (c *xoauth2Client) Next(challenge []byte) ([]byte, error) {
	if !c.started {
		return nil, errors.New("mailsubmit: xoauth2: Next called before Start")
	}
	return []byte{}, nil
}

// MechanismFor builds the SASLMechanism for a named mechanism (as
// advertised by AUTH and selected by intersecting with caller preference)
// using the supplied credentials. Returns an error if creds do not satisfy
// the chosen mechanism (e.g. LOGIN selected but no Password supplied).
func MechanismFor(name string, creds Credentials) (SASLMechanism, error) {
	switch name {
	case "PLAIN":
		if creds.Username == "" {
			return nil, errors.New("mailsubmit: PLAIN requires a username")
		}
		return PlainAuth(creds.Identity, creds.Username, creds.Password), nil
	case "LOGIN":
		if creds.Username == "" {
			return nil, errors.New("mailsubmit: LOGIN requires a username")
		}
		return LoginAuth(creds.Username, creds.Password), nil
	case "XOAUTH2":
		if creds.Username == "" || creds.Token == "" {
			return nil, errors.New("mailsubmit: XOAUTH2 requires a username and token")
		}
		return XOAuth2Auth(creds.Username, creds.Token), nil
	default:
		return nil, fmt.Errorf("mailsubmit: unsupported SASL mechanism %q", name)
	}
}

// SelectMechanism intersects the caller's ordered mechanism preference with
// the server's advertised AUTH mechanism list (order-preserving on the
// caller's preference, per spec §4.6) and returns the first match. Returns
// an error before any network I/O when there is no overlap — spec §4.6
// treats this as a configuration error.
func SelectMechanism(preferred []string, advertised []string) (string, error) {
	offered := make(map[string]bool, len(advertised))
	for _, m := range advertised {
		offered[normalizeMechName(m)] = true
	}
	for _, want := range preferred {
		if offered[normalizeMechName(want)] {
			return normalizeMechName(want), nil
		}
	}
	return "", fmt.Errorf("mailsubmit: no SASL mechanism overlap: preferred %v, server offers %v", preferred, advertised)
}

func normalizeMechName(m string) string {
	// AUTH mechanism names are case-insensitive tokens; upper-casing keeps
	// comparisons and the wire "AUTH <mech>" command consistent.
	out := make([]byte, len(m))
	for i := 0; i < len(m); i++ {
		c := m[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
