package message

import (
	"crypto/rand"
	"encoding/base64"
)

// messageIDTokenBytes yields a base64 token carrying at least 96 bits of
// randomness (spec §4.2: "token is a URL-safe random of ≥96 bits").
const messageIDTokenBytes = 12

// generateMessageIDToken returns a URL-safe random token suitable as the
// left-hand side of a Message-ID, grounded on BourgeoisBear-email.v2's
// generateMessageID (which combines a random int64 with PID/timestamp;
// this implementation keeps the cryptographic-random idea and drops the
// PID/timestamp concatenation, since spec §4.2 specifies the token as pure
// randomness, not a composite).
func generateMessageIDToken() (string, error) {
	raw := make([]byte, messageIDTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// GenerateMessageID returns a full "<token@domain>" Message-ID header
// value using domain as the right-hand side (typically the sender's
// domain, or a caller-supplied override per spec §4.2).
func GenerateMessageID(domain string) (string, error) {
	token, err := generateMessageIDToken()
	if err != nil {
		return "", err
	}
	return FormatMessageID(token, domain), nil
}
