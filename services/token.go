package services

import (
	"crypto/rand"
	"encoding/base64"
)

// newOpaqueToken returns a 256-bit unguessable URL-safe token. Used for
// pairing session ids, session sids, and finalization tokens.
func newOpaqueToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
