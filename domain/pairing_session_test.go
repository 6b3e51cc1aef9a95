package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPairingStatusTerminal(t *testing.T) {
	assert.False(t, PairingStatusPending.Terminal())
	assert.False(t, PairingStatusScanned.Terminal())
	assert.True(t, PairingStatusConfirmed.Terminal())
	assert.True(t, PairingStatusExpired.Terminal())
	assert.True(t, PairingStatusCanceled.Terminal())
}

func TestIdentityTokenExpired(t *testing.T) {
	now := time.Now().UTC()
	token := &ExternalIdentityToken{ExpiresAt: now.Add(time.Hour)}
	assert.False(t, token.Expired(now))

	token.ExpiresAt = now.Add(-time.Second)
	assert.True(t, token.Expired(now))

	// Boundary: a token expiring exactly now is already unusable.
	token.ExpiresAt = now
	assert.True(t, token.Expired(now))
}
