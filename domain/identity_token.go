package domain

import (
	"context"
	"time"
)

// ExternalIdentityToken holds the provider-issued token pair for one
// federated identity. ExpiresAt is always derived from the provider's
// expires_in at the moment of exchange.
type ExternalIdentityToken struct {
	ID               string    `bson:"_id,omitempty" json:"id,omitempty"`
	ProviderConfigID string    `bson:"provider_config_id" json:"provider_config_id"`
	ExternalOpenID   string    `bson:"external_open_id" json:"external_open_id"`
	ExternalUnionID  string    `bson:"external_union_id,omitempty" json:"external_union_id,omitempty"`
	AccessToken      string    `bson:"access_token,omitempty" json:"-"`
	RefreshToken     string    `bson:"refresh_token,omitempty" json:"-"`
	Scope            string    `bson:"scope,omitempty" json:"scope,omitempty"`
	ExpiresAt        time.Time `bson:"expires_at" json:"expires_at"`
	CreatedAt        time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time `bson:"updated_at" json:"updated_at"`
}

// Expired reports whether the access token is past its expiry. Any use
// past ExpiresAt must go through a refresh first.
func (t *ExternalIdentityToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// IdentityTokenRepository persists external token pairs, one record per
// (provider config, open id).
type IdentityTokenRepository interface {
	// Upsert stores the token pair, replacing any previous pair for the
	// same (provider config, open id).
	Upsert(ctx context.Context, token *ExternalIdentityToken) error
	GetByOpenID(ctx context.Context, providerConfigID, externalOpenID string) (*ExternalIdentityToken, error)
	// Revoke clears the access and refresh tokens but keeps the record so
	// the identity link survives an un-link/re-link cycle.
	Revoke(ctx context.Context, providerConfigID, externalOpenID string) error
}
