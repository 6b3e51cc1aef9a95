package domain

import (
	"context"
	"time"
)

// ProviderConfig holds the credentials and endpoints of one external
// identity provider application (e.g. a Douyin or WeChat open-platform app).
type ProviderConfig struct {
	ID           string    `bson:"_id,omitempty" json:"id,omitempty"`
	TenantKey    string    `bson:"tenant_key" json:"tenant_key"`
	Name         string    `bson:"name" json:"name"`
	ClientKey    string    `bson:"client_key" json:"client_key"`
	ClientSecret string    `bson:"client_secret" json:"-"` // Never logged or serialized outward.
	AuthorizeURL string    `bson:"authorize_url" json:"authorize_url"`
	TokenURL     string    `bson:"token_url" json:"token_url"`
	RefreshURL   string    `bson:"refresh_url" json:"refresh_url"`
	ClientTokenURL string  `bson:"client_token_url,omitempty" json:"client_token_url,omitempty"`
	UserInfoURL  string    `bson:"user_info_url,omitempty" json:"user_info_url,omitempty"`
	RevokeURL    string    `bson:"revoke_url,omitempty" json:"revoke_url,omitempty"`
	CallbackURL  string    `bson:"callback_url" json:"callback_url"`
	Scope        []string  `bson:"scope" json:"scope"`
	Active       bool      `bson:"active" json:"active"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at" json:"updated_at"`
}

// ProviderConfigRepository persists provider configurations.
// At most one config may be active per tenant; Activate enforces this by
// demoting any previously active config in the same operation.
type ProviderConfigRepository interface {
	Create(ctx context.Context, cfg *ProviderConfig) error
	Update(ctx context.Context, cfg *ProviderConfig) error
	GetByID(ctx context.Context, id string) (*ProviderConfig, error)
	// GetActive returns the single active config for a tenant, or
	// ErrConfigMissing when federation is not configured.
	GetActive(ctx context.Context, tenantKey string) (*ProviderConfig, error)
	// Activate marks the given config active and deactivates any other
	// active config of the same tenant.
	Activate(ctx context.Context, id string) error
	List(ctx context.Context, tenantKey string) ([]*ProviderConfig, error)
}
