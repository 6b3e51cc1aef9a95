package domain

import (
	"context"
	"time"
)

// Profile carries the last-observed profile fields from the provider.
// These are opportunistically refreshed on every resolve and never treated
// as authoritative.
type Profile struct {
	DisplayName string `bson:"display_name,omitempty" json:"display_name,omitempty"`
	AvatarURL   string `bson:"avatar_url,omitempty" json:"avatar_url,omitempty"`
	Gender      string `bson:"gender,omitempty" json:"gender,omitempty"` // provider code: "0"/"1"/"2"
	Country     string `bson:"country,omitempty" json:"country,omitempty"`
	Province    string `bson:"province,omitempty" json:"province,omitempty"`
	City        string `bson:"city,omitempty" json:"city,omitempty"`
}

// LocalAccount is a local user account. The external identity fields are
// lookup keys for re-matching a returning federated user; the account does
// not own the provider relationship.
type LocalAccount struct {
	ID               string     `bson:"_id,omitempty" json:"id,omitempty"`
	LoginName        string     `bson:"login_name" json:"login_name"`
	DisplayName      string     `bson:"display_name,omitempty" json:"display_name,omitempty"`
	CredentialHash   string     `bson:"credential_hash,omitempty" json:"-"`
	// FederationOnly marks accounts provisioned from a federated identity
	// with a random, unusable local credential. For these the one-time
	// finalization token is the only valid login path.
	FederationOnly   bool       `bson:"federation_only,omitempty" json:"federation_only,omitempty"`
	ProviderConfigID string     `bson:"provider_config_id,omitempty" json:"provider_config_id,omitempty"`
	ExternalOpenID   string     `bson:"external_open_id,omitempty" json:"external_open_id,omitempty"`
	ExternalUnionID  string     `bson:"external_union_id,omitempty" json:"external_union_id,omitempty"`
	Profile          Profile    `bson:"profile,omitempty" json:"profile,omitempty"`
	CreatedAt        time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `bson:"updated_at" json:"updated_at"`
	LastLoginAt      *time.Time `bson:"last_login_at,omitempty" json:"last_login_at,omitempty"`
}

// AccountRepository persists local accounts. (provider_config_id,
// external_open_id) is unique: at most one account per external identity
// per provider config.
type AccountRepository interface {
	Create(ctx context.Context, account *LocalAccount) error
	GetByID(ctx context.Context, id string) (*LocalAccount, error)
	GetByLoginName(ctx context.Context, loginName string) (*LocalAccount, error)
	GetByOpenID(ctx context.Context, providerConfigID, externalOpenID string) (*LocalAccount, error)
	// GetByUnionID matches on the vendor-wide union id alone, covering a
	// user re-authorizing through a sibling app of the same vendor.
	GetByUnionID(ctx context.Context, externalUnionID string) (*LocalAccount, error)
	Update(ctx context.Context, account *LocalAccount) error
}
