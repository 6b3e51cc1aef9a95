package services

import (
	"context"
	"fmt"
	"net/url"

	"github.com/rs/zerolog/log"

	"go.duodoo.tech/fedlogin/domain"
	serrors "go.duodoo.tech/fedlogin/errors"
	"go.duodoo.tech/fedlogin/internal/provider"
)

// RegistryService administers provider configurations.
type RegistryService struct {
	configRepo domain.ProviderConfigRepository
	exchange   *provider.Client
}

// NewRegistryService creates a RegistryService.
func NewRegistryService(configRepo domain.ProviderConfigRepository, exchange *provider.Client) *RegistryService {
	return &RegistryService{
		configRepo: configRepo,
		exchange:   exchange,
	}
}

// GetActive resolves the active configuration for a tenant.
// ErrConfigMissing is a recoverable condition callers render as
// "federation not configured", not a crash.
func (s *RegistryService) GetActive(ctx context.Context, tenantKey string) (*domain.ProviderConfig, error) {
	return s.configRepo.GetActive(ctx, tenantKey)
}

// Create validates and stores a new provider configuration.
func (s *RegistryService) Create(ctx context.Context, cfg *domain.ProviderConfig) (*domain.ProviderConfig, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if err := s.configRepo.Create(ctx, cfg); err != nil {
		return nil, err
	}
	log.Info().Str("id", cfg.ID).Str("tenant", cfg.TenantKey).Msg("Provider config created")
	return cfg, nil
}

// Update validates and persists changes, e.g. on credential rotation.
func (s *RegistryService) Update(ctx context.Context, cfg *domain.ProviderConfig) (*domain.ProviderConfig, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if err := s.configRepo.Update(ctx, cfg); err != nil {
		return nil, err
	}
	log.Info().Str("id", cfg.ID).Msg("Provider config updated")
	return cfg, nil
}

// Activate makes the config the single active one for its tenant.
func (s *RegistryService) Activate(ctx context.Context, id string) error {
	return s.configRepo.Activate(ctx, id)
}

// List returns all configs of a tenant.
func (s *RegistryService) List(ctx context.Context, tenantKey string) ([]*domain.ProviderConfig, error) {
	return s.configRepo.List(ctx, tenantKey)
}

// TestConnection verifies credentials and reachability by obtaining an
// app-level client-credential token.
func (s *RegistryService) TestConnection(ctx context.Context, id string) error {
	cfg, err := s.configRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.exchange.ClientCredentialToken(ctx, cfg); err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

func validateConfig(cfg *domain.ProviderConfig) error {
	if cfg.ClientKey == "" || cfg.ClientSecret == "" {
		return fmt.Errorf("%w: client key and client secret are required", serrors.ErrInvalidConfig)
	}
	if cfg.TenantKey == "" {
		return fmt.Errorf("%w: tenant key is required", serrors.ErrInvalidConfig)
	}
	u, err := url.Parse(cfg.CallbackURL)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: callback URL must be an absolute http(s) URL", serrors.ErrInvalidConfig)
	}
	for _, endpoint := range []string{cfg.AuthorizeURL, cfg.TokenURL, cfg.RefreshURL} {
		if endpoint == "" {
			return fmt.Errorf("%w: authorize, token, and refresh URLs are required", serrors.ErrInvalidConfig)
		}
	}
	return nil
}
