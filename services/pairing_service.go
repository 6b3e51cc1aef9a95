package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"go.duodoo.tech/fedlogin/domain"
	serrors "go.duodoo.tech/fedlogin/errors"
	"go.duodoo.tech/fedlogin/internal/provider"
)

// Initiation is what the browser gets back when it starts a login attempt.
type Initiation struct {
	PairingID    string    `json:"pairing_id"`
	AuthorizeURL string    `json:"authorize_url"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// PollResult is the status-check response for the browser's poll loop.
// Terminal statuses tell the poller to stop; confirmed additionally
// carries either the single-use finalization token and where to take it,
// or a directly established session id the transport layer turns into a
// cookie (never serialized into the body).
type PollResult struct {
	Status            domain.PairingStatus `json:"status"`
	RedirectURL       string               `json:"redirect_url,omitempty"`
	FinalizationToken string               `json:"finalization_token,omitempty"`
	SID               string               `json:"-"`
}

// PairingService drives a login attempt from initiation through the
// provider callback to confirmation, and owns the periodic sweeps.
type PairingService struct {
	pairings   domain.PairingSessionRepository
	configRepo domain.ProviderConfigRepository
	tokens     domain.IdentityTokenRepository
	accounts   domain.AccountRepository
	exchange   *provider.Client
	resolver   *ResolverService
	finalizer  *FinalizerService

	ttl       time.Duration
	retention time.Duration
}

// NewPairingService creates a PairingService.
func NewPairingService(
	pairings domain.PairingSessionRepository,
	configRepo domain.ProviderConfigRepository,
	tokens domain.IdentityTokenRepository,
	accounts domain.AccountRepository,
	exchange *provider.Client,
	resolver *ResolverService,
	finalizer *FinalizerService,
	ttl, retention time.Duration,
) *PairingService {
	return &PairingService{
		pairings:   pairings,
		configRepo: configRepo,
		tokens:     tokens,
		accounts:   accounts,
		exchange:   exchange,
		resolver:   resolver,
		finalizer:  finalizer,
		ttl:        ttl,
		retention:  retention,
	}
}

// Initiate creates a pending pairing session for the tenant's active
// provider and returns the authorization URL embedding the session id as
// the state parameter.
func (s *PairingService) Initiate(ctx context.Context, tenantKey string) (*Initiation, error) {
	cfg, err := s.configRepo.GetActive(ctx, tenantKey)
	if err != nil {
		if errors.Is(err, serrors.ErrConfigMissing) {
			return nil, serrors.NewConfigMissing("federation is not configured for this tenant")
		}
		return nil, err
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	session := &domain.PairingSession{
		ID:               id,
		ProviderConfigID: cfg.ID,
		Status:           domain.PairingStatusPending,
		CreatedAt:        now,
		ExpiresAt:        now.Add(s.ttl),
	}
	if err := s.pairings.Create(ctx, session); err != nil {
		return nil, err
	}

	return &Initiation{
		PairingID:    id,
		AuthorizeURL: provider.AuthorizeURL(cfg, id),
		ExpiresAt:    session.ExpiresAt,
	}, nil
}

// MarkScanned records that an external app is looking at the QR code.
// Only valid from pending; an invalid-state call is a no-op failure the
// caller reports, never a crash.
func (s *PairingService) MarkScanned(ctx context.Context, id, externalOpenID string) error {
	_, err := s.pairings.MarkScanned(ctx, id, externalOpenID)
	return err
}

// Cancel terminates a live session at the user's request.
func (s *PairingService) Cancel(ctx context.Context, id string) error {
	_, err := s.pairings.Cancel(ctx, id)
	return err
}

// HandleCallback processes the provider redirect carrying code and state.
// The state must match a live (pending or scanned) session; anything else
// is a CSRF-relevant mismatch, logged as a security event and rejected
// without retry.
func (s *PairingService) HandleCallback(ctx context.Context, state, code, errParam, errDesc string) (*domain.PairingSession, error) {
	session, err := s.pairings.GetByID(ctx, state)
	if err != nil || session.Status.Terminal() {
		log.Warn().
			Str("state", state).
			Str("remote_error", errParam).
			Msg("Callback state does not match a live pairing session")
		return nil, serrors.NewStateMismatch("unknown or spent state parameter")
	}

	if errParam != "" {
		// The provider declined before issuing a code. Terminal for this
		// attempt; the poller sees canceled and stops.
		_, _ = s.pairings.Cancel(ctx, session.ID)
		log.Warn().Str("state", state).Str("remote_error", errParam).Msg("Provider reported authorization error on callback")
		return nil, serrors.NewProviderError(0, errDesc)
	}
	if code == "" {
		_, _ = s.pairings.Cancel(ctx, session.ID)
		return nil, serrors.NewStateMismatch("callback carried no authorization code")
	}

	cfg, err := s.configRepo.GetByID(ctx, session.ProviderConfigID)
	if err != nil {
		return nil, err
	}

	result, err := s.exchange.ExchangeCode(ctx, cfg, code)
	if err != nil {
		_, _ = s.pairings.Cancel(ctx, session.ID)
		return nil, err
	}
	if !result.OK {
		_, _ = s.pairings.Cancel(ctx, session.ID)
		return nil, result.Err()
	}
	token := result.Token

	if err := s.tokens.Upsert(ctx, token); err != nil {
		log.Error().Err(err).Msg("Failed to persist identity token after exchange")
	}

	profile := s.fetchProfile(ctx, cfg, token)

	account, err := s.resolver.Resolve(ctx, cfg.ID, token.ExternalOpenID, token.ExternalUnionID, profile)
	if err != nil {
		_, _ = s.pairings.Cancel(ctx, session.ID)
		return nil, err
	}

	confirmed, err := s.pairings.Confirm(ctx, session.ID, account.ID)
	if err != nil {
		// Lost to the sweep or a concurrent cancel: the attempt is over.
		return nil, serrors.NewStateMismatch("pairing session no longer live")
	}

	now := time.Now().UTC()
	account.LastLoginAt = &now
	if err := s.accounts.Update(ctx, account); err != nil {
		log.Warn().Err(err).Str("account_id", account.ID).Msg("Failed to stamp last login")
	}

	return confirmed, nil
}

// fetchProfile is opportunistic: a failed profile call never fails the
// login, it just yields an empty last-observed profile.
func (s *PairingService) fetchProfile(ctx context.Context, cfg *domain.ProviderConfig, token *domain.ExternalIdentityToken) domain.Profile {
	if cfg.UserInfoURL == "" {
		return domain.Profile{}
	}
	info, err := s.exchange.FetchUserInfo(ctx, cfg, token.ExternalOpenID, token.AccessToken)
	if err != nil {
		log.Debug().Err(err).Msg("Profile fetch failed, continuing without")
		return domain.Profile{}
	}
	return domain.Profile{
		DisplayName: info.Nickname,
		AvatarURL:   info.Avatar,
		Gender:      info.Gender,
		Country:     info.Country,
		Province:    info.Province,
		City:        info.City,
	}
}

// Status implements the polling contract. On confirmed the login strategy
// chain runs once per pairing and its outcome is replayed on every later
// poll, so polling never accumulates live finalization tokens. A live
// session past its expiry reads as expired even before the sweep has
// caught up.
func (s *PairingService) Status(ctx context.Context, id, tenantKey string) (*PollResult, error) {
	session, err := s.pairings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	status := session.Status
	if !status.Terminal() && time.Now().UTC().After(session.ExpiresAt) {
		status = domain.PairingStatusExpired
	}

	result := &PollResult{Status: status}
	if status == domain.PairingStatusConfirmed {
		account, err := s.accounts.GetByID(ctx, session.LocalAccountID)
		if err != nil {
			return nil, err
		}
		outcome, err := s.finalizer.FinalizeOnce(ctx, session.ID, account, tenantKey)
		if err != nil {
			return nil, err
		}
		result.SID = outcome.SID
		result.FinalizationToken = outcome.FinalizationToken
		result.RedirectURL = outcome.RedirectURL
	}
	return result, nil
}

// FinalizeLogin runs the login strategy chain for a confirmed session's
// account. Used by the callback transport, which establishes the login on
// the browser that carried the provider redirect.
func (s *PairingService) FinalizeLogin(ctx context.Context, accountID, tenantKey string) (*FinalizeOutcome, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		log.Error().Err(err).Str("account_id", accountID).Msg("Confirmed session references unknown account")
		return nil, serrors.NewLoginFailed()
	}
	return s.finalizer.Finalize(ctx, account, tenantKey)
}

// FreshAccessToken returns a usable access token for a federated
// identity, refreshing first when the stored one is past expiry. A failed
// refresh leaves the stored pair untouched and surfaces as
// TokenRefreshFailed: the federation is broken until re-authorized.
func (s *PairingService) FreshAccessToken(ctx context.Context, providerConfigID, externalOpenID string) (string, error) {
	token, err := s.tokens.GetByOpenID(ctx, providerConfigID, externalOpenID)
	if err != nil {
		return "", err
	}
	if token.AccessToken == "" {
		return "", serrors.NewTokenRefreshFailed("identity tokens were revoked")
	}
	if !token.Expired(time.Now().UTC()) {
		return token.AccessToken, nil
	}

	cfg, err := s.configRepo.GetByID(ctx, providerConfigID)
	if err != nil {
		return "", err
	}
	result, err := s.exchange.Refresh(ctx, cfg, token.RefreshToken)
	if err != nil {
		return "", err
	}
	if !result.OK {
		return "", serrors.NewTokenRefreshFailed(result.ErrorDescription)
	}

	fresh := result.Token
	fresh.ExternalOpenID = token.ExternalOpenID
	fresh.ExternalUnionID = token.ExternalUnionID
	if err := s.tokens.Upsert(ctx, fresh); err != nil {
		return "", err
	}
	return fresh.AccessToken, nil
}

// Revoke invalidates an account's federation: best-effort provider-side
// revocation, local token material cleared (the record survives), any
// live pairing sessions canceled.
func (s *PairingService) Revoke(ctx context.Context, accountID string) error {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}

	if account.ProviderConfigID != "" && account.ExternalOpenID != "" {
		token, err := s.tokens.GetByOpenID(ctx, account.ProviderConfigID, account.ExternalOpenID)
		if err == nil && token.AccessToken != "" {
			if cfg, cfgErr := s.configRepo.GetByID(ctx, account.ProviderConfigID); cfgErr == nil {
				if revokeErr := s.exchange.Revoke(ctx, cfg, account.ExternalOpenID, token.AccessToken); revokeErr != nil {
					log.Warn().Err(revokeErr).Str("account_id", accountID).Msg("Provider-side revocation failed")
				}
			}
		}
		if err == nil {
			if err := s.tokens.Revoke(ctx, account.ProviderConfigID, account.ExternalOpenID); err != nil {
				return err
			}
		}
	}

	canceled, err := s.pairings.CancelByAccount(ctx, accountID)
	if err != nil {
		return err
	}
	log.Info().Str("account_id", accountID).Int64("canceled_sessions", canceled).Msg("Federation revoked")
	return nil
}

// Sweep advances expired sessions and purges those past retention. Safe
// to run concurrently with traffic and with itself: both operations only
// move state forward or remove it, never resurrect.
func (s *PairingService) Sweep(ctx context.Context) {
	now := time.Now().UTC()
	if n, err := s.pairings.SweepExpired(ctx, now); err != nil {
		log.Error().Err(err).Msg("Pairing expiry sweep failed")
	} else if n > 0 {
		log.Debug().Int64("expired", n).Msg("Pairing sessions expired")
	}
	if n, err := s.pairings.PurgeOlderThan(ctx, now.Add(-s.retention)); err != nil {
		log.Error().Err(err).Msg("Pairing retention purge failed")
	} else if n > 0 {
		log.Debug().Int64("purged", n).Msg("Pairing sessions purged")
	}
}
