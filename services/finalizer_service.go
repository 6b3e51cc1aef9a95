package services

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog/log"

	"go.duodoo.tech/fedlogin/domain"
	serrors "go.duodoo.tech/fedlogin/errors"
)

// FinalizeOutcome is the result of running the login strategy chain.
// Exactly one of SID or FinalizationToken is set: SID when a session was
// established directly, FinalizationToken when the caller must redirect
// through the redeem endpoint.
type FinalizeOutcome struct {
	SID               string
	FinalizationToken string
	RedirectURL       string
}

// finalizationGrant is what a one-time token redeems into.
type finalizationGrant struct {
	AccountID string
	TenantKey string
	IssuedAt  time.Time
}

// LoginStrategy is one way of turning a resolved account into a session.
// Strategies are tried in order; the first success wins.
type LoginStrategy interface {
	Name() string
	Establish(ctx context.Context, account *domain.LocalAccount, tenantKey string) (*FinalizeOutcome, error)
}

// FinalizerService establishes a working session for a resolved account,
// with an ordered fallback chain instead of nested per-caller rescue
// blocks. Finalization tokens are single-use and expire on their own TTL,
// independent of the pairing session TTL.
type FinalizerService struct {
	sessions   domain.SessionStore
	strategies []LoginStrategy
	grants     *ttlcache.Cache[string, finalizationGrant]
	outcomes   *ttlcache.Cache[string, *FinalizeOutcome]
	tokenTTL   time.Duration
	landingURL string
}

// NewFinalizerService creates a FinalizerService with the standard
// strategy order: credential login first, then the one-time token path.
func NewFinalizerService(sessions domain.SessionStore, tokenTTL time.Duration, landingURL string) *FinalizerService {
	grants := ttlcache.New(
		ttlcache.WithTTL[string, finalizationGrant](tokenTTL),
		ttlcache.WithDisableTouchOnHit[string, finalizationGrant](),
	)
	go grants.Start()

	outcomes := ttlcache.New(
		ttlcache.WithTTL[string, *FinalizeOutcome](tokenTTL),
		ttlcache.WithDisableTouchOnHit[string, *FinalizeOutcome](),
	)
	go outcomes.Start()

	s := &FinalizerService{
		sessions:   sessions,
		grants:     grants,
		outcomes:   outcomes,
		tokenTTL:   tokenTTL,
		landingURL: landingURL,
	}
	s.strategies = []LoginStrategy{
		&credentialStrategy{sessions: sessions},
		&tokenStrategy{finalizer: s},
	}
	return s
}

// Stop shuts down the cache janitor goroutines.
func (s *FinalizerService) Stop() {
	s.grants.Stop()
	s.outcomes.Stop()
}

// Finalize runs the strategy chain. Failures are never retried silently;
// when every strategy is exhausted the caller gets LoginFailed with no
// credential or internal detail attached.
func (s *FinalizerService) Finalize(ctx context.Context, account *domain.LocalAccount, tenantKey string) (*FinalizeOutcome, error) {
	for _, strategy := range s.strategies {
		outcome, err := strategy.Establish(ctx, account, tenantKey)
		if err == nil {
			if outcome.RedirectURL == "" {
				outcome.RedirectURL = s.landingURL
			}
			log.Info().
				Str("account_id", account.ID).
				Str("strategy", strategy.Name()).
				Msg("Login finalized")
			return outcome, nil
		}
		log.Debug().
			Err(err).
			Str("account_id", account.ID).
			Str("strategy", strategy.Name()).
			Msg("Login strategy failed, trying next")
	}
	log.Warn().Str("account_id", account.ID).Msg("All login strategies exhausted")
	return nil, serrors.NewLoginFailed()
}

// FinalizeOnce runs the strategy chain at most once per key and replays
// the same outcome on later calls. Pollers that keep polling a confirmed
// pairing therefore see one finalization token, not a new live token per
// poll.
func (s *FinalizerService) FinalizeOnce(ctx context.Context, key string, account *domain.LocalAccount, tenantKey string) (*FinalizeOutcome, error) {
	if item := s.outcomes.Get(key); item != nil {
		return item.Value(), nil
	}
	outcome, err := s.Finalize(ctx, account, tenantKey)
	if err != nil {
		return nil, err
	}
	s.outcomes.Set(key, outcome, s.tokenTTL)
	return outcome, nil
}

// IssueToken mints a one-time finalization token bound to the account.
func (s *FinalizerService) IssueToken(_ context.Context, accountID, tenantKey string) (string, error) {
	token, err := newOpaqueToken()
	if err != nil {
		return "", err
	}
	s.grants.Set(token, finalizationGrant{
		AccountID: accountID,
		TenantKey: tenantKey,
		IssuedAt:  time.Now().UTC(),
	}, s.tokenTTL)
	return token, nil
}

// Redeem consumes a finalization token and creates the session record
// directly. The token is removed atomically before use, so of any number
// of concurrent redeems exactly one can succeed.
func (s *FinalizerService) Redeem(ctx context.Context, token string) (*domain.SessionRecord, string, error) {
	item, present := s.grants.GetAndDelete(token)
	if !present || item == nil {
		return nil, "", serrors.NewLoginFailed()
	}
	grant := item.Value()

	if time.Since(grant.IssuedAt) > s.tokenTTL {
		return nil, "", serrors.NewLoginFailed()
	}

	sid, err := newOpaqueToken()
	if err != nil {
		return nil, "", err
	}
	record := &domain.SessionRecord{
		SID:       sid,
		AccountID: grant.AccountID,
		TenantKey: grant.TenantKey,
		WriteTime: time.Now().UTC(),
	}
	if err := s.sessions.Upsert(ctx, record); err != nil {
		log.Error().Err(err).Str("account_id", grant.AccountID).Msg("Failed to store session on token redeem")
		return nil, "", serrors.NewLoginFailed()
	}
	return record, s.landingURL, nil
}

// credentialStrategy is the standard credential-based establishment. It
// only applies to accounts that hold a usable local credential;
// federation-only accounts fall through to the token path.
type credentialStrategy struct {
	sessions domain.SessionStore
}

func (c *credentialStrategy) Name() string { return "credential" }

func (c *credentialStrategy) Establish(ctx context.Context, account *domain.LocalAccount, tenantKey string) (*FinalizeOutcome, error) {
	if account.FederationOnly || account.CredentialHash == "" {
		return nil, serrors.NewLoginFailed()
	}
	sid, err := newOpaqueToken()
	if err != nil {
		return nil, err
	}
	record := &domain.SessionRecord{
		SID:       sid,
		AccountID: account.ID,
		TenantKey: tenantKey,
		WriteTime: time.Now().UTC(),
	}
	if err := c.sessions.Upsert(ctx, record); err != nil {
		return nil, err
	}
	return &FinalizeOutcome{SID: sid}, nil
}

// tokenStrategy issues the deferred one-time token and points the caller
// at the redeem endpoint.
type tokenStrategy struct {
	finalizer *FinalizerService
}

func (t *tokenStrategy) Name() string { return "finalization-token" }

func (t *tokenStrategy) Establish(ctx context.Context, account *domain.LocalAccount, tenantKey string) (*FinalizeOutcome, error) {
	token, err := t.finalizer.IssueToken(ctx, account.ID, tenantKey)
	if err != nil {
		return nil, err
	}
	return &FinalizeOutcome{
		FinalizationToken: token,
		RedirectURL:       "/auth/finalize?token=" + token,
	}, nil
}
