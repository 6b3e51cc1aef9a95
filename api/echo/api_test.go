package echo_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "go.duodoo.tech/fedlogin/api/echo"
	"go.duodoo.tech/fedlogin/cache"
	"go.duodoo.tech/fedlogin/domain"
	serrors "go.duodoo.tech/fedlogin/errors"
	"go.duodoo.tech/fedlogin/internal/provider"
	"go.duodoo.tech/fedlogin/services"
)

func TestMain(m *testing.M) {
	log.Logger = zerolog.Nop()
	os.Exit(m.Run())
}

// stubPairingRepo serves only the repository calls the handlers under
// test reach; sessions are keyed in a plain map.
type stubPairingRepo struct {
	sessions map[string]*domain.PairingSession
}

func (s *stubPairingRepo) Create(_ context.Context, session *domain.PairingSession) error {
	s.sessions[session.ID] = session
	return nil
}

func (s *stubPairingRepo) GetByID(_ context.Context, id string) (*domain.PairingSession, error) {
	if session, ok := s.sessions[id]; ok {
		clone := *session
		return &clone, nil
	}
	return nil, serrors.ErrPairingNotFound
}

func (s *stubPairingRepo) MarkScanned(_ context.Context, id, openID string) (*domain.PairingSession, error) {
	session, ok := s.sessions[id]
	if !ok {
		return nil, serrors.ErrPairingNotFound
	}
	if session.Status != domain.PairingStatusPending {
		return nil, serrors.ErrPairingConflict
	}
	session.Status = domain.PairingStatusScanned
	session.ExternalOpenID = openID
	return session, nil
}

func (s *stubPairingRepo) Confirm(_ context.Context, id, accountID string) (*domain.PairingSession, error) {
	session, ok := s.sessions[id]
	if !ok {
		return nil, serrors.ErrPairingNotFound
	}
	if session.Status.Terminal() {
		return nil, serrors.ErrPairingConflict
	}
	session.Status = domain.PairingStatusConfirmed
	session.LocalAccountID = accountID
	return session, nil
}

func (s *stubPairingRepo) Cancel(_ context.Context, id string) (*domain.PairingSession, error) {
	session, ok := s.sessions[id]
	if !ok {
		return nil, serrors.ErrPairingNotFound
	}
	if session.Status.Terminal() {
		return nil, serrors.ErrPairingConflict
	}
	session.Status = domain.PairingStatusCanceled
	return session, nil
}

func (s *stubPairingRepo) CancelByAccount(_ context.Context, _ string) (int64, error) {
	return 0, nil
}

func (s *stubPairingRepo) SweepExpired(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (s *stubPairingRepo) PurgeOlderThan(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type stubConfigRepo struct {
	active  *domain.ProviderConfig
	created *domain.ProviderConfig
}

func (s *stubConfigRepo) Create(_ context.Context, cfg *domain.ProviderConfig) error {
	cfg.ID = "cfg-created"
	s.created = cfg
	return nil
}
func (s *stubConfigRepo) Update(_ context.Context, _ *domain.ProviderConfig) error { return nil }

func (s *stubConfigRepo) GetByID(_ context.Context, id string) (*domain.ProviderConfig, error) {
	if s.active != nil && s.active.ID == id {
		return s.active, nil
	}
	return nil, serrors.ErrConfigMissing
}

func (s *stubConfigRepo) GetActive(_ context.Context, _ string) (*domain.ProviderConfig, error) {
	if s.active != nil {
		return s.active, nil
	}
	return nil, serrors.ErrConfigMissing
}

func (s *stubConfigRepo) Activate(_ context.Context, _ string) error { return nil }

func (s *stubConfigRepo) List(_ context.Context, _ string) ([]*domain.ProviderConfig, error) {
	if s.active != nil {
		return []*domain.ProviderConfig{s.active}, nil
	}
	return nil, nil
}

type stubTokenRepo struct{}

func (stubTokenRepo) Upsert(_ context.Context, _ *domain.ExternalIdentityToken) error { return nil }
func (stubTokenRepo) GetByOpenID(_ context.Context, _, _ string) (*domain.ExternalIdentityToken, error) {
	return nil, serrors.ErrTokenNotFound
}
func (stubTokenRepo) Revoke(_ context.Context, _, _ string) error { return nil }

type stubAccountRepo struct {
	accounts map[string]*domain.LocalAccount
}

func (s *stubAccountRepo) Create(_ context.Context, account *domain.LocalAccount) error {
	account.ID = "acc-new"
	s.accounts[account.ID] = account
	return nil
}

func (s *stubAccountRepo) GetByID(_ context.Context, id string) (*domain.LocalAccount, error) {
	if account, ok := s.accounts[id]; ok {
		return account, nil
	}
	return nil, serrors.ErrAccountNotFound
}

func (s *stubAccountRepo) GetByLoginName(_ context.Context, _ string) (*domain.LocalAccount, error) {
	return nil, serrors.ErrAccountNotFound
}

func (s *stubAccountRepo) GetByOpenID(_ context.Context, _, _ string) (*domain.LocalAccount, error) {
	return nil, serrors.ErrAccountNotFound
}

func (s *stubAccountRepo) GetByUnionID(_ context.Context, _ string) (*domain.LocalAccount, error) {
	return nil, serrors.ErrAccountNotFound
}

func (s *stubAccountRepo) Update(_ context.Context, _ *domain.LocalAccount) error { return nil }

type apiFixture struct {
	router    *echo.Echo
	pairings  *stubPairingRepo
	configs   *stubConfigRepo
	accounts  *stubAccountRepo
	finalizer *services.FinalizerService
	sessions  *cache.MemorySessionStore
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	pairings := &stubPairingRepo{sessions: map[string]*domain.PairingSession{}}
	configs := &stubConfigRepo{active: &domain.ProviderConfig{
		ID:           "cfg-1",
		TenantKey:    "default",
		ClientKey:    "ck",
		ClientSecret: "cs",
		AuthorizeURL: "https://open.example/authorize",
		TokenURL:     "https://open.example/token",
		RefreshURL:   "https://open.example/refresh",
		CallbackURL:  "https://login.example.com/auth/callback",
		Active:       true,
	}}

	sessions := cache.NewMemorySessionStore(time.Hour)
	t.Cleanup(func() { _ = sessions.Close() })
	finalizer := services.NewFinalizerService(sessions, 5*time.Minute, "/web")
	t.Cleanup(finalizer.Stop)

	exchange := provider.NewClient(time.Second)
	t.Cleanup(exchange.Close)

	accounts := &stubAccountRepo{accounts: map[string]*domain.LocalAccount{}}
	pairing := services.NewPairingService(
		pairings, configs, stubTokenRepo{}, accounts,
		exchange, services.NewResolverService(accounts, true), finalizer,
		5*time.Minute, 24*time.Hour,
	)
	registry := services.NewRegistryService(configs, exchange)

	router := echo.New()
	api := echoapi.NewFederationAPI(pairing, finalizer, registry, sessions, "default")
	api.RegisterRoutes(router)

	return &apiFixture{
		router:    router,
		pairings:  pairings,
		configs:   configs,
		accounts:  accounts,
		finalizer: finalizer,
		sessions:  sessions,
	}
}

func TestInitiateHandler(t *testing.T) {
	fx := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/pairings", nil)
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var body struct {
		PairingID    string `json:"pairing_id"`
		AuthorizeURL string `json:"authorize_url"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.PairingID)
	assert.Contains(t, body.AuthorizeURL, "state="+body.PairingID)
}

func TestStatusHandler_UnknownPairing(t *testing.T) {
	fx := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/auth/pairings/nope", nil)
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusHandler_PendingThenScanned(t *testing.T) {
	fx := newAPIFixture(t)

	init := httptest.NewRequest(http.MethodPost, "/auth/pairings", nil)
	initRec := httptest.NewRecorder()
	fx.router.ServeHTTP(initRec, init)
	var created struct {
		PairingID string `json:"pairing_id"`
	}
	require.NoError(t, json.Unmarshal(initRec.Body.Bytes(), &created))

	statusOf := func() string {
		req := httptest.NewRequest(http.MethodGet, "/auth/pairings/"+created.PairingID, nil)
		rec := httptest.NewRecorder()
		fx.router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		var poll struct {
			Status string `json:"status"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &poll))
		return poll.Status
	}
	assert.Equal(t, "pending", statusOf())

	scan := httptest.NewRequest(http.MethodPost, "/auth/pairings/"+created.PairingID+"/scan",
		strings.NewReader(`{"external_open_id":"open-1"}`))
	scan.Header.Set("Content-Type", "application/json")
	scanRec := httptest.NewRecorder()
	fx.router.ServeHTTP(scanRec, scan)
	require.Equal(t, http.StatusOK, scanRec.Code)

	assert.Equal(t, "scanned", statusOf())

	// A second scan call hits the guarded transition and conflicts.
	scan2 := httptest.NewRequest(http.MethodPost, "/auth/pairings/"+created.PairingID+"/scan",
		strings.NewReader(`{"external_open_id":"open-1"}`))
	scan2.Header.Set("Content-Type", "application/json")
	scan2Rec := httptest.NewRecorder()
	fx.router.ServeHTTP(scan2Rec, scan2)
	assert.Equal(t, http.StatusConflict, scan2Rec.Code)
}

func TestCallbackHandler_ForgedState(t *testing.T) {
	fx := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?state=forged&code=x", nil)
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "state_mismatch")
}

func TestFinalizeHandler_SetsCookieAndRedirects(t *testing.T) {
	fx := newAPIFixture(t)

	token, err := fx.finalizer.IssueToken(context.Background(), "acc-1", "default")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/auth/finalize?token="+token, nil)
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/web", rec.Header().Get("Location"))

	cookies := rec.Result().Cookies()
	var sid string
	for _, cookie := range cookies {
		if cookie.Name == echoapi.SessionCookieName {
			sid = cookie.Value
		}
	}
	require.NotEmpty(t, sid)

	record, err := fx.sessions.Get(context.Background(), sid)
	require.NoError(t, err)
	assert.Equal(t, "acc-1", record.AccountID)
}

func TestFinalizeHandler_ReplayFails(t *testing.T) {
	fx := newAPIFixture(t)

	token, err := fx.finalizer.IssueToken(context.Background(), "acc-1", "default")
	require.NoError(t, err)

	first := httptest.NewRequest(http.MethodGet, "/auth/finalize?token="+token, nil)
	firstRec := httptest.NewRecorder()
	fx.router.ServeHTTP(firstRec, first)
	require.Equal(t, http.StatusFound, firstRec.Code)

	replay := httptest.NewRequest(http.MethodGet, "/auth/finalize?token="+token, nil)
	replayRec := httptest.NewRecorder()
	fx.router.ServeHTTP(replayRec, replay)
	assert.Equal(t, http.StatusUnauthorized, replayRec.Code)
}

func TestLogoutHandler(t *testing.T) {
	fx := newAPIFixture(t)

	require.NoError(t, fx.sessions.Upsert(context.Background(), &domain.SessionRecord{
		SID:       "sid-1",
		AccountID: "acc-1",
	}))

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: echoapi.SessionCookieName, Value: "sid-1"})
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	_, err := fx.sessions.Get(context.Background(), "sid-1")
	assert.ErrorIs(t, err, serrors.ErrSessionMiss)
}

func TestRevokeHandler_RequiresSession(t *testing.T) {
	fx := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/revoke", nil)
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStatusHandler_CredentialAccountGetsCookie(t *testing.T) {
	fx := newAPIFixture(t)

	fx.accounts.accounts["acc-cred"] = &domain.LocalAccount{
		ID:             "acc-cred",
		LoginName:      "alice",
		CredentialHash: "$2a$04$storedcredential",
	}
	fx.pairings.sessions["p-1"] = &domain.PairingSession{
		ID:             "p-1",
		Status:         domain.PairingStatusConfirmed,
		LocalAccountID: "acc-cred",
		CreatedAt:      time.Now().UTC(),
		ExpiresAt:      time.Now().UTC().Add(5 * time.Minute),
	}

	req := httptest.NewRequest(http.MethodGet, "/auth/pairings/p-1", nil)
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var sid string
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == echoapi.SessionCookieName {
			sid = cookie.Value
		}
	}
	require.NotEmpty(t, sid, "confirmed poll for a credential account must set the session cookie")

	record, err := fx.sessions.Get(context.Background(), sid)
	require.NoError(t, err)
	assert.Equal(t, "acc-cred", record.AccountID)

	var poll struct {
		Status      string `json:"status"`
		RedirectURL string `json:"redirect_url"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &poll))
	assert.Equal(t, "confirmed", poll.Status)
	assert.Equal(t, "/web", poll.RedirectURL)
	assert.NotContains(t, rec.Body.String(), sid, "the session id must not appear in the body")
}

func TestCreateProviderHandler_SecretReachesStore(t *testing.T) {
	fx := newAPIFixture(t)

	body := `{
		"tenant_key": "default",
		"name": "Open Platform",
		"client_key": "ck-new",
		"client_secret": "cs-new",
		"authorize_url": "https://open.example/authorize",
		"token_url": "https://open.example/token",
		"refresh_url": "https://open.example/refresh",
		"callback_url": "https://login.example.com/auth/callback"
	}`
	req := httptest.NewRequest(http.MethodPost, "/admin/providers", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	require.NotNil(t, fx.configs.created)
	assert.Equal(t, "cs-new", fx.configs.created.ClientSecret, "the inbound secret must reach the repository")

	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "cfg-created", created["id"])
	_, leaked := created["client_secret"]
	assert.False(t, leaked, "the response must redact the secret")
}

func TestCreateProviderHandler_InvalidConfigIsBadRequest(t *testing.T) {
	fx := newAPIFixture(t)

	// No client secret and no callback URL.
	body := `{"tenant_key": "default", "client_key": "ck-new"}`
	req := httptest.NewRequest(http.MethodPost, "/admin/providers", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_request")
}

func TestListProvidersHandler(t *testing.T) {
	fx := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/providers", nil)
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var configs []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &configs))
	require.Len(t, configs, 1)
	assert.Equal(t, "cfg-1", configs[0]["id"])
	_, leaked := configs[0]["client_secret"]
	assert.False(t, leaked, "client secret must never serialize outward")
}
