package echo

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"go.duodoo.tech/fedlogin/domain"
	"go.duodoo.tech/fedlogin/dto"
	ferrors "go.duodoo.tech/fedlogin/errors"
	"go.duodoo.tech/fedlogin/services"
)

// SessionCookieName is the cookie carrying the opaque session id.
const SessionCookieName = "fedlogin_sid"

// FederationAPI holds the handler dependencies.
type FederationAPI struct {
	pairing   *services.PairingService
	finalizer *services.FinalizerService
	registry  *services.RegistryService
	sessions  domain.SessionStore
	tenantKey string
}

// NewFederationAPI initializes the federation API.
func NewFederationAPI(
	pairing *services.PairingService,
	finalizer *services.FinalizerService,
	registry *services.RegistryService,
	sessions domain.SessionStore,
	tenantKey string,
) *FederationAPI {
	return &FederationAPI{
		pairing:   pairing,
		finalizer: finalizer,
		registry:  registry,
		sessions:  sessions,
		tenantKey: tenantKey,
	}
}

// RegisterRoutes registers the pairing, finalization and admin routes.
func (fa *FederationAPI) RegisterRoutes(e *echo.Echo) {
	e.POST("/auth/pairings", fa.InitiateHandler)
	e.GET("/auth/pairings/:id", fa.StatusHandler)
	e.POST("/auth/pairings/:id/scan", fa.ScanHandler)
	e.POST("/auth/pairings/:id/cancel", fa.CancelHandler)
	e.GET("/auth/callback", fa.CallbackHandler)
	e.GET("/auth/finalize", fa.FinalizeHandler)
	e.POST("/auth/logout", fa.LogoutHandler)
	e.POST("/auth/revoke", fa.RevokeHandler)

	e.POST("/admin/providers", fa.CreateProviderHandler)
	e.GET("/admin/providers", fa.ListProvidersHandler)
	e.PUT("/admin/providers/:id", fa.UpdateProviderHandler)
	e.POST("/admin/providers/:id/activate", fa.ActivateProviderHandler)
	e.POST("/admin/providers/:id/test", fa.TestProviderHandler)
}

// InitiateHandler starts a login attempt: it creates a pairing session
// and returns the provider authorization URL the browser should render
// as a QR code, plus the pairing id to poll with.
func (fa *FederationAPI) InitiateHandler(c echo.Context) error {
	initiation, err := fa.pairing.Initiate(c.Request().Context(), fa.tenantKey)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, initiation)
}

// StatusHandler is the poll endpoint. The browser polls until it sees a
// terminal status; confirmed either sets the session cookie right here
// (credential-backed accounts) or carries the redirect to finalization.
func (fa *FederationAPI) StatusHandler(c echo.Context) error {
	result, err := fa.pairing.Status(c.Request().Context(), c.Param("id"), fa.tenantKey)
	if err != nil {
		return writeError(c, err)
	}
	if result.SID != "" {
		setSessionCookie(c, result.SID)
	}
	return c.JSON(http.StatusOK, result)
}

// ScanHandler records that the external app scanned the QR code. Called
// by the provider-side integration, not the polling browser.
func (fa *FederationAPI) ScanHandler(c echo.Context) error {
	var body struct {
		ExternalOpenID string `json:"external_open_id"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_request"})
	}
	if err := fa.pairing.MarkScanned(c.Request().Context(), c.Param("id"), body.ExternalOpenID); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{})
}

// CancelHandler terminates a live pairing session at the user's request.
func (fa *FederationAPI) CancelHandler(c echo.Context) error {
	if err := fa.pairing.Cancel(c.Request().Context(), c.Param("id")); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{})
}

// CallbackHandler receives the provider redirect with code and state. On
// success the login strategy chain runs for the resolved account: either
// the session cookie is set directly, or the browser lands on the
// finalization endpoint with a one-time token. Every failure path renders
// a terminal error so the poll loop on the original page stops.
func (fa *FederationAPI) CallbackHandler(c echo.Context) error {
	state := c.QueryParam("state")
	code := c.QueryParam("code")
	errParam := c.QueryParam("error")
	errDesc := c.QueryParam("error_description")

	session, err := fa.pairing.HandleCallback(c.Request().Context(), state, code, errParam, errDesc)
	if err != nil {
		return writeError(c, err)
	}

	outcome, err := fa.pairing.FinalizeLogin(c.Request().Context(), session.LocalAccountID, fa.tenantKey)
	if err != nil {
		return writeError(c, err)
	}
	if outcome.SID != "" {
		setSessionCookie(c, outcome.SID)
	}
	return c.Redirect(http.StatusFound, outcome.RedirectURL)
}

// FinalizeHandler redeems a one-time finalization token into a session
// cookie. A replayed or expired token fails closed.
func (fa *FederationAPI) FinalizeHandler(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error":             "invalid_request",
			"error_description": "token parameter is required",
		})
	}

	record, landingURL, err := fa.finalizer.Redeem(c.Request().Context(), token)
	if err != nil {
		return writeError(c, err)
	}

	setSessionCookie(c, record.SID)
	return c.Redirect(http.StatusFound, landingURL)
}

func setSessionCookie(c echo.Context, sid string) {
	c.SetCookie(&http.Cookie{
		Name:     SessionCookieName,
		Value:    sid,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(24 * time.Hour),
	})
}

// LogoutHandler deletes the session behind the cookie. Always succeeds
// from the caller's perspective: a missing session is already logged out.
func (fa *FederationAPI) LogoutHandler(c echo.Context) error {
	cookie, err := c.Cookie(SessionCookieName)
	if err == nil && cookie.Value != "" {
		if err := fa.sessions.Delete(c.Request().Context(), cookie.Value); err != nil {
			log.Error().Err(err).Msg("Failed to delete session on logout")
		}
	}
	c.SetCookie(&http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
	return c.JSON(http.StatusOK, echo.Map{})
}

// RevokeHandler disconnects the calling account's federation. Requires a
// valid session; the provider-side revocation inside is best-effort.
func (fa *FederationAPI) RevokeHandler(c echo.Context) error {
	record, err := fa.currentSession(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid_session"})
	}
	if err := fa.pairing.Revoke(c.Request().Context(), record.AccountID); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{})
}

// CreateProviderHandler registers a provider configuration. The inbound
// payload carries the client secret; the response is the domain config,
// which redacts it.
func (fa *FederationAPI) CreateProviderHandler(c echo.Context) error {
	var payload dto.ProviderConfigPayload
	if err := c.Bind(&payload); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_request"})
	}
	created, err := fa.registry.Create(c.Request().Context(), payload.ToDomain())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, created)
}

// UpdateProviderHandler replaces a provider configuration's settings.
func (fa *FederationAPI) UpdateProviderHandler(c echo.Context) error {
	var payload dto.ProviderConfigPayload
	if err := c.Bind(&payload); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_request"})
	}
	cfg := payload.ToDomain()
	cfg.ID = c.Param("id")
	updated, err := fa.registry.Update(c.Request().Context(), cfg)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, updated)
}

// ActivateProviderHandler promotes a configuration to be the tenant's
// single active one, demoting any other.
func (fa *FederationAPI) ActivateProviderHandler(c echo.Context) error {
	if err := fa.registry.Activate(c.Request().Context(), c.Param("id")); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{})
}

// TestProviderHandler runs a client-credential round trip against the
// provider to validate the stored key and secret.
func (fa *FederationAPI) TestProviderHandler(c echo.Context) error {
	if err := fa.registry.TestConnection(c.Request().Context(), c.Param("id")); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

// ListProvidersHandler lists the tenant's provider configurations.
func (fa *FederationAPI) ListProvidersHandler(c echo.Context) error {
	configs, err := fa.registry.List(c.Request().Context(), fa.tenantKey)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, configs)
}

func (fa *FederationAPI) currentSession(c echo.Context) (*domain.SessionRecord, error) {
	cookie, err := c.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil, ferrors.ErrSessionMiss
	}
	return fa.sessions.Get(c.Request().Context(), cookie.Value)
}

// writeError maps domain and taxonomy errors onto HTTP responses. The
// FederationError body shape is stable so clients can key off the code.
func writeError(c echo.Context, err error) error {
	var fedErr *ferrors.FederationError
	if errors.As(err, &fedErr) {
		return c.JSON(statusFor(fedErr.Code), fedErr)
	}

	switch {
	case errors.Is(err, ferrors.ErrPairingNotFound),
		errors.Is(err, ferrors.ErrAccountNotFound),
		errors.Is(err, ferrors.ErrTokenNotFound),
		errors.Is(err, ferrors.ErrConfigMissing):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not_found"})
	case errors.Is(err, ferrors.ErrInvalidConfig):
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error":             "invalid_request",
			"error_description": err.Error(),
		})
	case errors.Is(err, ferrors.ErrPairingConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": "invalid_state"})
	case errors.Is(err, ferrors.ErrSessionMiss):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid_session"})
	case errors.Is(err, ferrors.ErrDuplicateLoginName), errors.Is(err, ferrors.ErrDuplicateIdentity):
		return c.JSON(http.StatusConflict, echo.Map{"error": "duplicate"})
	}

	log.Error().Err(err).Msg("Unhandled error in federation API")
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "server_error"})
}

func statusFor(code ferrors.Code) int {
	switch code {
	case ferrors.CodeConfigMissing:
		return http.StatusServiceUnavailable
	case ferrors.CodeTransportError:
		return http.StatusBadGateway
	case ferrors.CodeProviderError:
		return http.StatusBadGateway
	case ferrors.CodeStateMismatch:
		return http.StatusBadRequest
	case ferrors.CodeTokenRefreshFailed:
		return http.StatusUnauthorized
	case ferrors.CodeProvisioningDisabled:
		return http.StatusForbidden
	case ferrors.CodeLoginFailed:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
