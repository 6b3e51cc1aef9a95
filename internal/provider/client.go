package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog/log"

	"go.duodoo.tech/fedlogin/domain"
	serrors "go.duodoo.tech/fedlogin/errors"
)

const defaultTimeout = 30 * time.Second

// Result is the normalized outcome of one provider call. Either OK with a
// token, or not OK with the provider's own error code and description.
// Transport-level failures are returned as errors instead, so callers can
// tell "the provider said no" apart from "the provider was unreachable".
type Result struct {
	OK               bool
	Token            *domain.ExternalIdentityToken
	ErrorCode        int64
	ErrorDescription string
}

// Err converts a not-OK result into the taxonomy error surfaced to callers.
func (r *Result) Err() error {
	if r.OK {
		return nil
	}
	return serrors.NewProviderError(r.ErrorCode, r.ErrorDescription)
}

// Client performs the OAuth token operations against a provider's
// endpoints. Every call carries its own bounded deadline, independent of
// pairing-session and finalization-token TTLs.
type Client struct {
	httpClient *http.Client

	// clientTokens caches app-level (non user-scoped) tokens per provider
	// config until their own expiry.
	clientTokens *ttlcache.Cache[string, string]
}

// NewClient creates a Client. A zero timeout falls back to 30s.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 || timeout > defaultTimeout {
		timeout = defaultTimeout
	}
	cache := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, string](),
	)
	go cache.Start()

	return &Client{
		httpClient:   &http.Client{Timeout: timeout},
		clientTokens: cache,
	}
}

// Close stops the client-token cache goroutine.
func (c *Client) Close() {
	c.clientTokens.Stop()
}

// ExchangeCode redeems an authorization code (authorization_code grant).
func (c *Client) ExchangeCode(ctx context.Context, cfg *domain.ProviderConfig, authCode string) (*Result, error) {
	return c.post(ctx, cfg, cfg.TokenURL, tokenRequest{
		ClientKey:    cfg.ClientKey,
		ClientSecret: cfg.ClientSecret,
		Code:         authCode,
		GrantType:    "authorization_code",
	})
}

// Refresh redeems a refresh token (refresh_token grant). A transient
// transport failure is retried exactly once; a second failure surfaces as
// TokenRefreshFailed. A provider rejection is never retried.
func (c *Client) Refresh(ctx context.Context, cfg *domain.ProviderConfig, refreshToken string) (*Result, error) {
	req := tokenRequest{
		ClientKey:    cfg.ClientKey,
		RefreshToken: refreshToken,
		GrantType:    "refresh_token",
	}

	result, err := c.post(ctx, cfg, cfg.RefreshURL, req)
	if err == nil {
		return result, nil
	}

	log.Warn().Err(err).Str("client_key", cfg.ClientKey).Msg("Token refresh transport failure, retrying once")
	result, err = c.post(ctx, cfg, cfg.RefreshURL, req)
	if err != nil {
		return nil, serrors.NewTokenRefreshFailed("refresh grant failed after retry")
	}
	return result, nil
}

// ClientCredentialToken obtains an app-level token, cached until its own
// expiry. Used for connectivity tests and calls not scoped to a user.
func (c *Client) ClientCredentialToken(ctx context.Context, cfg *domain.ProviderConfig) (string, error) {
	if item := c.clientTokens.Get(cfg.ID); item != nil {
		return item.Value(), nil
	}

	result, err := c.post(ctx, cfg, cfg.ClientTokenURL, tokenRequest{
		ClientKey:    cfg.ClientKey,
		ClientSecret: cfg.ClientSecret,
		GrantType:    "client_credential",
	})
	if err != nil {
		return "", err
	}
	if !result.OK {
		return "", result.Err()
	}

	ttl := time.Until(result.Token.ExpiresAt)
	if ttl > 0 {
		c.clientTokens.Set(cfg.ID, result.Token.AccessToken, ttl)
	}
	return result.Token.AccessToken, nil
}

// Revoke tells the provider to invalidate the authorization. Best-effort:
// the caller clears local token material regardless of the outcome.
func (c *Client) Revoke(ctx context.Context, cfg *domain.ProviderConfig, openID, accessToken string) error {
	if cfg.RevokeURL == "" {
		return nil
	}
	body, err := json.Marshal(revokeRequest{OpenID: openID, AccessToken: accessToken})
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, cfg.RevokeURL, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

// post performs one grant call and normalizes the payload. A nested
// error_code marks a provider rejection even under HTTP 200; anything that
// keeps us from decoding a payload at all is a transport error.
func (c *Client) post(ctx context.Context, cfg *domain.ProviderConfig, endpoint string, reqBody tokenRequest) (*Result, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, serrors.NewTransportError(fmt.Sprintf("encoding request: %v", err))
	}

	resp, err := c.do(ctx, endpoint, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload tokenPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		log.Error().Err(err).Str("endpoint", endpoint).Msg("Undecodable provider response")
		return nil, serrors.NewTransportError("undecodable provider response")
	}

	if payload.Data.ErrorCode != 0 {
		log.Warn().
			Int64("error_code", payload.Data.ErrorCode).
			Str("endpoint", endpoint).
			Msg("Provider returned error payload")
		return &Result{
			OK:               false,
			ErrorCode:        payload.Data.ErrorCode,
			ErrorDescription: payload.Data.Description,
		}, nil
	}

	if payload.Data.AccessToken == "" {
		// No token and no error indicator: treat like an unrecognized
		// response rather than inventing a provider code.
		return nil, serrors.NewTransportError("provider response carried neither token nor error")
	}

	return &Result{
		OK: true,
		Token: &domain.ExternalIdentityToken{
			ProviderConfigID: cfg.ID,
			ExternalOpenID:   payload.Data.OpenID,
			ExternalUnionID:  payload.Data.UnionID,
			AccessToken:      payload.Data.AccessToken,
			RefreshToken:     payload.Data.RefreshToken,
			Scope:            payload.Data.Scope,
			ExpiresAt:        time.Now().UTC().Add(time.Duration(payload.Data.ExpiresIn) * time.Second),
		},
	}, nil
}

func (c *Client) do(ctx context.Context, endpoint string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, serrors.NewTransportError(fmt.Sprintf("building request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Error().Err(err).Str("endpoint", endpoint).Msg("Provider request failed")
		return nil, serrors.NewTransportError("provider unreachable")
	}
	return resp, nil
}
