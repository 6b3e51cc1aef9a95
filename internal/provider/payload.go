package provider

import (
	"net/url"
	"strings"

	"go.duodoo.tech/fedlogin/domain"
)

// tokenPayload is the provider's token response envelope. The interesting
// part, including error indicators, lives under "data" even when the outer
// HTTP status is 200.
type tokenPayload struct {
	Data    tokenData `json:"data"`
	Message string    `json:"message,omitempty"`
}

type tokenData struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	OpenID       string `json:"open_id,omitempty"`
	UnionID      string `json:"union_id,omitempty"`
	Scope        string `json:"scope,omitempty"`

	ErrorCode   int64  `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

// tokenRequest is the JSON body of the three grant calls. Field names
// follow the provider's convention (client_key, not client_id).
type tokenRequest struct {
	ClientKey    string `json:"client_key"`
	ClientSecret string `json:"client_secret,omitempty"`
	Code         string `json:"code,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	GrantType    string `json:"grant_type"`
}

type revokeRequest struct {
	OpenID      string `json:"open_id"`
	AccessToken string `json:"access_token"`
}

// AuthorizeURL builds the URL the user agent is redirected to, embedding
// the pairing session id as the CSRF state parameter.
func AuthorizeURL(cfg *domain.ProviderConfig, state string) string {
	params := url.Values{}
	params.Set("client_key", cfg.ClientKey)
	params.Set("response_type", "code")
	if scope := strings.Join(cfg.Scope, ","); scope != "" {
		params.Set("scope", scope)
	}
	params.Set("redirect_uri", cfg.CallbackURL)
	params.Set("state", state)
	return cfg.AuthorizeURL + "?" + params.Encode()
}
