package dto

import (
	"go.duodoo.tech/fedlogin/domain"
)

// ProviderConfigPayload is the inbound create/update body for a provider
// configuration. Unlike the domain struct it carries the client secret;
// responses use the domain struct, which never serializes the secret back
// out.
type ProviderConfigPayload struct {
	TenantKey      string   `json:"tenant_key"`
	Name           string   `json:"name"`
	ClientKey      string   `json:"client_key"`
	ClientSecret   string   `json:"client_secret"`
	AuthorizeURL   string   `json:"authorize_url"`
	TokenURL       string   `json:"token_url"`
	RefreshURL     string   `json:"refresh_url"`
	ClientTokenURL string   `json:"client_token_url,omitempty"`
	UserInfoURL    string   `json:"user_info_url,omitempty"`
	RevokeURL      string   `json:"revoke_url,omitempty"`
	CallbackURL    string   `json:"callback_url"`
	Scope          []string `json:"scope,omitempty"`
}

// ToDomain maps the payload onto a domain config.
func (p *ProviderConfigPayload) ToDomain() *domain.ProviderConfig {
	return &domain.ProviderConfig{
		TenantKey:      p.TenantKey,
		Name:           p.Name,
		ClientKey:      p.ClientKey,
		ClientSecret:   p.ClientSecret,
		AuthorizeURL:   p.AuthorizeURL,
		TokenURL:       p.TokenURL,
		RefreshURL:     p.RefreshURL,
		ClientTokenURL: p.ClientTokenURL,
		UserInfoURL:    p.UserInfoURL,
		RevokeURL:      p.RevokeURL,
		CallbackURL:    p.CallbackURL,
		Scope:          p.Scope,
	}
}
