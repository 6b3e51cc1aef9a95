package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rs/zerolog/log"

	"go.duodoo.tech/fedlogin/domain"
	serrors "go.duodoo.tech/fedlogin/errors"
)

// UserInfo is the provider's public profile for a federated user.
// Everything here is last-observed data, never authoritative.
type UserInfo struct {
	OpenID   string
	UnionID  string
	Nickname string
	Avatar   string
	Gender   string // provider code: "0" unknown, "1" male, "2" female
	Country  string
	Province string
	City     string
}

type userInfoPayload struct {
	Data struct {
		OpenID   string `json:"open_id,omitempty"`
		UnionID  string `json:"union_id,omitempty"`
		Nickname string `json:"nickname,omitempty"`
		Avatar   string `json:"avatar,omitempty"`
		Gender   int    `json:"gender,omitempty"`
		Country  string `json:"country,omitempty"`
		Province string `json:"province,omitempty"`
		City     string `json:"city,omitempty"`

		ErrorCode   int64  `json:"error_code,omitempty"`
		Description string `json:"description,omitempty"`
	} `json:"data"`
}

// FetchUserInfo retrieves the public profile for an open id. Requires a
// live access token; callers refresh first when the stored one is expired.
func (c *Client) FetchUserInfo(ctx context.Context, cfg *domain.ProviderConfig, openID, accessToken string) (*UserInfo, error) {
	if cfg.UserInfoURL == "" {
		return nil, serrors.NewTransportError("provider has no user info endpoint configured")
	}

	params := url.Values{}
	params.Set("open_id", openID)
	params.Set("access_token", accessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.UserInfoURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, serrors.NewTransportError("building user info request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Error().Err(err).Msg("User info request failed")
		return nil, serrors.NewTransportError("provider unreachable")
	}
	defer resp.Body.Close()

	var payload userInfoPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, serrors.NewTransportError("undecodable user info response")
	}
	if payload.Data.ErrorCode != 0 {
		return nil, serrors.NewProviderError(payload.Data.ErrorCode, payload.Data.Description)
	}

	return &UserInfo{
		OpenID:   payload.Data.OpenID,
		UnionID:  payload.Data.UnionID,
		Nickname: payload.Data.Nickname,
		Avatar:   payload.Data.Avatar,
		Gender:   strconv.Itoa(payload.Data.Gender),
		Country:  payload.Data.Country,
		Province: payload.Data.Province,
		City:     payload.Data.City,
	}, nil
}
