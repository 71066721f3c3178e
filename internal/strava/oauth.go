package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

type Athlete struct {
	ID        int64  `json:"id"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
}

// TokenResponse is the initial authorization-code exchange payload.
type TokenResponse struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	ExpiresAt    int64   `json:"expires_at"`
	Athlete      Athlete `json:"athlete"`
}

// TokenRefresh is the refresh-grant payload; no athlete object is returned.
type TokenRefresh struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

// ExchangeAuthorizationCode swaps an OAuth code for a token pair and the
// athlete identity.
func (c *Client) ExchangeAuthorizationCode(ctx context.Context, code string) (TokenResponse, error) {
	if c.ClientID == "" || c.ClientSecret == "" {
		return TokenResponse{}, fmt.Errorf("missing strava client credentials")
	}
	if code == "" {
		return TokenResponse{}, fmt.Errorf("missing authorization code")
	}

	form := url.Values{}
	form.Set("client_id", c.ClientID)
	form.Set("client_secret", c.ClientSecret)
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)

	var payload TokenResponse
	if err := c.postToken(ctx, form, &payload); err != nil {
		return TokenResponse{}, err
	}
	if payload.AccessToken == "" {
		return TokenResponse{}, fmt.Errorf("exchange response missing access_token")
	}
	if payload.RefreshToken == "" {
		return TokenResponse{}, fmt.Errorf("exchange response missing refresh_token")
	}
	return payload, nil
}

// RefreshToken trades a refresh token for a new pair. Any error means no
// result; callers abort the athlete's sync rather than retry.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (TokenRefresh, error) {
	if c.ClientID == "" || c.ClientSecret == "" {
		return TokenRefresh{}, fmt.Errorf("missing strava client credentials")
	}
	if refreshToken == "" {
		return TokenRefresh{}, fmt.Errorf("missing refresh token")
	}

	form := url.Values{}
	form.Set("client_id", c.ClientID)
	form.Set("client_secret", c.ClientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	var payload TokenRefresh
	if err := c.postToken(ctx, form, &payload); err != nil {
		return TokenRefresh{}, err
	}
	if payload.AccessToken == "" {
		return TokenRefresh{}, fmt.Errorf("refresh response missing access_token")
	}
	if payload.RefreshToken == "" {
		payload.RefreshToken = refreshToken
	}
	return payload, nil
}

func (c *Client) postToken(ctx context.Context, form url.Values, target interface{}) error {
	base := c.AuthBaseURL
	if base == "" {
		base = "https://www.strava.com"
	}
	endpoint, err := url.JoinPath(base, "/oauth/token")
	if err != nil {
		return err
	}

	logRequest(http.MethodPost, endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return json.NewDecoder(resp.Body).Decode(target)
}
