package sso

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/stridelab/stride/internal/domain/repository"
)

// ErrUpstream: el IdP no respondió o respondió mal. Nunca se propaga el
// detalle al navegador del usuario.
var ErrUpstream = errors.New("sso: upstream provider error")

// upstreamToken es la respuesta del token endpoint del IdP.
type upstreamToken struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	ExpiresAt    time.Time
}

// client habla con los endpoints del IdP. Timeout corto: una ida al IdP
// bloqueando un callback no puede colgar indefinidamente.
type client struct {
	http *http.Client
}

func newClient() *client {
	return &client{http: &http.Client{Timeout: 10 * time.Second}}
}

// AuthorizeURL arma la URL de redirección inicial al IdP.
func (c *client) AuthorizeURL(p *repository.IdentityProvider, redirectURI, state string) (string, error) {
	base, err := url.Parse(p.AuthorizeURL)
	if err != nil {
		return "", fmt.Errorf("sso: authorize url: %w", err)
	}
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", p.ClientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("scope", strings.Join(p.Scopes, " "))
	q.Set("state", state)
	base.RawQuery = q.Encode()
	return base.String(), nil
}

// Exchange canjea el authorization code por tokens del IdP.
func (c *client) Exchange(ctx context.Context, p *repository.IdentityProvider, clientSecret, code, redirectURI string) (*upstreamToken, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	form.Set("client_id", p.ClientID)
	form.Set("client_secret", clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: token endpoint returned %d", ErrUpstream, resp.StatusCode)
	}

	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		IDToken      string `json:"id_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode token response: %w", ErrUpstream, err)
	}
	if payload.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty access token", ErrUpstream)
	}
	tok := &upstreamToken{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		IDToken:      payload.IDToken,
	}
	if payload.ExpiresIn > 0 {
		tok.ExpiresAt = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	}
	return tok, nil
}

// Userinfo trae los claims del usuario. El shape varía por IdP, por eso
// devuelve el JSON crudo como mapa y el mapeo lo resuelve UserMapping.
func (c *client) Userinfo(ctx context.Context, p *repository.IdentityProvider, accessToken string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.UserinfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: userinfo returned %d", ErrUpstream, resp.StatusCode)
	}

	var claims map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, fmt.Errorf("%w: decode userinfo: %w", ErrUpstream, err)
	}
	return claims, nil
}
