package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"landingzone/internal/config"
	"landingzone/internal/redis"
)

const oauthStateTTL = 10 * time.Minute

var ErrInvalidState = errors.New("invalid or expired oauth state")

// Identity is the account the provider vouched for.
type Identity struct {
	Username  string
	Name      string
	AvatarURL string
}

// Provider runs the authorization code flow against the hub's OpenID
// provider.
type Provider struct {
	oauth       oauth2.Config
	userInfoURL string
	states      Cache
	httpClient  *http.Client
}

// NewProvider builds the flow from the oauth configuration. states holds
// pending authorization states; httpClient may be nil.
func NewProvider(cfg config.OAuthConfig, states Cache, httpClient *http.Client) *Provider {
	base := strings.TrimRight(cfg.ProviderURL, "/")
	return &Provider{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  base + "/oauth/authorize",
				TokenURL: base + "/oauth/token",
			},
		},
		userInfoURL: base + "/oauth/userinfo",
		states:      states,
		httpClient:  httpClient,
	}
}

// Begin records a fresh state and returns the URL to send the browser to.
func (p *Provider) Begin(ctx context.Context) (string, error) {
	state := uuid.NewString()
	if err := p.states.Set(ctx, redis.OAuthStateKey(state), "1", oauthStateTTL); err != nil {
		return "", fmt.Errorf("store oauth state: %w", err)
	}
	return p.oauth.AuthCodeURL(state), nil
}

// Complete consumes state, exchanges code and fetches the user's identity.
// A state can only be used once.
func (p *Provider) Complete(ctx context.Context, state, code string) (*Identity, *oauth2.Token, error) {
	if state == "" || code == "" {
		return nil, nil, ErrInvalidState
	}
	if _, err := p.states.GetDel(ctx, redis.OAuthStateKey(state)); err != nil {
		if errors.Is(err, redis.ErrCacheMiss) {
			return nil, nil, ErrInvalidState
		}
		return nil, nil, fmt.Errorf("load oauth state: %w", err)
	}
	if p.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}
	tok, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, nil, fmt.Errorf("exchange code: %w", err)
	}
	id, err := p.userInfo(ctx, tok)
	if err != nil {
		return nil, nil, err
	}
	return id, tok, nil
}

// Scopes reports the scopes granted with tok, falling back to the requested
// ones when the provider does not echo them.
func (p *Provider) Scopes(tok *oauth2.Token) []string {
	if tok != nil {
		if granted, ok := tok.Extra("scope").(string); ok && granted != "" {
			return strings.Fields(granted)
		}
	}
	return append([]string(nil), p.oauth.Scopes...)
}

type userInfoResponse struct {
	PreferredUsername string `json:"preferred_username"`
	Name              string `json:"name"`
	Picture           string `json:"picture"`
}

func (p *Provider) userInfo(ctx context.Context, tok *oauth2.Token) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.oauth.Client(ctx, tok).Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch userinfo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch userinfo: status %d", resp.StatusCode)
	}
	var info userInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	if info.PreferredUsername == "" {
		return nil, errors.New("userinfo has no preferred_username")
	}
	return &Identity{
		Username:  info.PreferredUsername,
		Name:      info.Name,
		AvatarURL: info.Picture,
	}, nil
}
