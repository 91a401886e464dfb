package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("already exists")
	ErrUnauthorized = errors.New("unauthorized")
)

// APIError is a non-2xx answer from the hub.
type APIError struct {
	StatusCode int
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.RequestID != "" {
		return fmt.Sprintf("hub: %d %s (request %s)", e.StatusCode, msg, e.RequestID)
	}
	return fmt.Sprintf("hub: %d %s", e.StatusCode, msg)
}

// Is maps status codes onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrConflict:
		return e.StatusCode == http.StatusConflict
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	}
	return false
}

// Client talks to the hub REST API on behalf of one access token.
type Client struct {
	endpoint string
	http     *http.Client
	// storage uploads LFS objects to presigned URLs and must not carry the token.
	storage *http.Client
	logger  *zap.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the transport used for both API and storage calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.storage = hc
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient builds a client bound to token. The API transport attaches the
// token as a bearer credential through an oauth2 static token source.
func NewClient(endpoint, token string, opts ...Option) *Client {
	c := &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		storage:  &http.Client{Timeout: 30 * time.Minute},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, c.storage)
	c.http = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))
	// oauth2.NewClient keeps only the base transport.
	c.http.Timeout = c.storage.Timeout
	return c
}

// Endpoint returns the base URL the client talks to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Identity is the subset of whoami-v2 the service needs.
type Identity struct {
	Name     string `json:"name"`
	Fullname string `json:"fullname"`
	Type     string `json:"type"`
}

// WhoAmI resolves the account owning the token.
func (c *Client) WhoAmI(ctx context.Context) (*Identity, error) {
	var out Identity
	if err := c.doJSON(ctx, http.MethodGet, "/api/whoami-v2", nil, &out); err != nil {
		return nil, fmt.Errorf("whoami: %w", err)
	}
	if out.Name == "" {
		return nil, errors.New("whoami: empty account name")
	}
	return &out, nil
}

// RepoExists reports whether the repository is visible to the token.
func (c *Client) RepoExists(ctx context.Context, repo RepoID) (bool, error) {
	err := c.doJSON(ctx, http.MethodGet, "/api/"+repo.apiPath(), nil, nil)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("repo info %s: %w", repo, err)
	}
}

type CreateRepoRequest struct {
	Repo     RepoID
	Private  bool
	SpaceSDK string
}

// CreateRepo creates the repository and returns its URL.
func (c *Client) CreateRepo(ctx context.Context, req CreateRepoRequest) (string, error) {
	body := map[string]any{
		"name":         req.Repo.Name,
		"organization": req.Repo.Namespace,
		"private":      req.Private,
	}
	if req.Repo.Type != RepoModel && req.Repo.Type != "" {
		body["type"] = string(req.Repo.Type)
	}
	if req.Repo.Type == RepoSpace && req.SpaceSDK != "" {
		body["sdk"] = req.SpaceSDK
	}
	var out struct {
		URL string `json:"url"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/repos/create", body, &out); err != nil {
		return "", fmt.Errorf("create %s %s: %w", req.Repo.Type, req.Repo, err)
	}
	if out.URL == "" {
		out.URL = req.Repo.URL(c.endpoint)
	}
	c.logger.Info("repository created", zap.String("repo", req.Repo.String()), zap.String("type", string(req.Repo.Type)))
	return out.URL, nil
}

// DeleteRepo removes the repository.
func (c *Client) DeleteRepo(ctx context.Context, repo RepoID) error {
	body := map[string]any{
		"name":         repo.Name,
		"organization": repo.Namespace,
	}
	if repo.Type != RepoModel && repo.Type != "" {
		body["type"] = string(repo.Type)
	}
	if err := c.doJSON(ctx, http.MethodDelete, "/api/repos/delete", body, nil); err != nil {
		return fmt.Errorf("delete %s %s: %w", repo.Type, repo, err)
	}
	c.logger.Info("repository deleted", zap.String("repo", repo.String()), zap.String("type", string(repo.Type)))
	return nil
}

type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type DuplicateRequest struct {
	From      RepoID
	To        RepoID
	Private   bool
	Hardware  string
	Variables []KeyValue
	Secrets   []KeyValue
}

// DuplicateSpace copies a template space into a new space and returns its URL.
func (c *Client) DuplicateSpace(ctx context.Context, req DuplicateRequest) (string, error) {
	body := map[string]any{
		"repository": req.To.String(),
		"private":    req.Private,
	}
	if req.Hardware != "" {
		body["hardware"] = req.Hardware
	}
	if len(req.Variables) > 0 {
		body["variables"] = req.Variables
	}
	if len(req.Secrets) > 0 {
		body["secrets"] = req.Secrets
	}
	var out struct {
		URL string `json:"url"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/spaces/"+req.From.String()+"/duplicate", body, &out); err != nil {
		return "", fmt.Errorf("duplicate %s into %s: %w", req.From, req.To, err)
	}
	if out.URL == "" {
		out.URL = req.To.URL(c.endpoint)
	}
	c.logger.Info("space duplicated", zap.String("from", req.From.String()), zap.String("to", req.To.String()))
	return out.URL, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return c.send(c.http, req, out)
}

func (c *Client) send(hc *http.Client, req *http.Request, out any) error {
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", req.Method, req.URL.Path, err)
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		RequestID:  resp.Header.Get("X-Request-Id"),
	}
	if gjson.ValidBytes(raw) {
		apiErr.Message = gjson.GetBytes(raw, "error").String()
		if apiErr.Message == "" {
			apiErr.Message = gjson.GetBytes(raw, "message").String()
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}
