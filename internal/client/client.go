// Package client implements the intel backend REST contract.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mbaylor/intelboard/internal/model"
)

// APIError is a non-2xx backend response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
}

// Client talks to the intel backend. Safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string

	// OnUnauthorized, when set, is invoked with the HTTP status after a
	// 401 or 403 response. The session collaborator uses it to invalidate
	// local auth state. The original error is still returned to the caller.
	OnUnauthorized func(status int)
}

// New creates a client for the backend at baseURL (e.g. "http://host:8000/api").
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// SetToken installs (or clears, with "") the bearer token attached to
// subsequent requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the currently installed bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// StreamURL returns the resumable global stream endpoint.
func (c *Client) StreamURL() string {
	return c.baseURL + "/agent/stream/global"
}

// GetIntel runs a paginated search against the backend corpus.
func (c *Client) GetIntel(ctx context.Context, typ model.SearchType, q string, rng model.TimeRange, limit, offset int) (*model.ListResponse, error) {
	params := url.Values{}
	params.Set("type", string(typ))
	params.Set("q", q)
	params.Set("range", string(rng))
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))

	var out model.ListResponse
	if err := c.getJSON(ctx, "/intel/?"+params.Encode(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetFavorites lists the caller's favorited items, paginated.
func (c *Client) GetFavorites(ctx context.Context, q string, limit, offset int) (*model.ListResponse, error) {
	params := url.Values{}
	params.Set("q", q)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))

	var out model.ListResponse
	if err := c.getJSON(ctx, "/intel/favorites?"+params.Encode(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ToggleFavorite sets the favorite flag for one item. Idempotent on the
// backend side.
func (c *Client) ToggleFavorite(ctx context.Context, id string, favorited bool) error {
	body := map[string]bool{"favorited": favorited}
	return c.postJSON(ctx, "/intel/"+url.PathEscape(id)+"/favorite", body, nil)
}

// ExportRequest selects which items a document export covers. When IDs is
// empty the type/range/query filter applies instead.
type ExportRequest struct {
	IDs   []string         `json:"ids,omitempty"`
	Type  model.SearchType `json:"type"`
	Range model.TimeRange  `json:"range"`
	Query string           `json:"q"`
}

// Export retrieves the selected items as a binary document.
func (c *Client) Export(ctx context.Context, req ExportRequest) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal export request: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, "/intel/export", bytes.NewReader(payload), "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read export body: %w", err)
	}
	return data, nil
}

// Session is the token pair returned by login and register.
type Session struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

// Login exchanges credentials for a session token.
func (c *Client) Login(ctx context.Context, username, password string) (*Session, error) {
	var out Session
	body := map[string]string{"username": username, "password": password}
	if err := c.postJSON(ctx, "/auth/login", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Register creates an account and returns its session.
func (c *Client) Register(ctx context.Context, username, password string) (*Session, error) {
	var out Session
	body := map[string]string{"username": username, "password": password}
	if err := c.postJSON(ctx, "/auth/register", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Profile is the authenticated user's account record.
type Profile struct {
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Bio      string `json:"bio,omitempty"`
}

// Me fetches the current profile.
func (c *Client) Me(ctx context.Context) (*Profile, error) {
	var out Profile
	if err := c.getJSON(ctx, "/auth/me", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateProfile applies a partial profile update.
func (c *Client) UpdateProfile(ctx context.Context, p Profile) (*Profile, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal profile: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPut, "/auth/me", bytes.NewReader(payload), "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}
	var out Profile
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &out, nil
}

// ChangePassword rotates the account password.
func (c *Client) ChangePassword(ctx context.Context, current, next string) error {
	payload, err := json.Marshal(map[string]string{
		"current_password": current,
		"new_password":     next,
	})
	if err != nil {
		return fmt.Errorf("marshal password change: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPut, "/auth/me/password", bytes.NewReader(payload), "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkStatus(resp)
}

// --- Helpers ---

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := c.checkStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s body: %w", path, err)
	}
	resp, err := c.do(ctx, http.MethodPost, path, bytes.NewReader(payload), "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := c.checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		if c.OnUnauthorized != nil {
			c.OnUnauthorized(resp.StatusCode)
		}
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
}
