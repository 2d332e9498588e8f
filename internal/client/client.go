// Package client is the authenticated HTTP client the shell uses to keep
// workspaces in sync with the API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"canvas/api/internal/completion"
	"canvas/api/internal/workspace"
)

const maxImageBytes = 5 << 20

// ErrNetwork wraps failures that never produced an HTTP response.
var ErrNetwork = errors.New("network error")

// APIError is a non-2xx response from the API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api error %d %s: %s", e.Status, e.Code, e.Message)
}

func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

func IsNetwork(err error) bool {
	return errors.Is(err, ErrNetwork)
}

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Bio       string    `json:"bio"`
	Banner    string    `json:"banner"`
	Avatar    string    `json:"avatar"`
	CreatedAt time.Time `json:"createdAt"`
}

type Session struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

type APIKeyStatus struct {
	HasKey    bool   `json:"hasKey"`
	MaskedKey string `json:"maskedKey"`
}

// ProfileUpdate mirrors the /user/update body. Nil fields are omitted.
type ProfileUpdate struct {
	Name   string  `json:"name"`
	Bio    *string `json:"bio,omitempty"`
	Banner *string `json:"banner,omitempty"`
	Avatar *string `json:"avatar,omitempty"`
}

type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string
}

func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// SetToken sets the bearer token sent with every request. Empty clears it.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SignUp creates an account and adopts the returned token.
func (c *Client) SignUp(ctx context.Context, email, password, name string) (Session, error) {
	var out Session
	err := c.do(ctx, http.MethodPost, "/auth/signup", nil, map[string]string{
		"email": email, "password": password, "name": name,
	}, &out)
	if err != nil {
		return Session{}, err
	}
	c.SetToken(out.Token)
	return out, nil
}

// SignIn authenticates and adopts the returned token.
func (c *Client) SignIn(ctx context.Context, email, password string) (Session, error) {
	var out Session
	err := c.do(ctx, http.MethodPost, "/auth/signin", nil, map[string]string{
		"email": email, "password": password,
	}, &out)
	if err != nil {
		return Session{}, err
	}
	c.SetToken(out.Token)
	return out, nil
}

func (c *Client) Verify(ctx context.Context) (User, error) {
	var out struct {
		User User `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/auth/verify", nil, nil, &out); err != nil {
		return User{}, err
	}
	return out.User, nil
}

func (c *Client) UpdateProfile(ctx context.Context, update ProfileUpdate) (User, error) {
	var out struct {
		User User `json:"user"`
	}
	if err := c.do(ctx, http.MethodPost, "/user/update", nil, update, &out); err != nil {
		return User{}, err
	}
	return out.User, nil
}

func (c *Client) APIKeyStatus(ctx context.Context) (APIKeyStatus, error) {
	var out APIKeyStatus
	if err := c.do(ctx, http.MethodGet, "/settings/api-key", nil, nil, &out); err != nil {
		return APIKeyStatus{}, err
	}
	return out, nil
}

// SetAPIKey stores key server side and returns its masked form.
func (c *Client) SetAPIKey(ctx context.Context, key string) (string, error) {
	var out struct {
		MaskedKey string `json:"maskedKey"`
	}
	if err := c.do(ctx, http.MethodPost, "/settings/api-key", nil, map[string]string{"apiKey": key}, &out); err != nil {
		return "", err
	}
	return out.MaskedKey, nil
}

func (c *Client) RemoveAPIKey(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/settings/api-key", nil, nil, nil)
}

func (c *Client) ListWorkspaces(ctx context.Context) ([]workspace.Workspace, error) {
	var out struct {
		Workspaces []workspace.Workspace `json:"workspaces"`
	}
	if err := c.do(ctx, http.MethodGet, "/workspaces", nil, nil, &out); err != nil {
		return nil, err
	}
	if out.Workspaces == nil {
		return []workspace.Workspace{}, nil
	}
	return out.Workspaces, nil
}

func (c *Client) CreateWorkspace(ctx context.Context, name, icon string) (workspace.Workspace, error) {
	var out struct {
		Workspace workspace.Workspace `json:"workspace"`
	}
	if err := c.do(ctx, http.MethodPost, "/workspaces", nil, map[string]string{"name": name, "icon": icon}, &out); err != nil {
		return workspace.Workspace{}, err
	}
	return out.Workspace, nil
}

// UpdateWorkspace sends patch for id. The id travels in the body next to
// the patch fields.
func (c *Client) UpdateWorkspace(ctx context.Context, id string, patch workspace.Patch) (workspace.Workspace, error) {
	fields, err := json.Marshal(patch)
	if err != nil {
		return workspace.Workspace{}, fmt.Errorf("encode patch: %w", err)
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal(fields, &body); err != nil {
		return workspace.Workspace{}, fmt.Errorf("encode patch: %w", err)
	}
	idJSON, _ := json.Marshal(id)
	body["id"] = idJSON

	var out struct {
		Workspace workspace.Workspace `json:"workspace"`
	}
	if err := c.do(ctx, http.MethodPut, "/workspaces", nil, body, &out); err != nil {
		return workspace.Workspace{}, err
	}
	return out.Workspace, nil
}

func (c *Client) DeleteWorkspace(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/workspaces", url.Values{"id": {id}}, nil, nil)
}

// Complete runs one completion action through the API and decodes the
// result into out.
func (c *Client) Complete(ctx context.Context, action completion.Action, payload, out any) error {
	var resp struct {
		Result json.RawMessage `json:"result"`
	}
	body := map[string]any{"action": action, "payload": payload}
	if err := c.do(ctx, http.MethodPost, "/ai", nil, body, &resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("decode completion result: %w", err)
	}
	return nil
}

// FetchImage downloads an uploaded image. Relative srcs such as /media/...
// resolve against the API base URL and carry the bearer token.
func (c *Client) FetchImage(ctx context.Context, src string) ([]byte, string, error) {
	endpoint := src
	relative := strings.HasPrefix(src, "/")
	if relative {
		endpoint = c.baseURL + src
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	if token := c.Token(); token != "" && relative {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: GET %s: %v", ErrNetwork, src, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("%w: read image: %v", ErrNetwork, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", decodeAPIError(resp.StatusCode, data)
	}
	if len(data) > maxImageBytes {
		return nil, "", fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrNetwork, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(status int, data []byte) error {
	var body struct {
		Code  string `json:"code"`
		Error string `json:"error"`
	}
	apiErr := &APIError{Status: status, Message: http.StatusText(status)}
	if err := json.Unmarshal(data, &body); err == nil {
		apiErr.Code = body.Code
		if body.Error != "" {
			apiErr.Message = body.Error
		}
	}
	return apiErr
}
