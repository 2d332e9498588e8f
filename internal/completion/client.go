// Package completion talks to the external completion service and holds the
// prompt-side helpers shared by the server and the shell.
package completion

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
)

// Action names an operation of the completion service.
type Action string

const (
	ActionAnalyzeText         Action = "analyzeText"
	ActionAnalyzeImage        Action = "analyzeImage"
	ActionChartRecommendation Action = "chartRecommendation"
	ActionChat                Action = "chat"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionAnalyzeText, ActionAnalyzeImage, ActionChartRecommendation, ActionChat:
		return true
	}
	return false
}

var (
	ErrUpstream      = errors.New("completion service failed")
	ErrUnknownAction = errors.New("unknown action")
)

// UpstreamError carries the status and message returned by the service.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("completion service: status %d", e.Status)
	}
	return fmt.Sprintf("completion service: status %d: %s", e.Status, e.Message)
}

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }

// Request is the envelope accepted by the completion service.
type Request struct {
	Action  Action          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

// NewRequest marshals payload into a request for action.
func NewRequest(action Action, payload any) (Request, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Request{}, fmt.Errorf("marshal payload: %w", err)
	}
	return Request{Action: action, Payload: raw}, nil
}

// Client posts requests to a single completion endpoint.
type Client struct {
	url  string
	http *http.Client
}

func New(url string, timeout time.Duration) *Client {
	return &Client{url: url, http: &http.Client{Timeout: timeout}}
}

// Do sends req and returns the raw JSON response. apiKey is forwarded in
// X-Api-Key when non-empty.
func (c *Client) Do(ctx context.Context, apiKey string, req Request) (json.RawMessage, error) {
	if !req.Action.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, req.Action)
	}
	if len(req.Payload) == 0 {
		req.Payload = json.RawMessage(`{}`)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		httpReq.Header.Set("X-Api-Key", apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUpstream, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{Status: resp.StatusCode, Message: errorMessage(data)}
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: invalid JSON response", ErrUpstream)
	}
	return json.RawMessage(data), nil
}

func errorMessage(data []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(data))
}
