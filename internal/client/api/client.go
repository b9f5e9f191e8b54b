// Package api is the HTTP client for the projects backend: authentication,
// project records and project images.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// maxResponseSize bounds how much of a response body is read.
const maxResponseSize = 10 << 20

// TokenSource yields the bearer token to attach to a request. It is read on
// every request, so a token cleared by logout stops being sent immediately.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client talks to the backend REST API.
type Client struct {
	baseURL        string
	http           *http.Client
	tokens         TokenSource
	log            *zap.Logger
	onUnauthorized func(context.Context)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger used for request failures.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New returns a Client for the API rooted at baseURL (e.g.
// "https://api.example.com/api").
func New(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		tokens:  tokens,
		log:     zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// OnUnauthorized registers fn to be called whenever a non-auth endpoint
// rejects the token. Typically the session's forced logout.
func (c *Client) OnUnauthorized(fn func(context.Context)) {
	c.onUnauthorized = fn
}

type envelope struct {
	Success *bool               `json:"success"`
	Message string              `json:"message"`
	Error   string              `json:"error"`
	Data    json.RawMessage     `json:"data"`
	Errors  map[string][]string `json:"errors"`
}

type request struct {
	method      string
	path        string
	body        io.Reader
	contentType string
	// authEndpoint suppresses the unauthorized hook; the session manager
	// handles those failures itself.
	authEndpoint bool
}

func jsonBody(v any) (io.Reader, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return bytes.NewReader(b), nil
}

// do performs the request, maps failures onto the error taxonomy and decodes
// the envelope's data into out (when non-nil). It returns the envelope
// message.
func (c *Client) do(ctx context.Context, r request, out any) (string, error) {
	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, r.body)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return "", fmt.Errorf("read token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("request failed", zap.String("method", r.method), zap.String("path", r.path), zap.Error(err))
		return "", fmt.Errorf("%s %s: %w", r.method, r.path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode < 300 {
			return "", fmt.Errorf("invalid response: %w", err)
		}
	}
	msg := env.Message
	if msg == "" {
		msg = env.Error
	}

	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return msg, &ValidationError{Message: msg, Fields: env.Errors}
	case isAuthFailure(resp.StatusCode):
		if !r.authEndpoint && c.onUnauthorized != nil {
			c.onUnauthorized(ctx)
		}
		return msg, &StatusError{Code: resp.StatusCode, Message: msg}
	case resp.StatusCode >= 300:
		c.log.Warn("request rejected",
			zap.String("method", r.method),
			zap.String("path", r.path),
			zap.Int("status", resp.StatusCode),
			zap.String("message", msg),
		)
		return msg, &StatusError{Code: resp.StatusCode, Message: msg}
	case env.Success != nil && !*env.Success:
		return msg, &StatusError{Code: resp.StatusCode, Message: msg}
	}

	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return msg, fmt.Errorf("invalid response data: %w", err)
		}
	}
	return msg, nil
}
