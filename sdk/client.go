// Package sdk is the Go client of pantryd. It signs users in, follows
// their session through the server's auth-state stream, and exposes the
// document store.
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kasuganosora/pantry/docstore"
	"go.uber.org/zap"
)

// ErrUnauthenticated is returned by document calls made without a live session.
var ErrUnauthenticated = errors.New("sdk: not signed in")

// APIError is a non-auth failure reported by the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pantryd: %s (%d %s)", e.Message, e.Status, e.Code)
}

// Unwrap maps server codes onto the docstore sentinels.
func (e *APIError) Unwrap() error {
	switch e.Code {
	case "not-found":
		return docstore.ErrNotFound
	case "aborted":
		return docstore.ErrAborted
	case "invalid-argument":
		return docstore.ErrInvalidArgument
	case "failed-precondition":
		return docstore.ErrNotInteger
	}
	if e.Status == http.StatusUnauthorized {
		return ErrUnauthenticated
	}
	return nil
}

// AuthError is an identity-provider failure. Message is meant for users.
type AuthError struct {
	Code    string
	Message string
}

func (e *AuthError) Error() string { return e.Message }

// Client talks to one pantryd instance.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
	auth    *Auth
	docs    *Docs
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLogger sets the logger used for background stream handling.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    http.DefaultClient,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.auth = newAuth(c)
	c.docs = &Docs{c: c}
	return c
}

// Auth returns the authentication API.
func (c *Client) Auth() *Auth { return c.auth }

// Docs returns the document store API.
func (c *Client) Docs() *Docs { return c.docs }

// Close stops the auth-state watcher. The session itself stays valid.
func (c *Client) Close() {
	c.auth.stopWatch()
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// do sends a JSON request and decodes a JSON response into out (if non-nil).
// Numbers in the response are kept as json.Number.
func (c *Client) do(ctx context.Context, method, path, token string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	return dec.Decode(out)
}

func decodeError(resp *http.Response) error {
	var eb errorBody
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&eb)
	if eb.Error == "" {
		eb.Error = http.StatusText(resp.StatusCode)
	}
	if strings.HasPrefix(eb.Code, "auth/") {
		return &AuthError{Code: eb.Code, Message: eb.Error}
	}
	return &APIError{Status: resp.StatusCode, Code: eb.Code, Message: eb.Error}
}
