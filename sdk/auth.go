package sdk

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// User is the signed-in identity.
type User struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
}

type listener struct {
	id int
	fn func(*User)
}

// Auth manages the client's session.
//
// Listeners registered with OnAuthStateChanged are called with the current
// user right away and again on every change: sign-in, sign-out, and
// sign-outs pushed by the server (expiry, account disabled, sign-out from
// another client). A nil user means signed out.
type Auth struct {
	c *Client

	mu        sync.Mutex
	token     string
	user      *User
	listeners []listener
	nextID    int
	cancel    context.CancelFunc
	done      chan struct{}
}

func newAuth(c *Client) *Auth {
	return &Auth{c: c}
}

type sessionResponse struct {
	Token string `json:"token"`
	UID   string `json:"uid"`
	Email string `json:"email"`
}

// SignIn signs in with email and password.
func (a *Auth) SignIn(ctx context.Context, email, password string) (*User, error) {
	return a.open(ctx, "/v1/auth/login", email, password)
}

// Register creates an account and signs it in.
func (a *Auth) Register(ctx context.Context, email, password string) (*User, error) {
	return a.open(ctx, "/v1/auth/register", email, password)
}

func (a *Auth) open(ctx context.Context, path, email, password string) (*User, error) {
	var resp sessionResponse
	err := a.c.do(ctx, http.MethodPost, path, "", map[string]string{
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		return nil, err
	}
	user := &User{UID: resp.UID, Email: resp.Email}
	a.setSession(resp.Token, user)
	return user, nil
}

// SignOut ends the session locally and on the server. The local session is
// cleared even when the server cannot be reached.
func (a *Auth) SignOut(ctx context.Context) error {
	a.mu.Lock()
	token := a.token
	a.mu.Unlock()
	if token == "" {
		return nil
	}
	err := a.c.do(ctx, http.MethodPost, "/v1/auth/logout", token, nil, nil)
	a.clearSession(token)
	if errors.Is(err, ErrUnauthenticated) {
		return nil
	}
	return err
}

// CurrentUser returns the signed-in user or nil.
func (a *Auth) CurrentUser() *User {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.user == nil {
		return nil
	}
	u := *a.user
	return &u
}

// OnAuthStateChanged registers fn and returns a function that removes it.
func (a *Auth) OnAuthStateChanged(fn func(*User)) (unsubscribe func()) {
	a.mu.Lock()
	a.nextID++
	id := a.nextID
	a.listeners = append(a.listeners, listener{id: id, fn: fn})
	var current *User
	if a.user != nil {
		u := *a.user
		current = &u
	}
	a.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			defer a.mu.Unlock()
			for i, l := range a.listeners {
				if l.id == id {
					a.listeners = append(a.listeners[:i:i], a.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

func (a *Auth) currentToken() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.token
}

func (a *Auth) setSession(token string, user *User) {
	a.stopWatch()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	a.mu.Lock()
	a.token = token
	a.user = user
	a.cancel = cancel
	a.done = done
	fns := a.snapshot()
	a.mu.Unlock()

	go func() {
		defer close(done)
		a.watch(ctx, token)
	}()
	notify(fns, user)
}

// clearSession drops the session if token is still the current one.
func (a *Auth) clearSession(token string) {
	a.mu.Lock()
	if a.token != token || token == "" {
		a.mu.Unlock()
		return
	}
	a.token = ""
	a.user = nil
	cancel := a.cancel
	a.cancel = nil
	a.done = nil
	fns := a.snapshot()
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	notify(fns, nil)
}

// stopWatch cancels the watcher and waits for it to exit.
func (a *Auth) stopWatch() {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// snapshot must be called with mu held.
func (a *Auth) snapshot() []func(*User) {
	fns := make([]func(*User), len(a.listeners))
	for i, l := range a.listeners {
		fns[i] = l.fn
	}
	return fns
}

func notify(fns []func(*User), user *User) {
	for _, fn := range fns {
		var u *User
		if user != nil {
			cp := *user
			u = &cp
		}
		fn(u)
	}
}

// watch follows the auth-state stream of token, reconnecting with
// exponential backoff until the server reports the session gone or ctx ends.
func (a *Auth) watch(ctx context.Context, token string) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 15 * time.Second

	for {
		connected, gone, err := a.stream(ctx, token)
		if ctx.Err() != nil {
			return
		}
		if gone {
			a.c.logger.Info("session ended by server")
			// Runs on the watcher goroutine; clearSession must not wait on it.
			a.expire(token)
			return
		}
		if connected {
			b.Reset()
		}
		wait := b.NextBackOff()
		a.c.logger.Debug("auth stream interrupted", zap.Error(err), zap.Duration("retry_in", wait))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
}

func (a *Auth) expire(token string) {
	a.mu.Lock()
	if a.token != token {
		a.mu.Unlock()
		return
	}
	// The watcher is exiting by itself; drop the handles so nobody waits on it.
	a.cancel = nil
	a.done = nil
	a.mu.Unlock()
	a.clearSession(token)
}

// stream reads one connection of the auth-state stream. gone reports that
// the server declared the session over.
func (a *Auth) stream(ctx context.Context, token string) (connected, gone bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		a.c.baseURL+"/v1/auth/events?token="+url.QueryEscape(token), nil)
	if err != nil {
		return false, false, err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := a.c.http.Do(req)
	if err != nil {
		return false, false, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return false, true, nil
	case resp.StatusCode != http.StatusOK:
		return false, false, fmt.Errorf("auth stream: unexpected status %d", resp.StatusCode)
	}

	var event string
	var data []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if event == "state" && strings.TrimSpace(strings.Join(data, "\n")) == "null" {
				return true, true, nil
			}
			event, data = "", data[:0]
		case strings.HasPrefix(line, ":"):
			// comment / keepalive
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := sc.Err(); err != nil {
		return true, false, err
	}
	return true, false, io.ErrUnexpectedEOF
}
