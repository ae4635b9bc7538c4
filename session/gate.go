// Package session tracks whether the client has a signed-in user. The
// Gate follows the identity provider through its pushed auth-state
// notifications and decides which view the client shows.
package session

import (
	"context"
	"sync"

	"github.com/kasuganosora/pantry/sdk"
	"go.uber.org/zap"
)

// State of the Gate.
type State int

const (
	Anonymous State = iota
	Authenticated
)

func (s State) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case Authenticated:
		return "authenticated"
	}
	return "unknown"
}

// Authenticator is the identity provider the Gate drives. *sdk.Auth
// implements it.
type Authenticator interface {
	SignIn(ctx context.Context, email, password string) (*sdk.User, error)
	Register(ctx context.Context, email, password string) (*sdk.User, error)
	SignOut(ctx context.Context) error
	OnAuthStateChanged(fn func(*sdk.User)) (unsubscribe func())
}

type observer struct {
	id int
	fn func(State, *sdk.User)
}

// Gate is the Anonymous/Authenticated state machine.
type Gate struct {
	auth   Authenticator
	logger *zap.Logger

	mu        sync.Mutex
	state     State
	user      *sdk.User
	lastErr   string
	unsub     func()
	onEnter   []func(*sdk.User)
	observers []observer
	nextID    int
}

// NewGate creates a Gate in the Anonymous state.
func NewGate(a Authenticator, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{auth: a, logger: logger}
}

// Start subscribes to the provider's auth-state notifications. Calling it
// again while started does nothing.
func (g *Gate) Start() {
	g.mu.Lock()
	if g.unsub != nil {
		g.mu.Unlock()
		return
	}
	// Placeholder so a concurrent Start sees the gate as started.
	g.unsub = func() {}
	g.mu.Unlock()

	unsub := g.auth.OnAuthStateChanged(g.apply)

	g.mu.Lock()
	g.unsub = unsub
	g.mu.Unlock()
}

// Stop removes the subscription. The current state is kept.
func (g *Gate) Stop() {
	g.mu.Lock()
	unsub := g.unsub
	g.unsub = nil
	g.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// Login signs in. On failure the Gate stays Anonymous and Err returns the
// provider's message.
func (g *Gate) Login(ctx context.Context, email, password string) error {
	return g.open(ctx, "login", email, password, g.auth.SignIn)
}

// Register creates an account and signs it in, like Login.
func (g *Gate) Register(ctx context.Context, email, password string) error {
	return g.open(ctx, "register", email, password, g.auth.Register)
}

func (g *Gate) open(ctx context.Context, op, email, password string,
	fn func(context.Context, string, string) (*sdk.User, error)) error {
	g.setErr("")
	user, err := fn(ctx, email, password)
	if err != nil {
		g.logger.Debug("sign-in failed", zap.String("op", op), zap.Error(err))
		g.setErr(err.Error())
		return err
	}
	g.apply(user)
	return nil
}

// Logout signs out. The Gate is Anonymous afterwards even if the provider
// could not be reached.
func (g *Gate) Logout(ctx context.Context) error {
	err := g.auth.SignOut(ctx)
	if err != nil {
		g.logger.Warn("sign-out failed", zap.Error(err))
	}
	g.apply(nil)
	return err
}

// State returns the current state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// User returns the signed-in user, or nil when Anonymous.
func (g *Gate) User() *sdk.User {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.user == nil {
		return nil
	}
	u := *g.user
	return &u
}

// Err returns the message of the last failed Login or Register, or "".
func (g *Gate) Err() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastErr
}

// OnAuthenticated registers fn to run on every entry into Authenticated.
func (g *Gate) OnAuthenticated(fn func(*sdk.User)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onEnter = append(g.onEnter, fn)
}

// Subscribe registers fn to run after every state change and returns a
// function that removes it.
func (g *Gate) Subscribe(fn func(State, *sdk.User)) (unsubscribe func()) {
	g.mu.Lock()
	g.nextID++
	id := g.nextID
	g.observers = append(g.observers, observer{id: id, fn: fn})
	g.mu.Unlock()

	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		for i, o := range g.observers {
			if o.id == id {
				g.observers = append(g.observers[:i:i], g.observers[i+1:]...)
				return
			}
		}
	}
}

func (g *Gate) setErr(msg string) {
	g.mu.Lock()
	g.lastErr = msg
	g.mu.Unlock()
}

// apply moves the Gate to the state implied by user. Repeated reports of
// the same user are ignored.
func (g *Gate) apply(user *sdk.User) {
	g.mu.Lock()
	next := Anonymous
	if user != nil {
		next = Authenticated
	}
	if next == g.state && sameUser(g.user, user) {
		g.mu.Unlock()
		return
	}
	g.state = next
	if user != nil {
		u := *user
		g.user = &u
		g.lastErr = ""
	} else {
		g.user = nil
	}
	var hooks []func(*sdk.User)
	if next == Authenticated {
		hooks = append(hooks, g.onEnter...)
	}
	obs := make([]func(State, *sdk.User), len(g.observers))
	for i, o := range g.observers {
		obs[i] = o.fn
	}
	g.mu.Unlock()

	g.logger.Info("auth state changed", zap.Stringer("state", next))
	for _, fn := range hooks {
		fn(copyUser(user))
	}
	for _, fn := range obs {
		fn(next, copyUser(user))
	}
}

func sameUser(a, b *sdk.User) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.UID == b.UID
}

func copyUser(u *sdk.User) *sdk.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
