// Package ui holds the client's view state and turns user actions into
// session and inventory calls. Rendering is plain text so the controller
// can drive a terminal or a test alike.
package ui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/kasuganosora/pantry/inventory"
	"github.com/kasuganosora/pantry/sdk"
	"github.com/kasuganosora/pantry/session"
	"go.uber.org/zap"
)

// ErrSignedOut is returned by inventory actions while no user is signed in.
var ErrSignedOut = errors.New("sign in to manage your pantry")

// Controller is the composition of the session gate and the inventory
// service with the local view state: the last fetched snapshot, the
// search term and the message of the last failure.
type Controller struct {
	gate   *session.Gate
	inv    *inventory.Service
	logger *zap.Logger

	mu     sync.Mutex
	items  []inventory.Item
	search string
	errMsg string
	unsub  func()
}

// NewController creates a Controller.
func NewController(g *session.Gate, inv *inventory.Service, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{gate: g, inv: inv, logger: logger}
}

// Mount starts following the session. Every entry into Authenticated
// loads the inventory; leaving it clears the local snapshot.
func (c *Controller) Mount() {
	c.gate.OnAuthenticated(func(*sdk.User) {
		if err := c.Refresh(context.Background()); err != nil {
			c.logger.Warn("initial inventory load failed", zap.Error(err))
		}
	})
	unsub := c.gate.Subscribe(func(s session.State, _ *sdk.User) {
		if s == session.Anonymous {
			c.mu.Lock()
			c.items = nil
			c.search = ""
			c.mu.Unlock()
		}
	})
	c.mu.Lock()
	c.unsub = unsub
	c.mu.Unlock()
	c.gate.Start()
}

// Unmount stops following the session. In-flight calls are not cancelled.
func (c *Controller) Unmount() {
	c.gate.Stop()
	c.mu.Lock()
	unsub := c.unsub
	c.unsub = nil
	c.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// Login signs in; a failure message is kept for the login view.
func (c *Controller) Login(ctx context.Context, email, password string) error {
	return c.gate.Login(ctx, email, password)
}

// Register creates an account and signs it in.
func (c *Controller) Register(ctx context.Context, email, password string) error {
	return c.gate.Register(ctx, email, password)
}

// Logout signs out.
func (c *Controller) Logout(ctx context.Context) error {
	return c.gate.Logout(ctx)
}

// Refresh reloads the whole inventory. On failure the previous snapshot is
// kept and the error becomes the visible message.
func (c *Controller) Refresh(ctx context.Context) error {
	if c.gate.State() != session.Authenticated {
		return ErrSignedOut
	}
	items, err := c.inv.List(ctx)
	if err != nil {
		c.fail(err)
		return err
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	c.mu.Lock()
	c.items = items
	c.errMsg = ""
	c.mu.Unlock()
	return nil
}

// Add adds quantity units of name and reloads.
func (c *Controller) Add(ctx context.Context, name string, quantity int64, category string) error {
	return c.mutate(ctx, func() error {
		return c.inv.Add(ctx, strings.TrimSpace(name), quantity, strings.TrimSpace(category))
	})
}

// SetQuantity overwrites the quantity of name and reloads.
func (c *Controller) SetQuantity(ctx context.Context, name string, quantity int64) error {
	return c.mutate(ctx, func() error {
		return c.inv.SetQuantity(ctx, strings.TrimSpace(name), quantity)
	})
}

// Remove takes one unit of name away and reloads.
func (c *Controller) Remove(ctx context.Context, name string) error {
	return c.mutate(ctx, func() error {
		return c.inv.Remove(ctx, strings.TrimSpace(name))
	})
}

func (c *Controller) mutate(ctx context.Context, op func() error) error {
	if c.gate.State() != session.Authenticated {
		c.fail(ErrSignedOut)
		return ErrSignedOut
	}
	if err := op(); err != nil {
		c.fail(err)
		return err
	}
	return c.Refresh(ctx)
}

func (c *Controller) fail(err error) {
	c.logger.Debug("action failed", zap.Error(err))
	c.mu.Lock()
	c.errMsg = err.Error()
	c.mu.Unlock()
}

// Search sets the filter applied to the visible list.
func (c *Controller) Search(term string) {
	c.mu.Lock()
	c.search = strings.TrimSpace(term)
	c.mu.Unlock()
}

// Items returns the visible items: the snapshot filtered by the search term.
func (c *Controller) Items() []inventory.Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return inventory.Filter(append([]inventory.Item(nil), c.items...), c.search)
}

// Err returns the visible error message: the gate's sign-in failure while
// signed out, otherwise the last failed action.
func (c *Controller) Err() string {
	if c.gate.State() == session.Anonymous {
		if msg := c.gate.Err(); msg != "" {
			return msg
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errMsg
}

// Render writes the current view to w: the sign-in view while Anonymous,
// the inventory otherwise.
func (c *Controller) Render(w io.Writer) error {
	if c.gate.State() != session.Authenticated {
		return c.renderSignIn(w)
	}
	return c.renderInventory(w)
}

func (c *Controller) renderSignIn(w io.Writer) error {
	var b strings.Builder
	b.WriteString("== Pantry: sign in ==\n")
	b.WriteString("  login <email> <password>\n")
	b.WriteString("  register <email> <password>\n")
	if msg := c.Err(); msg != "" {
		fmt.Fprintf(&b, "! %s\n", msg)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func (c *Controller) renderInventory(w io.Writer) error {
	items := c.Items()
	c.mu.Lock()
	search := c.search
	c.mu.Unlock()

	header := "== Inventory Items =="
	if u := c.gate.User(); u != nil {
		header += " (" + u.Email + ")"
	}
	if _, err := fmt.Fprintln(w, header); err != nil {
		return err
	}
	if search != "" {
		fmt.Fprintf(w, "search: %q\n", search)
	}
	if msg := c.Err(); msg != "" {
		fmt.Fprintf(w, "! %s\n", msg)
	}
	if len(items) == 0 {
		_, err := fmt.Fprintln(w, "(no items)")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ITEM\tQTY\tCATEGORY")
	for _, it := range items {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", inventory.DisplayName(it.Name), it.Quantity, it.Category)
	}
	return tw.Flush()
}
