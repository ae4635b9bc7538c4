// Package sse pushes auth-state changes to connected clients as
// server-sent events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/pantry/auth"
	"go.uber.org/zap"
)

const defaultKeepAlive = 30 * time.Second

// Handler handles the auth-state stream.
type Handler struct {
	provider  *auth.Provider
	keepAlive time.Duration
	logger    *zap.Logger
}

// NewHandler creates a new SSE Handler. keepAlive <= 0 selects the default.
func NewHandler(p *auth.Provider, keepAlive time.Duration, logger *zap.Logger) *Handler {
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	return &Handler{provider: p, keepAlive: keepAlive, logger: logger}
}

// ServeAuthEvents handles GET /v1/auth/events?token=<jwt>.
//
// The stream opens with a "state" event carrying the signed-in identity.
// When the session is signed out or expires a final "state" event with
// data null is sent and the stream ends.
func (h *Handler) ServeAuthEvents(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	// Subscribe before verifying so a sign-out racing the handshake is seen.
	ctx := c.Request.Context()
	msgCh, unsub, err := h.provider.Watch(ctx, token)
	if err != nil {
		h.logger.Error("sse subscribe failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "subscribe failed"})
		return
	}
	defer unsub()

	id, err := h.provider.Verify(ctx, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error(), "code": auth.CodeOf(err)})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	if err := writeState(c, id); err != nil {
		return
	}

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			if msg.Payload == auth.EventSignedOut {
				_ = writeState(c, nil)
				return
			}

		case <-ticker.C:
			// Keepalive comment to prevent proxy timeouts.
			if _, err := fmt.Fprint(c.Writer, ": keepalive\n\n"); err != nil {
				return
			}
			c.Writer.Flush()

		case <-ctx.Done():
			return
		}
	}
}

func writeState(c *gin.Context, id *auth.Identity) error {
	data := []byte("null")
	if id != nil {
		var err error
		if data, err = json.Marshal(id); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(c.Writer, "event: state\ndata: %s\n\n", data); err != nil {
		return err
	}
	c.Writer.Flush()
	return nil
}
