package rest

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/pantry/audit"
	"github.com/kasuganosora/pantry/auth"
	mw "github.com/kasuganosora/pantry/middleware"
)

// AuthHandler handles authentication REST endpoints.
type AuthHandler struct {
	provider *auth.Provider
	audit    *audit.Service
}

// NewAuthHandler creates a new AuthHandler. audit may be nil.
func NewAuthHandler(p *auth.Provider, a *audit.Service) *AuthHandler {
	return &AuthHandler{provider: p, audit: a}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signInFunc func(ctx context.Context, email, password, ip string) (*auth.Session, error)

// Register handles POST /v1/auth/register.
func (h *AuthHandler) Register(c *gin.Context) {
	h.open(c, audit.ActionRegister, h.provider.Register)
}

// Login handles POST /v1/auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	h.open(c, audit.ActionSignIn, h.provider.SignIn)
}

func (h *AuthHandler) open(c *gin.Context, action string, fn signInFunc) {
	start := time.Now()
	var req credentials
	if !bindJSON(c, &req) {
		return
	}

	sess, err := fn(c.Request.Context(), req.Email, req.Password, c.ClientIP())

	entry := audit.Entry{
		TraceID:  mw.GetTraceID(c),
		Action:   action,
		Request:  gin.H{"email": req.Email},
		IP:       c.ClientIP(),
		Duration: time.Since(start),
	}
	if err != nil {
		entry.Error = auth.CodeOf(err)
		h.record(entry)
		abortAuth(c, err)
		return
	}
	if id, perr := strconv.ParseInt(sess.UID, 10, 64); perr == nil {
		entry.AccountID = &id
	}
	h.record(entry)
	c.JSON(http.StatusOK, sess)
}

// Logout handles POST /v1/auth/logout.
func (h *AuthHandler) Logout(c *gin.Context) {
	token := c.GetString(mw.TokenKey)
	if token == "" {
		token = mw.BearerToken(c)
	}
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing token"})
		return
	}
	if err := h.provider.SignOut(c.Request.Context(), token); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sign-out failed", "code": auth.CodeInternal})
		return
	}
	entry := audit.Entry{
		TraceID: mw.GetTraceID(c),
		Action:  audit.ActionSignOut,
		Request: gin.H{"email": mw.GetEmail(c)},
		IP:      c.ClientIP(),
	}
	if id := mw.GetAccountID(c); id != 0 {
		entry.AccountID = &id
	}
	h.record(entry)
	c.JSON(http.StatusOK, gin.H{"message": "signed out"})
}

func (h *AuthHandler) record(e audit.Entry) {
	if h.audit != nil {
		h.audit.Log(e)
	}
}
