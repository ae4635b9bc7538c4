package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/pantry/audit"
	"github.com/kasuganosora/pantry/auth"
	"github.com/kasuganosora/pantry/model"
	"github.com/kasuganosora/pantry/scheduler"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AdminHandler handles admin-only REST endpoints.
// Routes should be protected by AdminAuth middleware.
type AdminHandler struct {
	db       *gorm.DB
	provider *auth.Provider
	audit    *audit.Service
	sched    *scheduler.Scheduler
	logger   *zap.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(
	db *gorm.DB,
	provider *auth.Provider,
	a *audit.Service,
	sched *scheduler.Scheduler,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{db: db, provider: provider, audit: a, sched: sched, logger: logger}
}

// Metrics returns row counts and scheduler state.
// GET /v1/admin/metrics
func (h *AdminHandler) Metrics(c *gin.Context) {
	var accounts, documents int64
	if err := h.db.Model(&model.Account{}).Count(&accounts).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	if err := h.db.Model(&model.Document{}).Count(&documents).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"accounts":        accounts,
		"documents":       documents,
		"scheduler_tasks": h.sched.ListTickers(),
	})
}

// DisableAccount disables or re-enables an account. Disabling also signs
// out its live sessions so connected clients drop to the login view.
// POST /v1/admin/accounts/:id/disable
func (h *AdminHandler) DisableAccount(c *gin.Context) {
	accountID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req struct {
		Disabled *bool `json:"disabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	disabled := *req.Disabled

	status := model.AccountActive
	if disabled {
		status = model.AccountDisabled
	}
	result := h.db.Model(&model.Account{}).Where("id = ?", accountID).Update("status", status)
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}

	signedOut := 0
	if disabled {
		if signedOut, err = h.provider.SignOutAccount(c.Request.Context(), accountID); err != nil {
			h.logger.Warn("sign out disabled account", zap.Int64("account_id", accountID), zap.Error(err))
		}
	}
	h.logger.Info("admin changed account status",
		zap.Int64("account_id", accountID), zap.Int("status", status), zap.Int("signed_out", signedOut))
	c.JSON(http.StatusOK, gin.H{"ok": true, "status": status, "signed_out": signedOut})
}

// AccountAudit returns the newest audit entries of an account.
// GET /v1/admin/accounts/:id/audit?limit=N
func (h *AdminHandler) AccountAudit(c *gin.Context) {
	accountID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 500 {
		limit = 50
	}
	logs, err := h.audit.Recent(c.Request.Context(), accountID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": logs})
}

// ListSchedulerTasks returns names of all registered ticker tasks.
// GET /v1/admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.sched.ListTickers()})
}

// AdminAuth returns a middleware that checks the X-Admin-Key header.
// With an empty adminKey every admin endpoint answers 503.
func AdminAuth(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminKey == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				gin.H{"error": "admin endpoints disabled: set server.admin_key in config"})
			return
		}
		key := c.GetHeader("X-Admin-Key")
		if key != adminKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
