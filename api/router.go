// Package api assembles the pantryd HTTP surface.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	apirest "github.com/kasuganosora/pantry/api/rest"
	"github.com/kasuganosora/pantry/api/sse"
	"github.com/kasuganosora/pantry/audit"
	"github.com/kasuganosora/pantry/auth"
	"github.com/kasuganosora/pantry/cache"
	"github.com/kasuganosora/pantry/config"
	"github.com/kasuganosora/pantry/docstore"
	mw "github.com/kasuganosora/pantry/middleware"
	"github.com/kasuganosora/pantry/scheduler"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Deps are the services the router dispatches to.
type Deps struct {
	DB        *gorm.DB
	Cache     cache.Cache
	Provider  *auth.Provider
	Store     docstore.Store
	Audit     *audit.Service
	Scheduler *scheduler.Scheduler
	Security  config.SecurityConfig
	AdminKey  string
	// KeepAlive is the SSE keepalive period; zero selects the default.
	KeepAlive time.Duration
	Logger    *zap.Logger
}

// NewRouter builds the gin engine with every route mounted.
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(d.Logger), mw.Recovery(d.Logger))

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authH := apirest.NewAuthHandler(d.Provider, d.Audit)
	docH := apirest.NewDocHandler(d.Store, d.Audit)
	adminH := apirest.NewAdminHandler(d.DB, d.Provider, d.Audit, d.Scheduler, d.Logger)
	sseH := sse.NewHandler(d.Provider, d.KeepAlive, d.Logger)

	v1 := r.Group("/v1")
	{
		authG := v1.Group("/auth")
		authG.POST("/register", authH.Register)
		authG.POST("/login", authH.Login)
		authG.POST("/logout", mw.Auth(d.Security, d.Cache), authH.Logout)
		authG.GET("/events", sseH.ServeAuthEvents)

		docsG := v1.Group("/docs")
		docsG.Use(mw.Auth(d.Security, d.Cache))
		docsG.GET("/:collection", docH.List)
		docsG.GET("/:collection/:id", docH.Get)
		docsG.PUT("/:collection/:id", docH.Set)
		docsG.PATCH("/:collection/:id", docH.Update)
		docsG.DELETE("/:collection/:id", docH.Delete)
		docsG.POST("/:collection/:id/increment", docH.Increment)

		adminG := v1.Group("/admin")
		adminG.Use(apirest.AdminAuth(d.AdminKey))
		adminG.GET("/metrics", adminH.Metrics)
		adminG.GET("/scheduler", adminH.ListSchedulerTasks)
		adminG.POST("/accounts/:id/disable", adminH.DisableAccount)
		adminG.GET("/accounts/:id/audit", adminH.AccountAudit)
	}

	return r
}
