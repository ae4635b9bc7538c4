package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/pantry/api/rest"
	"github.com/kasuganosora/pantry/audit"
	"github.com/kasuganosora/pantry/auth"
	"github.com/kasuganosora/pantry/config"
	"github.com/kasuganosora/pantry/docstore/sqlstore"
	mw "github.com/kasuganosora/pantry/middleware"
	"github.com/kasuganosora/pantry/scheduler"
	"github.com/kasuganosora/pantry/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const adminKey = "admin-secret"

type env struct {
	router   *gin.Engine
	db       *gorm.DB
	provider *auth.Provider
	audit    *audit.Service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)
	sec := config.SecurityConfig{JWTSecret: "test-secret", JWTTTLH: time.Hour}
	logger := zap.NewNop()

	provider := auth.NewProvider(db, c, ps, sec, logger)
	auditSvc := audit.New(db, logger)
	t.Cleanup(func() { auditSvc.Stop(context.Background()) })
	sched := scheduler.New(logger)
	t.Cleanup(sched.Stop)
	sched.AddTicker("session_sweep", time.Hour, func(context.Context) {})

	authH := rest.NewAuthHandler(provider, auditSvc)
	docH := rest.NewDocHandler(sqlstore.New(db, 0, logger), auditSvc)
	adminH := rest.NewAdminHandler(db, provider, auditSvc, sched, logger)

	r := gin.New()
	r.Use(mw.TraceID())
	r.POST("/v1/auth/register", authH.Register)
	r.POST("/v1/auth/login", authH.Login)
	r.POST("/v1/auth/logout", mw.Auth(sec, c), authH.Logout)

	docs := r.Group("/v1/docs", mw.Auth(sec, c))
	docs.GET("/:collection", docH.List)
	docs.GET("/:collection/:id", docH.Get)
	docs.PUT("/:collection/:id", docH.Set)
	docs.PATCH("/:collection/:id", docH.Update)
	docs.DELETE("/:collection/:id", docH.Delete)
	docs.POST("/:collection/:id/increment", docH.Increment)

	admin := r.Group("/v1/admin", rest.AdminAuth(adminKey))
	admin.GET("/metrics", adminH.Metrics)
	admin.GET("/scheduler", adminH.ListSchedulerTasks)
	admin.POST("/accounts/:id/disable", adminH.DisableAccount)
	admin.GET("/accounts/:id/audit", adminH.AccountAudit)

	return &env{router: r, db: db, provider: provider, audit: auditSvc}
}

func (e *env) do(method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// register signs up a fresh account and returns its bearer header pair.
func (e *env) register(t *testing.T, email string) (token string, uid string) {
	t.Helper()
	w := e.do(http.MethodPost, "/v1/auth/register", map[string]string{"email": email, "password": "secret1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Token string `json:"token"`
		UID   string `json:"uid"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Token, resp.UID
}

func bearer(token string) []string {
	return []string{"Authorization", "Bearer " + token}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m), w.Body.String())
	return m
}
