// Package integration runs pantryd in-process for end-to-end tests of the
// REST surface, the SDK, and the client layers built on it.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/pantry/api"
	"github.com/kasuganosora/pantry/audit"
	"github.com/kasuganosora/pantry/auth"
	"github.com/kasuganosora/pantry/cache"
	"github.com/kasuganosora/pantry/config"
	"github.com/kasuganosora/pantry/docstore/sqlstore"
	"github.com/kasuganosora/pantry/scheduler"
	"github.com/kasuganosora/pantry/sdk"
	"github.com/kasuganosora/pantry/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const AdminKey = "integration-admin-key"

// TestServer wraps a real HTTP server with every pantryd service wired together.
type TestServer struct {
	DB       *gorm.DB
	Cache    cache.Cache
	PubSub   cache.PubSub
	Provider *auth.Provider
	Store    *sqlstore.Store
	Audit    *audit.Service
	Sched    *scheduler.Scheduler
	Server   *httptest.Server
	URL      string // http://127.0.0.1:<port>
	Sec      config.SecurityConfig
}

// NewTestServer creates a fully wired server. It mirrors the wiring in
// main.go and is shut down when the test ends.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.SetupTestDB(t)
	c, pubsub := testutil.SetupTestCache(t)
	logger := zap.NewNop()

	sec := config.SecurityConfig{
		JWTSecret: "integration-test-secret",
		JWTTTLH:   72 * time.Hour,
	}

	provider := auth.NewProvider(db, c, pubsub, sec, logger)
	store := sqlstore.New(db, 0, logger)
	auditSvc := audit.New(db, logger)
	sched := scheduler.New(logger)
	sched.AddTicker("session_sweep", 50*time.Millisecond, func(ctx context.Context) {
		_, _ = provider.Sweep(ctx)
	})

	r := api.NewRouter(api.Deps{
		DB:        db,
		Cache:     c,
		Provider:  provider,
		Store:     store,
		Audit:     auditSvc,
		Scheduler: sched,
		Security:  sec,
		AdminKey:  AdminKey,
		Logger:    logger,
	})
	server := httptest.NewServer(r)

	t.Cleanup(func() {
		server.CloseClientConnections()
		server.Close()
		sched.Stop()
		auditSvc.Stop(context.Background())
	})

	return &TestServer{
		DB:       db,
		Cache:    c,
		PubSub:   pubsub,
		Provider: provider,
		Store:    store,
		Audit:    auditSvc,
		Sched:    sched,
		Server:   server,
		URL:      server.URL,
		Sec:      sec,
	}
}

// NewClient returns an SDK client for the server, closed when the test ends.
func (ts *TestServer) NewClient(t *testing.T) *sdk.Client {
	t.Helper()
	client := sdk.New(ts.URL)
	t.Cleanup(client.Close)
	return client
}

// ProviderWith returns a provider sharing the server's database, cache and
// pub/sub but using other security settings.
func (ts *TestServer) ProviderWith(sec config.SecurityConfig) *auth.Provider {
	return auth.NewProvider(ts.DB, ts.Cache, ts.PubSub, sec, zap.NewNop())
}

// --- HTTP helpers ---

// Do sends a request with an optional JSON body and Bearer token.
func (ts *TestServer) Do(t *testing.T, method, path string, body interface{}, token string) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		bodyReader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, bodyReader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// PostJSON sends a POST request with JSON body and optional Bearer token.
func (ts *TestServer) PostJSON(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	return ts.Do(t, http.MethodPost, path, body, token)
}

// Get sends a GET request with optional Bearer token.
func (ts *TestServer) Get(t *testing.T, path string, token string) *http.Response {
	t.Helper()
	return ts.Do(t, http.MethodGet, path, nil, token)
}

// ReadJSON reads and decodes a JSON response body into the given target.
func ReadJSON(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, target), "body: %s", string(data))
}

// --- Auth helpers ---

// Register creates an account and returns its token and uid.
func (ts *TestServer) Register(t *testing.T, email, password string) (token, uid string) {
	t.Helper()
	resp := ts.PostJSON(t, "/v1/auth/register", map[string]string{
		"email":    email,
		"password": password,
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result struct {
		Token string `json:"token"`
		UID   string `json:"uid"`
	}
	ReadJSON(t, resp, &result)
	return result.Token, result.UID
}

var testCounter uint64

// UniqueEmail returns an address no other test in the process uses.
func UniqueEmail(prefix string) string {
	n := atomic.AddUint64(&testCounter, 1)
	return fmt.Sprintf("%s_%d_%d@example.com", prefix, time.Now().UnixNano()%100000, n)
}
