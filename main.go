// Command pantryd is the pantry backend: email/password identity provider,
// document store and the auth-state push stream.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/pantry/api"
	"github.com/kasuganosora/pantry/audit"
	"github.com/kasuganosora/pantry/auth"
	"github.com/kasuganosora/pantry/cache"
	cacheredis "github.com/kasuganosora/pantry/cache/redis"
	"github.com/kasuganosora/pantry/config"
	dbadapter "github.com/kasuganosora/pantry/db"
	"github.com/kasuganosora/pantry/docstore"
	"github.com/kasuganosora/pantry/docstore/redisstore"
	"github.com/kasuganosora/pantry/docstore/sqlstore"
	"github.com/kasuganosora/pantry/logging"
	"github.com/kasuganosora/pantry/model"
	"github.com/kasuganosora/pantry/scheduler"
	"go.uber.org/zap"
)

func main() {
	cfgPath := ""
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	logger, err := logging.New(cfg.Server.Debug, "", cfg.Log)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if cfg.Security.JWTSecret == "" {
		logger.Fatal("security.jwt_secret is required")
	}
	if cfg.Server.AdminKey == "" {
		logger.Warn("server.admin_key is not set; admin endpoints are disabled")
	}

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		logger.Fatal("db", zap.Error(err))
	}
	if err := model.AutoMigrate(db); err != nil {
		logger.Fatal("db migrate", zap.Error(err))
	}
	logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode))

	// ---- Audit ----
	auditSvc := audit.New(db, logger)
	defer auditSvc.Stop(context.Background())

	// ---- Cache / PubSub ----
	cacheConfig := cache.CacheConfig{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	}
	c, err := cache.NewCache(cacheConfig)
	if err != nil {
		logger.Fatal("cache", zap.Error(err))
	}
	pubsub, err := cache.NewPubSub(cacheConfig)
	if err != nil {
		logger.Fatal("pubsub", zap.Error(err))
	}
	logger.Info("Cache initialized", zap.Bool("redis", cfg.Cache.RedisAddr != ""))

	// ---- Document store ----
	var store docstore.Store
	switch cfg.DocStore.Backend {
	case "redis":
		if cfg.Cache.RedisAddr == "" {
			logger.Fatal("docstore.backend=redis requires cache.redis_addr")
		}
		client, err := cacheredis.Dial(cacheredis.Config{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		if err != nil {
			logger.Fatal("docstore redis", zap.Error(err))
		}
		defer client.Close()
		store = redisstore.New(client, cfg.DocStore.RedisPrefix, cfg.DocStore.MaxRetries, logger)
	case "sql", "":
		store = sqlstore.New(db, cfg.DocStore.MaxRetries, logger)
	default:
		logger.Fatal("unknown docstore backend", zap.String("backend", cfg.DocStore.Backend))
	}
	logger.Info("Document store initialized", zap.String("backend", cfg.DocStore.Backend))

	provider := auth.NewProvider(db, c, pubsub, cfg.Security, logger)

	// ---- Scheduler ----
	sched := scheduler.New(logger)
	defer sched.Stop()
	sched.AddTicker("session_sweep", cfg.Server.SweepInterval, func(ctx context.Context) {
		if _, err := provider.Sweep(ctx); err != nil {
			logger.Warn("session sweep failed", zap.Error(err))
		}
	})

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := api.NewRouter(api.Deps{
		DB:        db,
		Cache:     c,
		Provider:  provider,
		Store:     store,
		Audit:     auditSvc,
		Scheduler: sched,
		Security:  cfg.Security,
		AdminKey:  cfg.Server.AdminKey,
		Logger:    logger,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		logger.Info("shutting down", zap.Stringer("signal", s))
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server", zap.Error(err))
		}
	}

	// SSE streams never finish on their own; Shutdown gives up after the timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
}
