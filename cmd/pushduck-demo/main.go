// main.go — pushduck demo server.
// Wires provider resolution, an upload router with two example routes
// (avatar images, generic documents), the storage façade, rate limiting,
// an optional Postgres audit sink, Prometheus metrics, and optional Sentry
// error reporting into one runnable binary.
//
// Port: 8080 (env: PUSHDUCK_PORT).
package main

import (
	"database/sql"
	"net/http"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/abhay-ramesh/pushduck"
	"github.com/abhay-ramesh/pushduck/internal/audit"
	pdlog "github.com/abhay-ramesh/pushduck/internal/logger"
	"github.com/abhay-ramesh/pushduck/internal/metrics"
	"github.com/abhay-ramesh/pushduck/internal/ratelimit"
	"github.com/abhay-ramesh/pushduck/internal/shutdown"
	"github.com/abhay-ramesh/pushduck/internal/telemetry"
	"github.com/abhay-ramesh/pushduck/provider"
	"github.com/abhay-ramesh/pushduck/schema"
)

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	providerKind := provider.Kind(getEnv("PUSHDUCK_PROVIDER", string(provider.AWS)))
	cfg, err := provider.Resolve(providerKind, provider.Overrides{}, provider.OSEnv{})
	if err != nil {
		logger.WithError(err).Fatal("pushduck-demo: failed to resolve provider configuration")
	}

	if dsn := getEnv("SENTRY_DSN", ""); dsn != "" {
		if err := telemetry.Init(dsn, "pushduck-demo", "dev"); err != nil {
			logger.WithError(err).Warn("pushduck-demo: sentry init failed, continuing without it")
		}
		defer telemetry.Flush()
	}

	var auditSink audit.Sink = audit.NoopSink{}
	if dsn := getEnv("PUSHDUCK_AUDIT_DSN", ""); dsn != "" {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			logger.WithError(err).Fatal("pushduck-demo: failed to open audit database")
		}
		defer db.Close()
		auditSink = audit.NewPostgresSink(db, nil)
		logger.Info("pushduck-demo: audit trail enabled (postgres)")
	}

	var rlStore ratelimit.Store
	if addr := getEnv("REDIS_ADDR", ""); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		rlStore = ratelimit.NewRedisStore(client)
		logger.WithField("addr", addr).Info("pushduck-demo: rate limiting backed by redis")
	} else {
		rlStore = ratelimit.NewInMemoryStore()
		logger.Info("pushduck-demo: rate limiting backed by in-memory store (single-process only)")
	}

	uploadConfig := pushduck.NewConfigBuilder(*cfg).
		WithPaths(pushduck.Paths{Prefix: "uploads"}).
		WithSecurity(pushduck.Security{
			AllowedOrigins: []string{"*"},
			RateLimiting: &pushduck.RateLimiting{
				Store:          rlStore,
				PresignRate:    60,
				PresignWindow:  time.Minute,
				CompleteRate:   120,
				CompleteWindow: time.Minute,
			},
		}).
		WithHooks(pushduck.Hooks{
			OnUploadError: func(ctx *pushduck.UploadContext, err error) {
				logger.WithFields(logrus.Fields{
					"route": ctx.Route,
					"key":   ctx.Key,
				}).WithError(err).Warn("pushduck-demo: upload failed")
			},
		}).
		Build()

	router := pushduck.NewRouter(uploadConfig).
		WithAudit(auditSink).
		Route("avatar", pushduck.NewRoute(
			schema.Image().MaxFileSize("5MB").Formats("jpeg", "png", "webp"),
		).Paths("av", nil).Build()).
		Route("document", pushduck.NewRoute(
			schema.File().MaxFileSize("25MB").Types("application/pdf", "application/msword"),
		).Paths("docs", nil).Build())

	mux := http.NewServeMux()
	get, post := router.Handlers()
	mux.HandleFunc("GET /api/upload", get)
	mux.HandleFunc("POST /api/upload", post)
	mux.HandleFunc("OPTIONS /api/upload", post)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","service":"pushduck-demo"}`))
	})

	handler := http.Handler(mux)
	if getEnv("SENTRY_DSN", "") != "" {
		handler = telemetry.PanicRecoveryMiddleware("pushduck-demo")(handler)
	}

	port := getEnv("PUSHDUCK_PORT", "8080")
	addr := ":" + port

	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	slogLogger := pdlog.New(getEnv("PUSHDUCK_LOG_FORMAT", "json"), getEnv("PUSHDUCK_LOG_LEVEL", "info"))
	logger.WithField("addr", addr).Info("pushduck-demo: starting")
	if err := shutdown.GracefulServe(httpSrv, 15*time.Second, slogLogger); err != nil {
		logger.WithError(err).Fatal("pushduck-demo: server error")
	}
}
