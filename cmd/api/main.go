// Package main is the entry point for the Vigil API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/vigil-app/vigil/internal/api"
	"github.com/vigil-app/vigil/internal/auth"
	"github.com/vigil-app/vigil/internal/broadcast"
	"github.com/vigil-app/vigil/internal/config"
	"github.com/vigil-app/vigil/internal/contact"
	"github.com/vigil-app/vigil/internal/db"
	"github.com/vigil-app/vigil/internal/health"
	"github.com/vigil-app/vigil/internal/idempotency"
	"github.com/vigil-app/vigil/internal/jobs"
	"github.com/vigil-app/vigil/internal/middleware"
	"github.com/vigil-app/vigil/internal/report"
	"github.com/vigil-app/vigil/internal/tracing"
)

func main() {
	help := flag.Bool("help", false, "display help message")
	configFile := flag.String("config", "", "path to YAML config file (env vars take precedence)")
	flag.Parse()

	if *help {
		fmt.Println("Vigil API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configFile)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	summary := cfg.LogSummary()
	attrs := make([]any, 0, len(summary)*2)
	for k, v := range summary {
		attrs = append(attrs, k, v)
	}
	logger.Info("configuration loaded", attrs...)

	// Tracing is optional; without an OTLP endpoint the provider is a no-op.
	tracerProvider, err := tracing.NewProvider(tracing.Config{
		ServiceName:  "vigil-api",
		Enabled:      cfg.OTLPEndpoint != "",
		Environment:  cfg.Env,
		ExporterType: "otlp-grpc",
		OTLPEndpoint: cfg.OTLPEndpoint,
		SamplingRate: 0.1,
		InsecureMode: cfg.Env != "production",
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	pool, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if version, err := db.VerifyPostGIS(pingCtx, pool); err != nil {
		logger.Warn("database not reachable at startup, readiness endpoint will report it", "error", err)
	} else {
		logger.Info("database connected", "postgis_version", version)
	}
	cancelPing()

	// Stores
	reportStore := report.NewPostgresStore(pool, logger)
	contactStore := contact.NewPostgresStore(pool)
	idempotencyRepo := idempotency.NewInMemoryRepository()

	// Metrics registry shared by HTTP middleware and the broadcaster.
	metrics := middleware.NewMetrics()
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", "error", err)
		os.Exit(1)
	}
	broadcastMetrics := broadcast.NewMetrics()
	if err := broadcastMetrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register broadcast metrics", "error", err)
		os.Exit(1)
	}
	jobMetrics := jobs.NewMetrics()
	if err := jobMetrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register job metrics", "error", err)
		os.Exit(1)
	}

	broadcaster := broadcast.New(logger, broadcastMetrics)

	// Auth. Tokens signed with the previous secret stay valid during a
	// rotation window.
	currentSecret, previousSecret := cfg.GetJWTSecrets()
	var jwtService *auth.JWTService
	if previousSecret != "" {
		jwtService = auth.NewJWTServiceWithRotation(currentSecret, previousSecret)
	} else {
		jwtService = auth.NewJWTService(currentSecret)
	}

	// Rate limiting backed by Redis when configured, in-memory otherwise.
	var rateLimitStore middleware.RateLimitStore
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer redisClient.Close()
		redisStore := middleware.NewRedisRateLimitStore(redisClient)
		redisStore.SetMetrics(metrics)
		rateLimitStore = redisStore
	} else {
		rateLimitStore = middleware.NewInMemoryRateLimitStore()
	}

	submitLimiter := middleware.RateLimiter(rateLimitStore, middleware.RateLimitConfig{
		RequestsPerWindow: cfg.RateLimitPerMinute,
		WindowDuration:    time.Minute,
	}, middleware.UserKeyFunc(), metrics)
	queryLimiter := middleware.RateLimiter(rateLimitStore, middleware.DefaultQueryLimit(), middleware.IPKeyFunc(), metrics)

	// Handlers
	reportHandlers := api.NewReportHandlers(reportStore, broadcaster)
	contactHandlers := api.NewContactHandlers(contactStore)
	monitorHandlers := api.NewMonitorHandlers(broadcaster)
	healthHandlers := api.NewHealthHandlers(api.HealthHandlersConfig{
		DBChecker:      health.NewDBChecker(pool),
		RedisChecker:   redisChecker(redisClient),
		MetricsEnabled: true,
	})

	authRequired := middleware.Auth(jwtService)
	authOptional := middleware.OptionalAuth(jwtService)
	idempotent := middleware.IdempotencyMiddleware(idempotencyRepo, map[string]bool{
		"/api/v1/reports": true,
	})

	mux := http.NewServeMux()

	// Report submission: optional auth (anonymous reports allowed), submit
	// rate limit keyed by user, idempotency on retries.
	mux.Handle("/api/v1/reports", methodHandler(map[string]http.Handler{
		http.MethodPost: authOptional(submitLimiter(idempotent(http.HandlerFunc(reportHandlers.CreateReport)))),
	}))
	mux.Handle("/api/v1/reports/radius/", methodHandler(map[string]http.Handler{
		http.MethodGet: queryLimiter(http.HandlerFunc(reportHandlers.QueryRadius)),
	}))
	mux.Handle("/api/v1/reports/recent", methodHandler(map[string]http.Handler{
		http.MethodGet: queryLimiter(http.HandlerFunc(reportHandlers.QueryRecent)),
	}))
	mux.Handle("/api/v1/reports/user", methodHandler(map[string]http.Handler{
		http.MethodGet: authRequired(http.HandlerFunc(reportHandlers.QueryByReporter)),
	}))
	mux.Handle("/api/v1/reports/", methodHandler(map[string]http.Handler{
		http.MethodPatch: authRequired(http.HandlerFunc(reportHandlers.UpdateStatus)),
	}))

	mux.Handle("/api/v1/contacts", methodHandler(map[string]http.Handler{
		http.MethodPost: authRequired(http.HandlerFunc(contactHandlers.CreateContact)),
		http.MethodGet:  authRequired(http.HandlerFunc(contactHandlers.ListContacts)),
	}))
	mux.Handle("/api/v1/contacts/", methodHandler(map[string]http.Handler{
		http.MethodPut:    authRequired(http.HandlerFunc(contactHandlers.SetPrimary)),
		http.MethodDelete: authRequired(http.HandlerFunc(contactHandlers.DeleteContact)),
	}))

	mux.HandleFunc("/api/v1/monitor", monitorHandlers.Monitor)

	mux.HandleFunc("/health", healthHandlers.Health)
	mux.HandleFunc("/ready", healthHandlers.Ready)
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
			api.WriteError(w, ctx, http.StatusNotFound, api.ErrCodeNotFound, "The requested resource was not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"service":"vigil-api","version":"0.1.0"}`)); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})

	// Middleware chain, outermost first: request ID, tracing, metrics,
	// logging, CORS.
	handler := middleware.RequestID(
		middleware.Tracing("vigil-api")(
			middleware.HTTPMetrics(metrics)(
				middleware.Logging(logger)(
					middleware.CORS(corsConfig())(mux)))))

	// pprof endpoints are exposed outside production only.
	handler = middleware.Profiling(middleware.ProfilingConfig{
		Enabled:     cfg.Env == "development",
		Environment: cfg.Env,
	})(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Expired idempotency keys are purged in the background.
	cleanupStop := make(chan struct{})
	go idempotency.RunPeriodicCleanup(idempotencyRepo, time.Hour, idempotency.DefaultExpiry, cleanupStop, jobMetrics)

	go func() {
		logger.Info("starting server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	close(cleanupStop)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	if err := tracerProvider.Shutdown(ctx); err != nil {
		logger.Error("failed to shut down tracer provider", "error", err)
	}

	logger.Info("server stopped")
}

// methodHandler dispatches by HTTP method, returning 405 for anything
// unconfigured.
func methodHandler(handlers map[string]http.Handler) http.Handler {
	allowed := make([]string, 0, len(handlers))
	for method := range handlers {
		allowed = append(allowed, method)
	}
	allow := strings.Join(allowed, ", ")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h, ok := handlers[r.Method]; ok {
			h.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Allow", allow)
		ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeBadRequest)
		api.WriteError(w, ctx, http.StatusMethodNotAllowed, api.ErrCodeBadRequest, "Method not allowed")
	})
}

// corsConfig builds the CORS allowlist from CORS_ALLOWED_ORIGINS
// (comma-separated). With no origins configured CORS stays disabled.
func corsConfig() middleware.CORSConfig {
	var origins []string
	for _, o := range strings.Split(os.Getenv("CORS_ALLOWED_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return middleware.CORSConfig{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-ID", "Idempotency-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}
}

// redisChecker wraps the client in a health checker, or nil when Redis is
// not configured.
func redisChecker(client *redis.Client) api.HealthChecker {
	if client == nil {
		return nil
	}
	return health.NewRedisChecker(client)
}
