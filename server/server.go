package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/umarmf343/rankbeam/internal/config"
	"github.com/umarmf343/rankbeam/internal/logging"
	"github.com/umarmf343/rankbeam/internal/metrics"
	"github.com/umarmf343/rankbeam/internal/runner"
)

func main() {
	defaultConfig := envOrDefault("RANKBEAM_CONFIG", "")
	defaultToken := os.Getenv("RANKBEAM_API_TOKEN")
	defaultMaxRequests, _ := strconv.Atoi(envOrDefault("RANKBEAM_MAX_REQUESTS", "500"))

	configPath := flag.String("config", defaultConfig, "path to a TOML configuration file")
	addr := flag.String("addr", "", "HTTP bind address (overrides config)")
	token := flag.String("token", defaultToken, "shared API token required in X-API-Token")
	maxRequests := flag.Int("max-requests", defaultMaxRequests, "maximum monitoring requests per call")
	maxRuns := flag.Int("max-runs", 1, "monitoring runs allowed at the same time")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	level, _ := config.ParseLevel(cfg.Log.Level)
	logger, closeLog, err := logging.New(os.Stderr, level, cfg.Log.File)
	if err != nil {
		slog.Error("open log file", "error", err)
		os.Exit(1)
	}
	defer closeLog.Close()

	sinks, closeSinks, err := runner.SharedSinks(cfg, logger)
	if err != nil {
		logger.Error("open sinks", "error", err)
		os.Exit(1)
	}
	defer closeSinks()

	r := runner.New(cfg.MonitorOptions(), cfg.SessionFactory(logger), logger, sinks...)
	handler := NewRankingsHandler(r, *token, *maxRequests, *maxRuns, logger)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           loggingMiddleware(logger, newMux(handler)),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Streams last as long as a run; no write timeout.
		IdleTimeout: 60 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-shutdown
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("graceful shutdown error", "error", err)
		}
	}()

	logger.Info("rankbeam server listening", "addr", cfg.Server.Addr, "driver", cfg.Driver.Kind)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
	}
}

func newMux(handler *RankingsHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/rankings/check", handler.Check)
	mux.HandleFunc("/api/v1/countries", handler.Countries)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &logResponseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(lrw, r)
		logger.Info("http request", "method", r.Method, "path", r.URL.Path, "status", lrw.status, "duration", time.Since(start))
	})
}

type logResponseWriter struct {
	http.ResponseWriter
	status int
}

func (l *logResponseWriter) WriteHeader(statusCode int) {
	l.status = statusCode
	l.ResponseWriter.WriteHeader(statusCode)
}

func (l *logResponseWriter) Flush() {
	if f, ok := l.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
