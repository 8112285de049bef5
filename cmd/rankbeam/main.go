package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/umarmf343/rankbeam/internal/config"
	"github.com/umarmf343/rankbeam/internal/logging"
	"github.com/umarmf343/rankbeam/internal/metrics"
	"github.com/umarmf343/rankbeam/internal/monitor"
	"github.com/umarmf343/rankbeam/internal/report"
	"github.com/umarmf343/rankbeam/internal/runner"
	"github.com/umarmf343/rankbeam/internal/scraper"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "rankbeam:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", envOrDefault("RANKBEAM_CONFIG", ""), "path to a TOML configuration file")
	batch := flag.Bool("batch", false, "read a JSON array of monitoring requests from stdin")
	keyword := flag.String("keyword", "", "keyword to check (single request mode)")
	asin := flag.String("asin", "", "target ASIN (single request mode)")
	country := flag.String("country", "US", "marketplace code (single request mode): "+strings.Join(scraper.Countries(), ", "))
	maxPages := flag.Int("max-pages", 0, "result pages to scan per keyword (overrides config)")
	driver := flag.String("driver", "", "storefront driver: chrome or http (overrides config)")
	historyPath := flag.String("history", "", "SQLite rank history database (overrides config)")
	metricsAddr := flag.String("metrics-addr", "", "serve Prometheus metrics on this address")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *maxPages > 0 {
		cfg.Search.MaxPages = *maxPages
	}
	if *driver != "" {
		cfg.Driver.Kind = *driver
	}
	if *historyPath != "" {
		cfg.History.Path = *historyPath
	}
	if *metricsAddr != "" {
		cfg.Server.MetricsAddr = *metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, _ := config.ParseLevel(cfg.Log.Level)
	logger, closeLog, err := logging.New(os.Stderr, level, cfg.Log.File)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer closeLog.Close()

	requests, err := parseRequests(*batch, os.Stdin, *keyword, *asin, *country)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sinks, closeSinks, err := runner.SharedSinks(cfg, logger)
	if err != nil {
		return err
	}
	defer closeSinks()

	if cfg.Server.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: metrics.Handler(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer srv.Close()
	}

	r := runner.New(cfg.MonitorOptions(), cfg.SessionFactory(logger), logger, sinks...)
	_, err = r.Run(ctx, requests, report.NewNDJSON(os.Stdout))
	return err
}

func parseRequests(batch bool, stdin io.Reader, keyword, asin, country string) ([]monitor.MonitoringRequest, error) {
	if batch {
		var requests []monitor.MonitoringRequest
		if err := json.NewDecoder(stdin).Decode(&requests); err != nil {
			return nil, fmt.Errorf("decode requests: %w", err)
		}
		if len(requests) == 0 {
			return nil, errors.New("no monitoring requests on stdin")
		}
		if err := monitor.ValidateRequests(requests); err != nil {
			return nil, err
		}
		return requests, nil
	}
	keyword = strings.TrimSpace(keyword)
	asin = strings.TrimSpace(asin)
	if keyword == "" || asin == "" {
		return nil, errors.New("either --batch or both --keyword and --asin are required")
	}
	return []monitor.MonitoringRequest{{ID: 1, Keyword: keyword, TargetASIN: asin, Country: country}}, nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
