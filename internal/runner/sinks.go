package runner

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/umarmf343/rankbeam/internal/config"
	"github.com/umarmf343/rankbeam/internal/history"
	"github.com/umarmf343/rankbeam/internal/monitor"
	"github.com/umarmf343/rankbeam/internal/report"
)

// SharedSinks opens the history store and broker publisher the configuration
// enables. The returned func closes whatever was opened.
func SharedSinks(cfg *config.Config, logger *slog.Logger) ([]monitor.Sink, func(), error) {
	var (
		sinks   []monitor.Sink
		closers []io.Closer
	)
	closeAll := func() {
		for _, c := range closers {
			c.Close()
		}
	}
	if cfg.History.Path != "" {
		store, err := history.Open(cfg.History.Path, cfg.History.Notify, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open history: %w", err)
		}
		sinks = append(sinks, store)
		closers = append(closers, store)
	}
	if cfg.AMQP.URL != "" {
		pub, err := report.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Prefix)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		sinks = append(sinks, pub)
		closers = append(closers, pub)
	}
	return sinks, closeAll, nil
}
