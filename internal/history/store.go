// Package history keeps a SQLite log of rank checks and reports how ranks
// moved since the previous successful check.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/umarmf343/rankbeam/internal/metrics"
	"github.com/umarmf343/rankbeam/internal/monitor"
)

// ErrNotFound is returned when no successful check has been stored yet.
var ErrNotFound = errors.New("history: not found")

// Entry is one stored rank check.
type Entry struct {
	RunID         string
	Keyword       string
	ASIN          string
	Country       string
	OrganicRank   int
	SponsoredRank int
	SponsoredType string
	Address       string
	Error         string
	CheckedAt     time.Time
}

// Store persists rank checks and classifies changes against the last one.
// It is safe for concurrent use by several runs.
type Store struct {
	// mu makes the lookup of the previous check and the insert one step.
	mu     sync.Mutex
	db     *sql.DB
	policy NotifyPolicy
	logger *slog.Logger
}

// Open creates or opens the database at path.
func Open(path string, policy NotifyPolicy, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	store := &Store{db: db, policy: policy, logger: logger}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS rank_checks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    keyword TEXT NOT NULL,
    keyword_key TEXT NOT NULL,
    asin TEXT NOT NULL,
    country TEXT NOT NULL,
    organic_rank INTEGER NOT NULL DEFAULT 0,
    sponsored_rank INTEGER NOT NULL DEFAULT 0,
    sponsored_type TEXT NOT NULL DEFAULT '',
    address TEXT NOT NULL DEFAULT '',
    error TEXT NOT NULL DEFAULT '',
    checked_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS rank_checks_lookup ON rank_checks(keyword_key, asin, country, id);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Last returns the most recent check of a keyword, ASIN and country that
// completed without an error.
func (s *Store) Last(ctx context.Context, keyword, asin, country string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT run_id, keyword, asin, country, organic_rank, sponsored_rank, sponsored_type, address, error, checked_at
FROM rank_checks
WHERE keyword_key = ? AND asin = ? AND country = ? AND error = ''
ORDER BY id DESC LIMIT 1`,
		monitor.NormalizeKeyword(keyword), asin, country,
	)
	e := &Entry{}
	err := row.Scan(&e.RunID, &e.Keyword, &e.ASIN, &e.Country, &e.OrganicRank, &e.SponsoredRank,
		&e.SponsoredType, &e.Address, &e.Error, &e.CheckedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

// Record stores rec and returns the changes against the previous successful
// check. Failed checks are stored but never compared.
func (s *Store) Record(ctx context.Context, runID string, rec monitor.RankRecord) ([]Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changes []Change
	if rec.Error == "" {
		prev, err := s.Last(ctx, rec.Keyword, rec.TargetASIN, rec.Country)
		switch {
		case err == nil:
			changes = compareEntry(prev, rec)
		case !errors.Is(err, ErrNotFound):
			return nil, err
		}
	}

	checkedAt := rec.CheckedAt
	if checkedAt.IsZero() {
		checkedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO rank_checks(run_id, keyword, keyword_key, asin, country, organic_rank, sponsored_rank, sponsored_type, address, error, checked_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, rec.Keyword, monitor.NormalizeKeyword(rec.Keyword), rec.TargetASIN, rec.Country,
		rec.OrganicRank, rec.SponsoredRank, string(rec.SponsoredType), rec.DeliveryAddress, rec.Error, checkedAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert rank check: %w", err)
	}
	return changes, nil
}

func compareEntry(prev *Entry, rec monitor.RankRecord) []Change {
	var out []Change
	if c, ok := CompareRanks(prev.OrganicRank, rec.OrganicRank); ok {
		c.Kind = "organic"
		out = append(out, c)
	}
	if c, ok := CompareRanks(prev.SponsoredRank, rec.SponsoredRank); ok {
		c.Kind = "sponsored"
		out = append(out, c)
	}
	return out
}

// Publish implements monitor.Sink. Progress records are stored and notable
// changes are logged.
func (s *Store) Publish(ctx context.Context, ev monitor.Event) error {
	if ev.Type != monitor.EventProgress || ev.Result == nil {
		return nil
	}
	changes, err := s.Record(ctx, ev.RunID, *ev.Result)
	if err != nil {
		return err
	}
	for _, c := range changes {
		metrics.RankChanges.WithLabelValues(string(c.Type)).Inc()
		if !s.policy.ShouldNotify(c) {
			continue
		}
		s.logger.Info("rank change",
			"keyword", ev.Result.Keyword,
			"asin", ev.Result.TargetASIN,
			"country", ev.Result.Country,
			"kind", c.Kind,
			"type", c.Type,
			"old", c.Old,
			"new", c.New,
		)
	}
	return nil
}
