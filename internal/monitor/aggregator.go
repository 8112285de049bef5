package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/umarmf343/rankbeam/internal/metrics"
)

// EventType tags a streamed event.
type EventType string

const (
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
)

// Event is one line of the output stream.
type Event struct {
	Type         EventType
	RunID        string
	MonitoringID int64
	Result       *RankRecord
	Total        int
}

// MarshalJSON renders progress and complete events with their own field sets.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Type == EventComplete {
		return json.Marshal(struct {
			Type  EventType `json:"type"`
			RunID string    `json:"run_id,omitempty"`
			Total int       `json:"total"`
		}{e.Type, e.RunID, e.Total})
	}
	return json.Marshal(struct {
		Type         EventType   `json:"type"`
		RunID        string      `json:"run_id,omitempty"`
		MonitoringID int64       `json:"monitoring_id"`
		Result       *RankRecord `json:"result"`
	}{e.Type, e.RunID, e.MonitoringID, e.Result})
}

// Sink receives events in emission order. One aggregator never calls Publish
// concurrently, but a sink shared by several runs must be safe for concurrent use.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Publish(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Aggregator streams one record per request as soon as it is resolved.
type Aggregator struct {
	mu      sync.Mutex
	runID   string
	sinks   []Sink
	emitted map[int64]struct{}
	logger  *slog.Logger
	now     func() time.Time
}

// NewAggregator returns an aggregator publishing to sinks.
func NewAggregator(runID string, logger *slog.Logger, sinks ...Sink) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		runID:   runID,
		sinks:   sinks,
		emitted: make(map[int64]struct{}),
		logger:  logger,
		now:     time.Now,
	}
}

// Emit publishes a progress event. A request is emitted at most once; later
// attempts are dropped and reported as false.
func (a *Aggregator) Emit(ctx context.Context, requestID int64, rec RankRecord) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, dup := a.emitted[requestID]; dup {
		a.logger.Warn("duplicate record dropped", "monitoring_id", requestID)
		return false
	}
	a.emitted[requestID] = struct{}{}
	metrics.RecordsEmitted.WithLabelValues(outcome(rec)).Inc()

	a.publish(ctx, Event{Type: EventProgress, RunID: a.runID, MonitoringID: requestID, Result: &rec})
	return true
}

// Resolved reports whether a record was already emitted for requestID.
func (a *Aggregator) Resolved(requestID int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.emitted[requestID]
	return ok
}

// FinishMissing emits an error record for every request without one.
func (a *Aggregator) FinishMissing(ctx context.Context, requests []MonitoringRequest, err error) int {
	if err == nil {
		err = ErrNotResolved
	}
	missing := 0
	for _, req := range requests {
		if a.Resolved(req.ID) {
			continue
		}
		rec := errorRecord(req, err, "", a.now())
		if a.Emit(ctx, req.ID, rec) {
			missing++
		}
	}
	return missing
}

// Complete publishes the terminal event.
func (a *Aggregator) Complete(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.publish(ctx, Event{Type: EventComplete, RunID: a.runID, Total: len(a.emitted)})
}

func (a *Aggregator) publish(ctx context.Context, ev Event) {
	for _, sink := range a.sinks {
		// Terminal records are still published after ctx is cancelled.
		if err := sink.Publish(context.WithoutCancel(ctx), ev); err != nil {
			a.logger.Error("publish event failed", "type", ev.Type, "monitoring_id", ev.MonitoringID, "error", err)
		}
	}
}

func errorRecord(req MonitoringRequest, err error, address string, at time.Time) RankRecord {
	return RankRecord{
		Keyword:         req.Keyword,
		TargetASIN:      normalizeASIN(req.TargetASIN),
		Country:         req.Country,
		OrganicTop50:    []string{},
		SponsoredTop20:  []string{},
		DeliveryAddress: address,
		CheckedAt:       at,
		Error:           err.Error(),
	}
}

func outcome(rec RankRecord) string {
	switch {
	case rec.Error != "":
		return "error"
	case rec.Warning != "":
		return "warning"
	default:
		return "found"
	}
}
