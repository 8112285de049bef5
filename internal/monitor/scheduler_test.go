package monitor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type harness struct {
	mu       sync.Mutex
	sessions map[string]*fakeSession
	setup    func(country string, s *fakeSession)
	pages    map[string]*SearchPage
	sink     *memorySink
	opened   atomic.Int32
	active   atomic.Int32
	peak     atomic.Int32
}

func newHarness() *harness {
	return &harness{
		sessions: map[string]*fakeSession{},
		pages:    map[string]*SearchPage{},
		sink:     &memorySink{},
	}
}

func (h *harness) factory(ctx context.Context, m Marketplace) (Session, error) {
	h.opened.Add(1)
	sess := &fakeSession{country: m.Code, address: "Deliver to " + m.Locale.Keywords[0]}
	sess.onRender = func() {
		n := h.active.Load()
		for {
			p := h.peak.Load()
			if n <= p || h.peak.CompareAndSwap(p, n) {
				break
			}
		}
	}
	if h.setup != nil {
		h.setup(m.Code, sess)
	}
	h.mu.Lock()
	h.sessions[m.Code] = sess
	h.mu.Unlock()
	h.active.Add(1)
	return &trackedSession{fakeSession: sess, active: &h.active}, nil
}

type trackedSession struct {
	*fakeSession
	active *atomic.Int32
}

func (t *trackedSession) Close() error {
	t.active.Add(-1)
	return t.fakeSession.Close()
}

func (h *harness) run(t *testing.T, opts Options, reqs []MonitoringRequest) map[int64]RankRecord {
	t.Helper()
	agg := NewAggregator("run-1", discardLogger(), h.sink)
	s := NewScheduler(opts, testLookup, h.factory, fakeExtractor{pages: h.pages}, agg, discardLogger())
	s.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	if err := s.Run(context.Background(), Group(reqs, nil)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	last := h.sink.events[len(h.sink.events)-1]
	if last.Type != EventComplete || last.Total != len(reqs) {
		t.Fatalf("last event = %+v, want complete with total %d", last, len(reqs))
	}
	return h.sink.records()
}

func testOptions() Options {
	return Options{
		MaxPages:               3,
		MaxConcurrentCountries: 2,
		NegotiationRounds:      2,
		OuterRounds:            3,
		Retry:                  RetryPolicy{MaxRetries: 2, Base: time.Millisecond, Max: time.Millisecond},
	}
}

func TestRunSharesOneSearchPerKeyword(t *testing.T) {
	h := newHarness()
	h.pages[pageKey("US", "yoga mat", 1)] = &SearchPage{Slots: []SlotDescriptor{organic("B000000001", 0), organic("B000000002", 1)}}

	records := h.run(t, testOptions(), []MonitoringRequest{
		{ID: 1, Keyword: "yoga mat", TargetASIN: "B000000001", Country: "US"},
		{ID: 2, Keyword: "Yoga Mat", TargetASIN: "B000000002", Country: "US"},
	})

	sess := h.sessions["US"]
	for page := 1; page <= 3; page++ {
		if n := sess.renderCount(pageKey("US", "yoga mat", page)); n != 1 {
			t.Fatalf("page %d rendered %d times, want 1", page, n)
		}
	}
	if records[1].OrganicRank != 1 || records[2].OrganicRank != 2 {
		t.Fatalf("ranks = %d, %d", records[1].OrganicRank, records[2].OrganicRank)
	}
	if records[1].Warning != "" || records[1].DeliveryAddress != "Deliver to New York" {
		t.Fatalf("record = %+v", records[1])
	}
	if !sess.closed {
		t.Fatalf("session not closed")
	}
}

func TestRunStopsEarlyWhenAllTargetsResolved(t *testing.T) {
	h := newHarness()
	h.pages[pageKey("US", "yoga mat", 1)] = &SearchPage{Slots: []SlotDescriptor{organic("B000000001", 0), inline("B000000001", 1)}}

	opts := testOptions()
	opts.MaxPages = 5
	records := h.run(t, opts, []MonitoringRequest{{ID: 1, Keyword: "yoga mat", TargetASIN: "B000000001", Country: "US"}})

	if n := h.sessions["US"].renderCount("US|"); n != 1 {
		t.Fatalf("rendered %d pages, want 1", n)
	}
	if rec := records[1]; rec.OrganicRank != 1 || rec.SponsoredRank != 1 {
		t.Fatalf("record = %+v", rec)
	}
}

func TestRunFailedNegotiationErrorsWholeCountry(t *testing.T) {
	h := newHarness()
	h.setup = func(country string, s *fakeSession) {
		if country == "DE" {
			s.address = "Deliver to Ireland"
			s.afterSubmit = "Deliver to Ireland"
		}
	}

	records := h.run(t, testOptions(), []MonitoringRequest{
		{ID: 1, Keyword: "yoga mat", TargetASIN: "B000000001", Country: "DE"},
		{ID: 2, Keyword: "tea", TargetASIN: "B000000002", Country: "DE"},
		{ID: 3, Keyword: "tea", TargetASIN: "B000000002", Country: "US"},
	})

	de := h.sessions["DE"]
	if n := de.renderCount(""); n != 0 {
		t.Fatalf("DE rendered %d pages after failed negotiation", n)
	}
	if len(de.submits) != 6 {
		t.Fatalf("DE submits = %d, want 3 outer x 2 rounds", len(de.submits))
	}
	for _, id := range []int64{1, 2} {
		if !strings.Contains(records[id].Error, "could not be verified") {
			t.Fatalf("record %d error = %q", id, records[id].Error)
		}
	}
	if records[3].Error != "" {
		t.Fatalf("US request affected by DE failure: %q", records[3].Error)
	}
}

func TestRunInterstitialAbortsOnlyItsQuery(t *testing.T) {
	h := newHarness()
	h.pages[pageKey("US", "yoga mat", 1)] = &SearchPage{Slots: []SlotDescriptor{organic("B000000001", 0)}}
	h.pages[pageKey("US", "yoga mat", 2)] = &SearchPage{Interstitial: true}
	h.pages[pageKey("US", "tea", 1)] = &SearchPage{Slots: []SlotDescriptor{organic("B000000002", 0)}}

	records := h.run(t, testOptions(), []MonitoringRequest{
		{ID: 1, Keyword: "yoga mat", TargetASIN: "B000000001", Country: "US"},
		{ID: 2, Keyword: "tea", TargetASIN: "B000000002", Country: "US"},
	})

	sess := h.sessions["US"]
	if n := sess.renderCount(pageKey("US", "yoga mat", 3)); n != 0 {
		t.Fatalf("page 3 rendered after interstitial")
	}
	if rec := records[1]; !strings.Contains(rec.Error, "interstitial") || rec.OrganicRank != 1 {
		t.Fatalf("yoga record = %+v", rec)
	}
	if rec := records[2]; rec.Error != "" || rec.OrganicRank != 1 {
		t.Fatalf("tea record = %+v", rec)
	}
}

func TestRunRetriesTransientFailures(t *testing.T) {
	h := newHarness()
	h.pages[pageKey("US", "yoga mat", 1)] = &SearchPage{Slots: []SlotDescriptor{organic("B000000001", 0)}}
	h.setup = func(country string, s *fakeSession) {
		s.failures = map[string][]error{
			pageKey("US", "yoga mat", 1): {ErrRateLimited, ErrTransient},
			pageKey("US", "tea", 1):      {ErrRateLimited, ErrRateLimited, ErrRateLimited},
		}
	}

	records := h.run(t, testOptions(), []MonitoringRequest{
		{ID: 1, Keyword: "yoga mat", TargetASIN: "B000000001", Country: "US"},
		{ID: 2, Keyword: "tea", TargetASIN: "B000000002", Country: "US"},
	})

	if rec := records[1]; rec.Error != "" || rec.OrganicRank != 1 {
		t.Fatalf("retried record = %+v", rec)
	}
	if rec := records[2]; !strings.Contains(rec.Error, "retries exhausted") {
		t.Fatalf("exhausted record error = %q", rec.Error)
	}
	if n := h.sessions["US"].renderCount(pageKey("US", "tea", 1)); n != 3 {
		t.Fatalf("tea page 1 attempts = %d, want 3", n)
	}
}

func TestRunUnsupportedCountryAndEnrichment(t *testing.T) {
	h := newHarness()
	h.setup = func(country string, s *fakeSession) {
		s.details = map[string]*ProductInfo{"B000000001": {ASIN: "B000000001", Title: "Mat"}}
	}

	records := h.run(t, testOptions(), []MonitoringRequest{
		{ID: 1, Keyword: "yoga mat", TargetASIN: "B000000001", Country: "US"},
		{ID: 2, Keyword: "yoga mat", TargetASIN: "B000000002", Country: "ZZ"},
	})

	if rec := records[1]; rec.Warning != "not found in top 3 pages" || rec.ProductInfo == nil || rec.ProductInfo.Title != "Mat" {
		t.Fatalf("US record = %+v", rec)
	}
	if rec := records[2]; !strings.Contains(rec.Error, "unsupported marketplace: ZZ") {
		t.Fatalf("ZZ record error = %q", rec.Error)
	}
	if h.opened.Load() != 1 {
		t.Fatalf("sessions opened = %d, want 1", h.opened.Load())
	}
}

func TestRunBoundsConcurrentCountries(t *testing.T) {
	h := newHarness()
	opts := testOptions()
	opts.MaxConcurrentCountries = 1

	records := h.run(t, opts, []MonitoringRequest{
		{ID: 1, Keyword: "yoga mat", TargetASIN: "B000000001", Country: "US"},
		{ID: 2, Keyword: "yoga mat", TargetASIN: "B000000001", Country: "DE"},
		{ID: 3, Keyword: "yoga mat", TargetASIN: "B000000001", Country: "FR"},
	})

	if h.peak.Load() != 1 {
		t.Fatalf("peak concurrent sessions = %d, want 1", h.peak.Load())
	}
	if len(records) != 3 {
		t.Fatalf("records = %d, want 3", len(records))
	}
}

func TestRunCancelledStillResolvesEveryRequest(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	agg := NewAggregator("run-1", discardLogger(), h.sink)
	s := NewScheduler(testOptions(), testLookup, h.factory, fakeExtractor{pages: h.pages}, agg, discardLogger())
	err := s.Run(ctx, Group([]MonitoringRequest{
		{ID: 1, Keyword: "yoga mat", TargetASIN: "B000000001", Country: "us"},
		{ID: 2, Keyword: "tea", TargetASIN: "B000000002", Country: " de"},
	}, nil))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run err = %v, want context.Canceled", err)
	}
	records := h.sink.records()
	if len(records) != 2 || records[1].Error == "" || records[2].Error == "" {
		t.Fatalf("records = %+v", records)
	}
	if records[1].Country != "US" || records[2].Country != "DE" {
		t.Fatalf("countries = %q %q, want canonical US DE", records[1].Country, records[2].Country)
	}
}
