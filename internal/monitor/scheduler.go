package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/umarmf343/rankbeam/internal/metrics"
)

// Options are the scheduling knobs of a monitoring run.
type Options struct {
	MaxPages               int
	MaxConcurrentCountries int
	NegotiationRounds      int
	OuterRounds            int
	PageInterval           time.Duration
	KeywordInterval        time.Duration
	Retry                  RetryPolicy
}

// DefaultOptions mirrors the defaults of the configuration file.
func DefaultOptions() Options {
	return Options{
		MaxPages:               5,
		MaxConcurrentCountries: 2,
		NegotiationRounds:      5,
		OuterRounds:            3,
		PageInterval:           2 * time.Second,
		KeywordInterval:        2 * time.Second,
		Retry:                  DefaultRetryPolicy(),
	}
}

func (o Options) normalized() Options {
	def := DefaultOptions()
	if o.MaxPages <= 0 {
		o.MaxPages = def.MaxPages
	}
	if o.MaxConcurrentCountries <= 0 {
		o.MaxConcurrentCountries = 1
	}
	if o.NegotiationRounds <= 0 {
		o.NegotiationRounds = def.NegotiationRounds
	}
	if o.OuterRounds <= 0 {
		o.OuterRounds = 1
	}
	if o.Retry.MaxRetries < 0 {
		o.Retry.MaxRetries = 0
	}
	return o
}

// Scheduler runs one session-bound worker per country with bounded concurrency.
type Scheduler struct {
	opts       Options
	lookup     MarketplaceLookup
	open       SessionFactory
	extractor  SlotExtractor
	negotiator *Negotiator
	agg        *Aggregator
	logger     *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewScheduler wires the collaborators of a monitoring run.
func NewScheduler(opts Options, lookup MarketplaceLookup, open SessionFactory, extractor SlotExtractor, agg *Aggregator, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		opts:       opts.normalized(),
		lookup:     lookup,
		open:       open,
		extractor:  extractor,
		negotiator: NewNegotiator(logger),
		agg:        agg,
		logger:     logger,
		sleep:      sleepWithContext,
		now:        time.Now,
	}
}

// Run processes every country of the batch and then emits the complete event.
// Every request receives exactly one record, including when ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, batch *Batch) error {
	sem := semaphore.NewWeighted(int64(s.opts.MaxConcurrentCountries))
	var g errgroup.Group

	var runErr error
	for _, cg := range batch.Countries {
		if err := sem.Acquire(ctx, 1); err != nil {
			runErr = err
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			s.runCountry(ctx, cg)
			return nil
		})
	}
	_ = g.Wait()

	reason := ErrNotResolved
	if err := ctx.Err(); err != nil {
		reason = fmt.Errorf("%w: %v", ErrNotResolved, err)
		runErr = err
	}
	if n := s.agg.FinishMissing(ctx, batch.Requests, reason); n > 0 {
		s.logger.Warn("requests closed without a search", "count", n)
	}
	s.agg.Complete(ctx)
	return runErr
}

func (s *Scheduler) runCountry(ctx context.Context, cg *CountryGroup) {
	log := s.logger.With("country", cg.Country)

	market, ok := s.lookup(cg.Country)
	if !ok {
		s.failCountry(ctx, cg, fmt.Errorf("%w: %s", ErrUnsupportedCountry, cg.Country), "")
		return
	}

	sess, err := s.open(ctx, market)
	if err != nil {
		log.Error("open session failed", "error", err)
		s.failCountry(ctx, cg, fmt.Errorf("%w: %v", ErrSessionOpen, err), "")
		return
	}
	metrics.ActiveCountries.Inc()
	defer func() {
		metrics.ActiveCountries.Dec()
		if err := sess.Close(); err != nil {
			log.Warn("close session failed", "error", err)
		}
	}()

	verified, address := false, ""
	for outer := 1; outer <= s.opts.OuterRounds && !verified; outer++ {
		ok, addr, err := s.negotiator.Negotiate(ctx, sess, market.Locale, s.opts.NegotiationRounds)
		if err != nil {
			s.failCountry(ctx, cg, err, addr)
			return
		}
		verified, address = ok, addr
		if !ok {
			log.Warn("location negotiation failed", "attempt", outer, "address", addr)
		}
	}
	if !verified {
		metrics.Negotiations.WithLabelValues(cg.Country, "failed").Inc()
		s.failCountry(ctx, cg, fmt.Errorf("%w (displayed %q)", ErrLocaleNotVerified, address), address)
		return
	}
	metrics.Negotiations.WithLabelValues(cg.Country, "verified").Inc()
	log.Info("location verified", "address", address, "queries", len(cg.Queries))

	pages := newPacer(s.opts.PageInterval)
	keywords := newPacer(s.opts.KeywordInterval)
	for _, qg := range cg.Queries {
		if err := keywords.Wait(ctx); err != nil {
			return
		}
		s.runQuery(ctx, sess, cg.Country, qg, address, pages)
	}
}

func (s *Scheduler) runQuery(ctx context.Context, sess Session, country string, qg *QueryGroup, address string, pages *rate.Limiter) {
	log := s.logger.With("country", country, "keyword", qg.Keyword)
	start := s.now()
	q := NewQuery(country, qg)

	for page := 1; page <= s.opts.MaxPages; page++ {
		if err := pages.Wait(ctx); err != nil {
			q.Fail(&PageError{Page: page, Err: err})
			break
		}
		sp, err := s.loadPage(ctx, sess, country, qg.Keyword, page)
		if err == nil && sp.Interstitial {
			err = ErrInterstitial
		}
		if err != nil {
			log.Warn("query aborted", "page", page, "kind", Classify(err), "error", err)
			q.Fail(&PageError{Page: page, Err: err})
			break
		}
		q.ResolvePage(sp, page)
		log.Debug("page resolved", "page", page, "slots", len(sp.Slots),
			"organic_position", q.Counters.OrganicPosition, "sponsored_position", q.Counters.SponsoredPosition)
		if q.Done() {
			log.Info("all targets resolved", "page", page)
			break
		}
	}

	s.enrich(ctx, sess, q, log)
	for _, res := range q.Records(s.opts.MaxPages, address, s.now()) {
		s.agg.Emit(ctx, res.RequestID, res.Record)
	}
	metrics.QueryDuration.WithLabelValues(country).Observe(s.now().Sub(start).Seconds())
}

// loadPage renders and extracts one page, retrying transient failures.
func (s *Scheduler) loadPage(ctx context.Context, sess Session, country, keyword string, page int) (*SearchPage, error) {
	var lastErr error
	for attempt := 0; attempt <= s.opts.Retry.MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.PageRetries.WithLabelValues(country).Inc()
			if err := s.sleep(ctx, s.opts.Retry.Backoff(attempt)); err != nil {
				return nil, err
			}
		}
		raw, err := sess.RenderSearchPage(ctx, keyword, page)
		if err == nil {
			metrics.PagesRendered.WithLabelValues(country).Inc()
			return s.extractor.ExtractSlots(raw)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !IsTransient(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %w", ErrRetriesExhausted, lastErr)
}

// enrich fetches detail data for targets that were not matched in-stream.
func (s *Scheduler) enrich(ctx context.Context, sess Session, q *Query, log *slog.Logger) {
	for _, asin := range q.NeedsDetail() {
		if ctx.Err() != nil {
			return
		}
		info, err := sess.FetchTargetDetail(ctx, asin)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Debug("detail fetch failed", "asin", asin, "error", err)
			}
			continue
		}
		q.SetProduct(asin, info)
	}
}

func (s *Scheduler) failCountry(ctx context.Context, cg *CountryGroup, err error, address string) {
	s.logger.Error("country failed", "country", cg.Country, "kind", Classify(err), "requests", len(cg.Requests), "error", err)
	at := s.now()
	for _, req := range cg.Requests {
		s.agg.Emit(ctx, req.ID, errorRecord(req, err, address, at))
	}
}

func newPacer(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}
