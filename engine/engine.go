// CLAUDE:SUMMARY Batch orchestrator: snapshot partition, price-only fast path, rate-limited detail fetch, analysis, and sold reconcile.
// Package engine runs the per-neighborhood analysis pass.
//
// One sequential worker: for each neighborhood batch the engine splits
// the search snapshot against the cache before issuing any external
// call, fast-paths price updates, fetches only genuinely new ids
// through the rate limiter, analyzes with the configured strategy,
// persists results, and reconciles vanished listings. Failures are
// counted per scope and never abort the run; only cancellation does.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/hazyhaar/denicheur/cache"
	"github.com/hazyhaar/denicheur/listing"
	"github.com/hazyhaar/denicheur/observability"
	"github.com/hazyhaar/denicheur/signals"
	"github.com/hazyhaar/denicheur/valuation"
)

// Sentinel errors for the external fetch boundary. Fetcher
// implementations wrap these so the engine can branch on them.
var (
	// ErrNotFound means the listing id no longer resolves upstream.
	ErrNotFound = errors.New("engine: listing not found")
	// ErrRateLimited is the upstream backoff signal. The engine stops
	// fetching for the current batch and leaves the remaining ids for
	// the next run.
	ErrRateLimited = errors.New("engine: rate limited")
	// ErrInvalidListing marks a detail payload too incomplete to cache
	// as a usable entry.
	ErrInvalidListing = errors.New("engine: invalid listing payload")
)

// Store is the cache surface the engine writes through. Satisfied by
// both the SQLite and Postgres backends.
type Store interface {
	Partition(ctx context.Context, snaps []cache.Snapshot, pol cache.Policy, now time.Time) (*cache.Partition, error)
	Get(ctx context.Context, id string) (*cache.Entry, error)
	UpsertDetail(ctx context.Context, l *listing.Listing, now time.Time) error
	MarkPriceOnly(ctx context.Context, id string, newPrice int64, pol cache.Policy, now time.Time) (bool, error)
	MarkFetchFailed(ctx context.Context, id string, now time.Time) error
	TouchSeen(ctx context.Context, ids []string, now time.Time) error
	SaveValuation(ctx context.Context, v *valuation.Valuation, now time.Time) error
	ReconcileSold(ctx context.Context, neighborhood string, currentIDs []string, staleWindow time.Duration, now time.Time) (int, error)
}

// Fetcher is the external detail-fetch collaborator. Implementations
// return ErrNotFound, ErrRateLimited or plain errors; the engine never
// sees transport details.
type Fetcher interface {
	FetchDetail(ctx context.Context, id string) (*listing.Listing, error)
}

// Batch is one neighborhood's input: the raw search snapshot (ids and
// asking prices) plus the comparable pool the scraping layer supplies.
type Batch struct {
	Neighborhood string
	Snapshot     []cache.Snapshot
	Pool         []listing.Listing
}

// Failure is one counted, scoped failure inside a run.
type Failure struct {
	Scope string // "listing:<id>" or "neighborhood:<name>"
	Err   error
	At    time.Time
}

// RunSummary accumulates what a run did. Nothing fails silently: every
// skip, update, fetch and failure lands in a counter or a Failure.
type RunSummary struct {
	StartedAt     time.Time
	FinishedAt    time.Time
	Neighborhoods int
	SkippedFresh  int
	PriceUpdated  int
	DetailFetched int
	Analyzed      int
	Undervalued   int
	FetchFailures int
	SoldMarked    int
	Failures      []Failure
}

func (s *RunSummary) fail(scope string, err error, at time.Time) {
	s.Failures = append(s.Failures, Failure{Scope: scope, Err: err, At: at})
}

// Engine orchestrates analysis runs.
type Engine struct {
	store       Store
	fetcher     Fetcher
	strategy    valuation.Strategy
	policy      cache.Policy
	staleWindow time.Duration
	limiter     *rate.Limiter
	metrics     *observability.MetricsManager
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithPolicy sets the freshness and drift policy.
func WithPolicy(p cache.Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithStaleWindow sets the sold-detection staleness window. Default: 3 days.
func WithStaleWindow(d time.Duration) Option {
	return func(e *Engine) { e.staleWindow = d }
}

// WithLimiter sets the detail-fetch rate limiter. Default: 1 req/s.
func WithLimiter(l *rate.Limiter) Option {
	return func(e *Engine) { e.limiter = l }
}

// WithMetrics attaches a metrics manager. Nil (the default) disables
// metric recording.
func WithMetrics(mm *observability.MetricsManager) Option {
	return func(e *Engine) { e.metrics = mm }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithNow overrides the clock (tests).
func WithNow(fn func() time.Time) Option {
	return func(e *Engine) { e.now = fn }
}

// New assembles an engine around a store, a fetcher and a valuation
// strategy.
func New(store Store, fetcher Fetcher, strategy valuation.Strategy, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		fetcher:     fetcher,
		strategy:    strategy,
		staleWindow: 3 * 24 * time.Hour,
		limiter:     rate.NewLimiter(rate.Every(time.Second), 1),
		logger:      slog.Default(),
		now:         time.Now,
	}
	e.policy.Defaults()
	for _, o := range opts {
		o(e)
	}
	return e
}

// Run processes the batches sequentially. Per-listing and
// per-neighborhood failures are recorded and skipped; only context
// cancellation aborts the run, and even then the summary covers
// everything completed so far with the cache left consistent.
func (e *Engine) Run(ctx context.Context, batches []Batch) (*RunSummary, error) {
	sum := &RunSummary{StartedAt: e.now()}
	defer func() { sum.FinishedAt = e.now() }()

	for _, b := range batches {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Neighborhoods++
		if err := e.runBatch(ctx, &b, sum); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return sum, err
			}
			sum.fail("neighborhood:"+b.Neighborhood, err, e.now())
			e.logger.Error("neighborhood pass failed",
				"neighborhood", b.Neighborhood, "error", err)
		}
	}
	return sum, nil
}

func (e *Engine) runBatch(ctx context.Context, b *Batch, sum *RunSummary) error {
	now := e.now()
	log := e.logger.With("neighborhood", b.Neighborhood)

	ids := make([]string, len(b.Snapshot))
	for i, sn := range b.Snapshot {
		ids[i] = sn.ID
	}
	if err := e.store.TouchSeen(ctx, ids, now); err != nil {
		return err
	}

	// The three-way split happens before any external call.
	part, err := e.store.Partition(ctx, b.Snapshot, e.policy, now)
	if err != nil {
		return err
	}
	sum.SkippedFresh += len(part.Skip)
	log.Info("snapshot partitioned",
		"skip", len(part.Skip), "update", len(part.Update), "fetch", len(part.Fetch))

	pool := b.Pool
	for _, sn := range part.Update {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.updateAndReanalyze(ctx, sn, pool, sum); err != nil {
			return err
		}
	}

	for i, id := range part.Fetch {
		if err := ctx.Err(); err != nil {
			return err
		}
		l, err := e.fetchOne(ctx, id, sum)
		if err != nil {
			if errors.Is(err, ErrRateLimited) {
				// Backoff directive: leave the remaining ids unseen for
				// the next run instead of hammering the source.
				sum.fail("neighborhood:"+b.Neighborhood, err, e.now())
				log.Warn("rate limited, abandoning remaining fetches",
					"remaining", len(part.Fetch)-i)
				break
			}
			return err
		}
		if l == nil {
			continue // counted as a fetch failure
		}
		pool = append(pool, *l)
		if err := e.analyzeAndPersist(ctx, l, pool, sum); err != nil {
			return err
		}
	}

	marked, err := e.store.ReconcileSold(ctx, b.Neighborhood, ids, e.staleWindow, e.now())
	if err != nil {
		return err
	}
	sum.SoldMarked += marked

	e.recordBatchMetrics(b.Neighborhood, part, marked)
	return nil
}

// updateAndReanalyze runs the price-only fast path for one stale or
// drifted entry and re-analyzes it from cached attributes. No detail
// fetch happens here.
func (e *Engine) updateAndReanalyze(ctx context.Context, sn cache.Snapshot, pool []listing.Listing, sum *RunSummary) error {
	now := e.now()
	changed, err := e.store.MarkPriceOnly(ctx, sn.ID, sn.Price, e.policy, now)
	if err != nil {
		return err
	}
	if changed {
		sum.PriceUpdated++
	}

	entry, err := e.store.Get(ctx, sn.ID)
	if err != nil {
		return err
	}
	if entry == nil || !entry.Complete() {
		return nil
	}
	return e.analyzeAndPersist(ctx, entry.Listing(), pool, sum)
}

// fetchOne pays for one detail fetch through the rate limiter. Fetch
// failures are recorded against the listing and cached as fetch_failed;
// they never abort the batch. A nil, nil return means "counted, move
// on". ErrRateLimited propagates so the caller can back off.
func (e *Engine) fetchOne(ctx context.Context, id string, sum *RunSummary) (*listing.Listing, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	l, err := e.fetcher.FetchDetail(ctx, id)
	if err == nil && !usableDetail(l) {
		err = fmt.Errorf("%w: %s", ErrInvalidListing, id)
	}
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			return nil, err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		now := e.now()
		sum.FetchFailures++
		sum.fail("listing:"+id, err, now)
		if markErr := e.store.MarkFetchFailed(ctx, id, now); markErr != nil {
			return nil, markErr
		}
		return nil, nil
	}

	sum.DetailFetched++
	// Descriptions often mention amenities the structured fields miss;
	// fold them in before the listing becomes a cached comparable.
	l.Amenities = signals.MergeAmenities(l.Amenities, l.Description)
	if err := e.store.UpsertDetail(ctx, l, e.now()); err != nil {
		return nil, err
	}
	return l, nil
}

// analyzeAndPersist values one subject against the pool and persists
// the result. Strategy errors are recorded, not fatal; nothing is
// persisted for a subject whose analysis did not complete.
func (e *Engine) analyzeAndPersist(ctx context.Context, subject *listing.Listing, pool []listing.Listing, sum *RunSummary) error {
	v, err := e.strategy.Analyze(ctx, subject, pool)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		sum.fail("listing:"+subject.ID, err, e.now())
		return nil
	}

	if err := e.store.SaveValuation(ctx, v, e.now()); err != nil {
		return err
	}
	sum.Analyzed++
	switch v.Classification {
	case valuation.Undervalued, valuation.ModeratelyUndervalued:
		sum.Undervalued++
		e.logger.Info("deal flagged",
			"listing_id", v.ListingID,
			"discount_percent", v.DiscountPercent,
			"confidence", v.Confidence,
			"method", v.Method,
			"classification", v.Classification)
	}
	return nil
}

func (e *Engine) recordBatchMetrics(neighborhood string, part *cache.Partition, soldMarked int) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordCount(observability.MetricSkippedFresh, float64(len(part.Skip)), neighborhood)
	e.metrics.RecordCount(observability.MetricPriceUpdated, float64(len(part.Update)), neighborhood)
	e.metrics.RecordCount(observability.MetricDetailFetched, float64(len(part.Fetch)), neighborhood)
	e.metrics.RecordCount(observability.MetricSoldMarked, float64(soldMarked), neighborhood)
}

// usableDetail is the completeness bar for a fetched payload: anything
// less is cached as fetch_failed and retried on a later run.
func usableDetail(l *listing.Listing) bool {
	return l != nil &&
		l.ID != "" &&
		l.Price > 0 &&
		l.Address != "" &&
		l.Bedrooms != nil &&
		l.Bathrooms != nil &&
		l.Sqft > 0
}
