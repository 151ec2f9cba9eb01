package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"golang.org/x/time/rate"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/denicheur/cache"
	"github.com/hazyhaar/denicheur/dbopen"
	"github.com/hazyhaar/denicheur/listing"
	"github.com/hazyhaar/denicheur/valuation"
)

// fakeFetcher serves canned listings and records every call.
type fakeFetcher struct {
	listings map[string]*listing.Listing
	errs     map[string]error
	calls    []string
}

func (f *fakeFetcher) FetchDetail(_ context.Context, id string) (*listing.Listing, error) {
	f.calls = append(f.calls, id)
	if err, ok := f.errs[id]; ok {
		return nil, err
	}
	l, ok := f.listings[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return l, nil
}

func testEngine(t *testing.T, f *fakeFetcher, opts ...Option) (*Engine, *cache.Store) {
	t.Helper()
	store := cache.New(dbopen.OpenMemory(t, dbopen.WithSchema(cache.Schema)))
	strategy := valuation.NewRulesBased(nil, valuation.Thresholds{}, testLogger())
	opts = append([]Option{
		WithLimiter(rate.NewLimiter(rate.Inf, 1)),
		WithLogger(testLogger()),
	}, opts...)
	return New(store, f, strategy, opts...), store
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func detailListing(id, neighborhood string, price int64) *listing.Listing {
	return &listing.Listing{
		ID:           id,
		Price:        price,
		Bedrooms:     listing.IntPtr(2),
		Bathrooms:    listing.FloatPtr(1),
		Sqft:         900,
		Address:      "10 Test Ave",
		Neighborhood: neighborhood,
	}
}

// pool of bed-bath comparables around the given price.
func comparablePool(n int, median int64) []listing.Listing {
	pool := make([]listing.Listing, n)
	for i := range pool {
		pool[i] = listing.Listing{
			ID:        fmt.Sprintf("pool-%d", i),
			Price:     median,
			Bedrooms:  listing.IntPtr(2),
			Bathrooms: listing.FloatPtr(1),
		}
	}
	return pool
}

// WHAT: a new id flows fetch -> cache -> analysis -> persisted result,
// and the summary counts every step.
// WHY: this is the whole pipeline for a first sighting.
func TestRunNewListing(t *testing.T) {
	f := &fakeFetcher{listings: map[string]*listing.Listing{
		"new-1": detailListing("new-1", "park slope", 800_000),
	}}
	e, store := testEngine(t, f)

	sum, err := e.Run(context.Background(), []Batch{{
		Neighborhood: "park slope",
		Snapshot:     []cache.Snapshot{{ID: "new-1", Price: 800_000}},
		Pool:         comparablePool(10, 1_000_000),
	}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if sum.DetailFetched != 1 || sum.Analyzed != 1 || sum.Undervalued != 1 {
		t.Errorf("summary = %+v, want 1 fetched/analyzed/undervalued", sum)
	}
	if len(sum.Failures) != 0 {
		t.Errorf("failures = %v, want none", sum.Failures)
	}

	e2, err := store.Get(context.Background(), "new-1")
	if err != nil {
		t.Fatal(err)
	}
	if e2 == nil || e2.MarketStatus != string(valuation.Undervalued) {
		t.Errorf("cache status = %+v, want undervalued", e2)
	}
	deals, err := store.TopDeals(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(deals) != 1 || deals[0].DiscountPercent != 20 {
		t.Errorf("deals = %+v, want one with 20%% discount", deals)
	}
}

// WHAT: a fresh cached entry is skipped with zero fetcher calls.
// WHY: the partition must gate external spend before any call is made.
func TestRunSkipsFreshEntries(t *testing.T) {
	f := &fakeFetcher{}
	e, store := testEngine(t, f)
	ctx := context.Background()
	now := time.Now()

	if err := store.UpsertDetail(ctx, detailListing("seen-1", "soho", 1_000_000), now); err != nil {
		t.Fatal(err)
	}

	sum, err := e.Run(ctx, []Batch{{
		Neighborhood: "soho",
		Snapshot:     []cache.Snapshot{{ID: "seen-1", Price: 1_000_000}},
	}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.SkippedFresh != 1 {
		t.Errorf("skipped = %d, want 1", sum.SkippedFresh)
	}
	if len(f.calls) != 0 {
		t.Errorf("fetcher calls = %v, want none", f.calls)
	}
}

// WHAT: a drifted price takes the fast path — price updated and
// re-analyzed from cached attributes, still no fetch.
// WHY: price drift must never cost a detail fetch.
func TestRunPriceDriftFastPath(t *testing.T) {
	f := &fakeFetcher{}
	e, store := testEngine(t, f)
	ctx := context.Background()
	now := time.Now()

	if err := store.UpsertDetail(ctx, detailListing("drift-1", "soho", 1_000_000), now); err != nil {
		t.Fatal(err)
	}

	sum, err := e.Run(ctx, []Batch{{
		Neighborhood: "soho",
		Snapshot:     []cache.Snapshot{{ID: "drift-1", Price: 800_000}},
		Pool:         comparablePool(10, 1_000_000),
	}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.PriceUpdated != 1 || sum.Analyzed != 1 {
		t.Errorf("summary = %+v, want 1 price update and 1 analysis", sum)
	}
	if len(f.calls) != 0 {
		t.Errorf("fetcher calls = %v, want none", f.calls)
	}

	e2, _ := store.Get(ctx, "drift-1")
	if e2.Price != 800_000 {
		t.Errorf("cached price = %d, want 800000", e2.Price)
	}
	if e2.MarketStatus != string(valuation.Undervalued) {
		t.Errorf("status = %q, want undervalued after re-analysis", e2.MarketStatus)
	}
}

// WHAT: a failed detail fetch is cached as fetch_failed, counted, and
// the rest of the batch still completes.
// WHY: one broken listing must never abort a run.
func TestRunFetchFailureIsCountedNotFatal(t *testing.T) {
	f := &fakeFetcher{
		listings: map[string]*listing.Listing{
			"good-1": detailListing("good-1", "soho", 800_000),
		},
		errs: map[string]error{"bad-1": errors.New("connection reset")},
	}
	e, store := testEngine(t, f)

	sum, err := e.Run(context.Background(), []Batch{{
		Neighborhood: "soho",
		Snapshot: []cache.Snapshot{
			{ID: "bad-1", Price: 500_000},
			{ID: "good-1", Price: 800_000},
		},
		Pool: comparablePool(10, 1_000_000),
	}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.FetchFailures != 1 || sum.Analyzed != 1 {
		t.Errorf("summary = %+v, want 1 failure and 1 analysis", sum)
	}
	if len(sum.Failures) != 1 || sum.Failures[0].Scope != "listing:bad-1" {
		t.Errorf("failures = %+v, want scope listing:bad-1", sum.Failures)
	}

	e2, _ := store.Get(context.Background(), "bad-1")
	if e2 == nil || e2.MarketStatus != cache.StatusFetchFailed {
		t.Errorf("bad-1 entry = %+v, want fetch_failed", e2)
	}
}

// WHAT: an incomplete detail payload counts as a fetch failure.
// WHY: malformed upstream data must not enter the cache as complete.
func TestRunInvalidPayloadIsFetchFailure(t *testing.T) {
	partial := detailListing("partial-1", "soho", 700_000)
	partial.Bedrooms = nil
	f := &fakeFetcher{listings: map[string]*listing.Listing{"partial-1": partial}}
	e, store := testEngine(t, f)

	sum, err := e.Run(context.Background(), []Batch{{
		Neighborhood: "soho",
		Snapshot:     []cache.Snapshot{{ID: "partial-1", Price: 700_000}},
	}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.FetchFailures != 1 {
		t.Errorf("fetch failures = %d, want 1", sum.FetchFailures)
	}
	e2, _ := store.Get(context.Background(), "partial-1")
	if e2 == nil || e2.MarketStatus != cache.StatusFetchFailed {
		t.Errorf("entry = %+v, want fetch_failed", e2)
	}
}

// WHAT: a rate-limit signal abandons the batch's remaining fetches but
// the run continues: failure recorded, reconcile still runs, and the
// next batch is processed.
// WHY: rate limiting is a backoff directive, not a fatal error.
func TestRunRateLimitedBacksOff(t *testing.T) {
	f := &fakeFetcher{
		listings: map[string]*listing.Listing{
			"other-1": detailListing("other-1", "chelsea", 900_000),
		},
		errs: map[string]error{"rl-1": ErrRateLimited},
	}
	e, _ := testEngine(t, f)

	sum, err := e.Run(context.Background(), []Batch{
		{
			Neighborhood: "soho",
			Snapshot: []cache.Snapshot{
				{ID: "rl-1", Price: 500_000},
				{ID: "rl-2", Price: 600_000},
			},
		},
		{
			Neighborhood: "chelsea",
			Snapshot:     []cache.Snapshot{{ID: "other-1", Price: 900_000}},
			Pool:         comparablePool(10, 1_000_000),
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// rl-2 was never attempted.
	for _, c := range f.calls {
		if c == "rl-2" {
			t.Error("fetched rl-2 after rate limit signal")
		}
	}
	if sum.DetailFetched != 1 {
		t.Errorf("fetched = %d, want 1 (second batch)", sum.DetailFetched)
	}
	found := false
	for _, fl := range sum.Failures {
		if fl.Scope == "neighborhood:soho" && errors.Is(fl.Err, ErrRateLimited) {
			found = true
		}
	}
	if !found {
		t.Errorf("failures = %+v, want rate-limit record for soho", sum.Failures)
	}
}

// WHAT: sold reconcile runs per batch and its count lands in the summary.
// WHY: the detector is part of every neighborhood pass.
func TestRunMarksSold(t *testing.T) {
	f := &fakeFetcher{}
	e, store := testEngine(t, f)
	ctx := context.Background()

	old := time.Now().Add(-5 * 24 * time.Hour)
	if err := store.UpsertDetail(ctx, detailListing("gone-1", "soho", 900_000), old); err != nil {
		t.Fatal(err)
	}

	sum, err := e.Run(ctx, []Batch{{Neighborhood: "soho"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.SoldMarked != 1 {
		t.Errorf("sold marked = %d, want 1", sum.SoldMarked)
	}
	e2, _ := store.Get(ctx, "gone-1")
	if e2.MarketStatus != cache.StatusLikelySold {
		t.Errorf("status = %q, want likely_sold", e2.MarketStatus)
	}
}

// WHAT: cancellation stops the run with the summary so far; listings
// whose analysis never completed have no persisted valuation.
// WHY: a partial run must leave the cache consistent.
func TestRunCancellation(t *testing.T) {
	f := &fakeFetcher{}
	e, store := testEngine(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := e.Run(ctx, []Batch{{
		Neighborhood: "soho",
		Snapshot:     []cache.Snapshot{{ID: "x-1", Price: 500_000}},
	}})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if sum == nil {
		t.Fatal("summary must still be returned")
	}

	var count int
	if err := store.DB.QueryRow(`SELECT COUNT(*) FROM valuations`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("valuations persisted = %d, want 0", count)
	}
}

// WHAT: amenity phrases in a fetched description are mined into the
// cached amenity tags alongside the structured ones.
// WHY: scraped listings frequently omit structured amenity data.
func TestRunMinesDescriptionAmenities(t *testing.T) {
	l := detailListing("amen-1", "soho", 800_000)
	l.Amenities = []string{"elevator"}
	l.Description = "Sunny two bedroom with in-unit laundry and a roof deck."
	f := &fakeFetcher{listings: map[string]*listing.Listing{"amen-1": l}}
	e, store := testEngine(t, f)

	if _, err := e.Run(context.Background(), []Batch{{
		Neighborhood: "soho",
		Snapshot:     []cache.Snapshot{{ID: "amen-1", Price: 800_000}},
		Pool:         comparablePool(10, 1_000_000),
	}}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	entry, err := store.Get(context.Background(), "amen-1")
	if err != nil {
		t.Fatal(err)
	}
	got := make(map[string]bool, len(entry.Amenities))
	for _, a := range entry.Amenities {
		got[a] = true
	}
	for _, want := range []string{"elevator", "washer_dryer", "roof_deck"} {
		if !got[want] {
			t.Errorf("amenities = %v, missing %q", entry.Amenities, want)
		}
	}
}

// WHAT: a strategy whose subject lacks enough peers yields an
// insufficient_data result, persisted, not a failure.
// WHY: too few comparables is a recoverable outcome, not an error.
func TestRunInsufficientComparables(t *testing.T) {
	f := &fakeFetcher{listings: map[string]*listing.Listing{
		"lonely-1": detailListing("lonely-1", "red hook", 600_000),
	}}
	e, store := testEngine(t, f)

	sum, err := e.Run(context.Background(), []Batch{{
		Neighborhood: "red hook",
		Snapshot:     []cache.Snapshot{{ID: "lonely-1", Price: 600_000}},
		Pool:         comparablePool(2, 700_000), // below every tier minimum
	}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Analyzed != 1 || len(sum.Failures) != 0 {
		t.Errorf("summary = %+v, want clean analysis", sum)
	}

	e2, _ := store.Get(context.Background(), "lonely-1")
	if e2.MarketStatus != string(valuation.InsufficientData) {
		t.Errorf("status = %q, want insufficient_data", e2.MarketStatus)
	}
}
