package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/denicheur/cache"
	"github.com/hazyhaar/denicheur/dbopen"
	"github.com/hazyhaar/denicheur/listing"
	"github.com/hazyhaar/denicheur/observability"
	"github.com/hazyhaar/denicheur/signals"
	"github.com/hazyhaar/denicheur/valuation"
)

func testServer(t *testing.T) (*Server, *cache.Store) {
	t.Helper()
	store := cache.New(dbopen.OpenMemory(t, dbopen.WithSchema(cache.Schema)))

	obsDB := dbopen.OpenMemory(t)
	if err := observability.Init(obsDB); err != nil {
		t.Fatal(err)
	}
	runs := observability.NewRunLog(obsDB)
	return New(store, runs, slog.New(slog.NewTextHandler(io.Discard, nil))), store
}

func seedDeal(t *testing.T, store *cache.Store, id, neighborhood string, discount float64) {
	t.Helper()
	now := time.Now()
	l := &listing.Listing{
		ID:           id,
		Price:        800_000,
		Bedrooms:     listing.IntPtr(2),
		Bathrooms:    listing.FloatPtr(1),
		Sqft:         900,
		Address:      "10 Test Ave",
		Neighborhood: neighborhood,
	}
	if err := store.UpsertDetail(context.Background(), l, now); err != nil {
		t.Fatal(err)
	}
	v := &valuation.Valuation{
		ListingID:            id,
		EstimatedMarketPrice: 1_000_000,
		ActualPrice:          800_000,
		DiscountPercent:      discount,
		Confidence:           85,
		Method:               "bed_bath",
		Classification:       valuation.Undervalued,
		SampleSize:           10,
		Signals:              signals.Signals{},
		AnalyzedAt:           now,
	}
	if err := store.SaveValuation(context.Background(), v, now); err != nil {
		t.Fatal(err)
	}
}

func getJSON(t *testing.T, h http.Handler, url string, out any) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return rec.Code
}

// WHAT: /api/deals returns persisted deals deepest discount first and
// honors the limit parameter.
// WHY: this is the endpoint the whole pipeline exists to feed.
func TestDealsEndpoint(t *testing.T) {
	srv, store := testServer(t)
	seedDeal(t, store, "a-1", "soho", 12)
	seedDeal(t, store, "a-2", "soho", 25)
	h := srv.Router()

	var deals []cache.Deal
	if code := getJSON(t, h, "/api/deals", &deals); code != 200 {
		t.Fatalf("status = %d", code)
	}
	if len(deals) != 2 || deals[0].ListingID != "a-2" {
		t.Errorf("deals = %+v, want a-2 first", deals)
	}

	if code := getJSON(t, h, "/api/deals?limit=1", &deals); code != 200 {
		t.Fatalf("status = %d", code)
	}
	if len(deals) != 1 {
		t.Errorf("limited deals = %+v, want 1", deals)
	}
}

// WHAT: an empty cache yields 200 and an empty array, not null.
// WHY: consumers decode a JSON list unconditionally.
func TestDealsEmpty(t *testing.T) {
	srv, _ := testServer(t)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/deals", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := rec.Body.String(); body != "[]\n" {
		t.Errorf("body = %q, want empty array", body)
	}
}

// WHAT: /api/results/{neighborhood} scopes to the path neighborhood.
// WHY: results views are browsed one neighborhood at a time.
func TestResultsEndpoint(t *testing.T) {
	srv, store := testServer(t)
	seedDeal(t, store, "s-1", "soho", 20)
	seedDeal(t, store, "c-1", "chelsea", 18)

	var deals []cache.Deal
	if code := getJSON(t, srv.Router(), "/api/results/soho", &deals); code != 200 {
		t.Fatalf("status = %d", code)
	}
	if len(deals) != 1 || deals[0].Neighborhood != "soho" {
		t.Errorf("deals = %+v, want only soho", deals)
	}
}

// WHAT: /api/stats reflects cache contents.
// WHY: the stats endpoint is the operational health view.
func TestStatsEndpoint(t *testing.T) {
	srv, store := testServer(t)
	seedDeal(t, store, "s-1", "soho", 20)

	var st cache.Stats
	if code := getJSON(t, srv.Router(), "/api/stats", &st); code != 200 {
		t.Fatalf("status = %d", code)
	}
	if st.TotalEntries != 1 || st.ByClassification["undervalued"] != 1 {
		t.Errorf("stats = %+v", st)
	}
}

// WHAT: price history 404s on unknown listings and returns recorded
// drift events otherwise.
// WHY: a missing id and an id with no drift yet are different answers.
func TestPriceHistoryEndpoint(t *testing.T) {
	srv, store := testServer(t)
	seedDeal(t, store, "s-1", "soho", 20)
	h := srv.Router()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/listings/nope/price-history", nil))
	if rec.Code != 404 {
		t.Errorf("unknown id status = %d, want 404", rec.Code)
	}

	var history []cache.PriceChange
	if code := getJSON(t, h, "/api/listings/s-1/price-history", &history); code != 200 {
		t.Fatalf("status = %d", code)
	}
	if len(history) != 0 {
		t.Errorf("history = %+v, want empty", history)
	}

	pol := cache.Policy{}
	if _, err := store.MarkPriceOnly(context.Background(), "s-1", 700_000, pol, time.Now()); err != nil {
		t.Fatal(err)
	}
	if code := getJSON(t, h, "/api/listings/s-1/price-history", &history); code != 200 {
		t.Fatalf("status = %d", code)
	}
	if len(history) != 1 || history[0].NewPrice != 700_000 {
		t.Errorf("history = %+v, want one drop to 700000", history)
	}
}

// WHAT: /api/runs lists recorded runs and /failures expands one run.
// WHY: operators debug a bad pass from these two views.
func TestRunsEndpoints(t *testing.T) {
	srv, _ := testServer(t)
	now := time.Now().UnixMilli()
	rec := &observability.RunRecord{
		RunID:     "run_test",
		Mode:      "run",
		StartedAt: now,
		Analyzed:  3,
		Failures: []observability.RunFailure{
			{Scope: "listing:x-1", Error: "connection reset", OccurredAt: now},
		},
	}
	if err := srv.runs.Record(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	h := srv.Router()

	var runs []observability.RunRecord
	if code := getJSON(t, h, "/api/runs", &runs); code != 200 {
		t.Fatalf("status = %d", code)
	}
	if len(runs) != 1 || runs[0].RunID != "run_test" || runs[0].Analyzed != 3 {
		t.Errorf("runs = %+v", runs)
	}

	var failures []observability.RunFailure
	if code := getJSON(t, h, "/api/runs/run_test/failures", &failures); code != 200 {
		t.Fatalf("status = %d", code)
	}
	if len(failures) != 1 || failures[0].Scope != "listing:x-1" {
		t.Errorf("failures = %+v", failures)
	}
}

// WHAT: a server built without a run log omits the runs routes.
// WHY: serve mode may point at a cache with no observability database.
func TestRunsRoutesOptional(t *testing.T) {
	store := cache.New(dbopen.OpenMemory(t, dbopen.WithSchema(cache.Schema)))
	srv := New(store, nil, nil)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	if rec.Code != 404 {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
