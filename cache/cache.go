// CLAUDE:SUMMARY Freshness-cache types: Entry, market statuses, snapshot partition, and the drift/freshness policy.
// Package cache is the persistent freshness layer over seen listings.
//
// One row per listing id. The cache answers the only question that keeps
// external spend bounded: for each id in a search snapshot, do we skip
// it, fast-path a price update, or pay for a detail fetch? That three-way
// split is computed from cached state alone, before any external call.
package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hazyhaar/denicheur/listing"
	"github.com/hazyhaar/denicheur/valuation"
)

// Market statuses stored on a cache entry. Analyzed entries carry their
// valuation classification verbatim; the remaining statuses are cache
// lifecycle states.
const (
	StatusPending     = "pending"
	StatusFetchFailed = "fetch_failed"
	StatusLikelySold  = "likely_sold"
)

// Entry is one cached listing row.
type Entry struct {
	ListingID        string
	Address          string
	Neighborhood     string
	Borough          string
	Bedrooms         *int
	Bathrooms        *float64
	Sqft             float64 // 0 = unknown
	Price            int64
	Amenities        []string
	MarketStatus     string
	LastChecked      int64  // unix millis
	LastSeenInSearch int64  // unix millis
	LastAnalyzed     *int64 // unix millis, nil = never
	CreatedAt        int64
	UpdatedAt        int64
}

// Complete reports whether the entry carries enough detail to be valued
// without a refetch: address, bedrooms, bathrooms, positive area, and
// not a failed fetch.
func (e *Entry) Complete() bool {
	return e.Address != "" &&
		e.Bedrooms != nil &&
		e.Bathrooms != nil &&
		e.Sqft > 0 &&
		e.MarketStatus != StatusFetchFailed
}

// Listing rebuilds a listing from cached attributes, for re-analysis of
// stale entries without a detail fetch.
func (e *Entry) Listing() *listing.Listing {
	return &listing.Listing{
		ID:           e.ListingID,
		Price:        e.Price,
		Bedrooms:     e.Bedrooms,
		Bathrooms:    e.Bathrooms,
		Sqft:         e.Sqft,
		Address:      e.Address,
		Neighborhood: e.Neighborhood,
		Borough:      e.Borough,
		Amenities:    e.Amenities,
	}
}

// Snapshot is what a search result page knows about a listing: its id
// and asking price. Everything else costs a detail fetch.
type Snapshot struct {
	ID    string
	Price int64
}

// Policy holds the freshness and price-drift knobs that drive the
// partition.
type Policy struct {
	// FreshnessWindow bounds how old a complete entry's last_checked may
	// be before it needs re-analysis. Default: 7 days.
	FreshnessWindow time.Duration
	// DriftAbsolute is the dollar delta that triggers the price-only
	// fast path. Default: 5000.
	DriftAbsolute int64
	// DriftPercent is the relative delta (percent of the cached price)
	// that triggers the fast path. Default: 1.
	DriftPercent float64
}

// Defaults fills zero fields in place.
func (p *Policy) Defaults() {
	if p.FreshnessWindow <= 0 {
		p.FreshnessWindow = 7 * 24 * time.Hour
	}
	if p.DriftAbsolute <= 0 {
		p.DriftAbsolute = 5_000
	}
	if p.DriftPercent <= 0 {
		p.DriftPercent = 1
	}
}

// Drifted reports whether newPrice moved far enough from cachedPrice to
// count as price drift under the policy. Either trigger suffices.
func (p *Policy) Drifted(cachedPrice, newPrice int64) bool {
	if cachedPrice <= 0 || newPrice <= 0 {
		return false
	}
	delta := newPrice - cachedPrice
	if delta < 0 {
		delta = -delta
	}
	if delta >= p.DriftAbsolute {
		return true
	}
	return float64(delta)/float64(cachedPrice)*100 >= p.DriftPercent
}

// Partition is the three-way split of a search snapshot.
//
// Skip: complete, fresh, price within drift tolerance — no work at all.
// Update: complete but stale or price-drifted — price-only fast path and
// re-analysis from cached attributes, no detail fetch.
// Fetch: never seen, incomplete, or previously failed — needs the
// external detail fetch.
type Partition struct {
	Skip   []string
	Update []Snapshot
	Fetch  []string
}

// MarshalResult serialises a valuation's breakdown and signals for the
// results row. Shared by both store backends.
func MarshalResult(v *valuation.Valuation) (breakdown, signals string, err error) {
	if v.Breakdown != nil {
		b, err := json.Marshal(v.Breakdown)
		if err != nil {
			return "", "", fmt.Errorf("marshal breakdown: %w", err)
		}
		breakdown = string(b)
	}
	s, err := json.Marshal(v.Signals)
	if err != nil {
		return "", "", fmt.Errorf("marshal signals: %w", err)
	}
	return breakdown, string(s), nil
}

func marshalAmenities(a []string) string {
	if len(a) == 0 {
		return "[]"
	}
	b, err := json.Marshal(a)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func unmarshalAmenities(s string) []string {
	if s == "" || s == "[]" {
		return nil
	}
	var a []string
	if err := json.Unmarshal([]byte(s), &a); err != nil {
		return nil
	}
	return a
}
