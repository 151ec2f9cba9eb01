// CLAUDE:SUMMARY Read-side queries over the results tables: top deals, per-neighborhood results, and cache stats.
package cache

import (
	"context"
	"database/sql"
	"fmt"
)

// Deal is one row of the deals view: a latest valuation joined with its
// cache entry.
type Deal struct {
	ListingID            string  `json:"listing_id"`
	Address              string  `json:"address"`
	Neighborhood         string  `json:"neighborhood"`
	ActualPrice          int64   `json:"actual_price"`
	EstimatedMarketPrice int64   `json:"estimated_market_price"`
	DiscountPercent      float64 `json:"discount_percent"`
	Confidence           int     `json:"confidence"`
	Method               string  `json:"method"`
	Classification       string  `json:"classification"`
	AnalyzedAt           int64   `json:"analyzed_at"` // unix millis
}

const dealColumns = `v.listing_id, l.address, l.neighborhood,
	v.actual_price, v.estimated_market_price, v.discount_percent,
	v.confidence, v.method, v.classification, v.analyzed_at`

// TopDeals returns undervalued listings ordered by discount, deepest
// first. Entries that have since gone likely_sold are excluded.
func (s *Store) TopDeals(ctx context.Context, limit int) ([]Deal, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+dealColumns+`
		FROM valuations v
		JOIN listings l ON l.listing_id = v.listing_id
		WHERE v.classification IN ('undervalued', 'moderately_undervalued')
		  AND l.market_status != ?
		ORDER BY v.discount_percent DESC
		LIMIT ?`, StatusLikelySold, limit)
	if err != nil {
		return nil, fmt.Errorf("cache: top deals: %w", err)
	}
	return scanDeals(rows)
}

// ResultsForNeighborhood returns all latest valuations in one
// neighborhood, deepest discount first.
func (s *Store) ResultsForNeighborhood(ctx context.Context, neighborhood string) ([]Deal, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+dealColumns+`
		FROM valuations v
		JOIN listings l ON l.listing_id = v.listing_id
		WHERE l.neighborhood = ?
		ORDER BY v.discount_percent DESC`, neighborhood)
	if err != nil {
		return nil, fmt.Errorf("cache: results for %s: %w", neighborhood, err)
	}
	return scanDeals(rows)
}

// Stats summarises the cache for the stats endpoint.
type Stats struct {
	TotalEntries     int            `json:"total_entries"`
	CompleteEntries  int            `json:"complete_entries"`
	ByStatus         map[string]int `json:"by_status"`
	ByClassification map[string]int `json:"by_classification"`
	OldestCheckedAt  int64          `json:"oldest_checked_at"` // unix millis, 0 = empty
}

// ReadStats computes cache-wide counters in one pass per table.
func (s *Store) ReadStats(ctx context.Context) (*Stats, error) {
	st := &Stats{
		ByStatus:         map[string]int{},
		ByClassification: map[string]int{},
	}

	err := s.DB.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN address != '' AND bedrooms IS NOT NULL
				AND bathrooms IS NOT NULL AND sqft > 0
				AND market_status != ? THEN 1 ELSE 0 END), 0),
			COALESCE(MIN(NULLIF(last_checked, 0)), 0)
		FROM listings`, StatusFetchFailed).
		Scan(&st.TotalEntries, &st.CompleteEntries, &st.OldestCheckedAt)
	if err != nil {
		return nil, fmt.Errorf("cache: stats: %w", err)
	}

	rows, err := s.DB.QueryContext(ctx,
		`SELECT market_status, COUNT(*) FROM listings GROUP BY market_status`)
	if err != nil {
		return nil, fmt.Errorf("cache: stats by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		st.ByStatus[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	crows, err := s.DB.QueryContext(ctx,
		`SELECT classification, COUNT(*) FROM valuations GROUP BY classification`)
	if err != nil {
		return nil, fmt.Errorf("cache: stats by classification: %w", err)
	}
	defer crows.Close()
	for crows.Next() {
		var class string
		var n int
		if err := crows.Scan(&class, &n); err != nil {
			return nil, err
		}
		st.ByClassification[class] = n
	}
	return st, crows.Err()
}

// PriceChange is one recorded drift event.
type PriceChange struct {
	OldPrice   int64 `json:"old_price"`
	NewPrice   int64 `json:"new_price"`
	ObservedAt int64 `json:"observed_at"` // unix millis
}

// PriceHistory returns the recorded drift events for one listing,
// oldest first.
func (s *Store) PriceHistory(ctx context.Context, id string) ([]PriceChange, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT old_price, new_price, observed_at
		FROM price_history WHERE listing_id = ?
		ORDER BY observed_at ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("cache: price history %s: %w", id, err)
	}
	defer rows.Close()

	var out []PriceChange
	for rows.Next() {
		var c PriceChange
		if err := rows.Scan(&c.OldPrice, &c.NewPrice, &c.ObservedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanDeals(rows *sql.Rows) ([]Deal, error) {
	defer rows.Close()
	var out []Deal
	for rows.Next() {
		var d Deal
		if err := rows.Scan(&d.ListingID, &d.Address, &d.Neighborhood,
			&d.ActualPrice, &d.EstimatedMarketPrice, &d.DiscountPercent,
			&d.Confidence, &d.Method, &d.Classification, &d.AnalyzedAt); err != nil {
			return nil, fmt.Errorf("cache: scan deal: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
