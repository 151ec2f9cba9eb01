// CLAUDE:SUMMARY Postgres freshness-cache backend over pgx/v5 with ON CONFLICT upserts, mirroring the SQLite store surface.
// Package cachepg is the Postgres backend of the freshness cache, for
// deployments that already run Postgres. It mirrors the SQLite store's
// write surface; semantics are identical, only the conflict-resolution
// mechanism differs (native ON CONFLICT (listing_id) upserts).
//
// Read-side queries for the HTTP API stay on the SQLite store; serve
// mode is not supported against this backend.
package cachepg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hazyhaar/denicheur/cache"
	"github.com/hazyhaar/denicheur/listing"
	"github.com/hazyhaar/denicheur/valuation"
)

// Schema creates the cache tables. Idempotent; applied by Open.
const Schema = `
CREATE TABLE IF NOT EXISTS listings (
	listing_id          TEXT PRIMARY KEY,
	address             TEXT NOT NULL DEFAULT '',
	neighborhood        TEXT NOT NULL DEFAULT '',
	borough             TEXT NOT NULL DEFAULT '',
	bedrooms            INTEGER,
	bathrooms           DOUBLE PRECISION,
	sqft                DOUBLE PRECISION NOT NULL DEFAULT 0,
	price               BIGINT NOT NULL DEFAULT 0,
	amenities           TEXT[] NOT NULL DEFAULT '{}',
	market_status       TEXT NOT NULL DEFAULT 'pending',
	last_checked        BIGINT NOT NULL DEFAULT 0,
	last_seen_in_search BIGINT NOT NULL DEFAULT 0,
	last_analyzed       BIGINT,
	created_at          BIGINT NOT NULL,
	updated_at          BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_listings_neighborhood_status
	ON listings(neighborhood, market_status);

CREATE TABLE IF NOT EXISTS valuations (
	listing_id             TEXT PRIMARY KEY
	                       REFERENCES listings(listing_id) ON DELETE CASCADE,
	estimated_market_price BIGINT NOT NULL,
	actual_price           BIGINT NOT NULL,
	discount_percent       DOUBLE PRECISION NOT NULL,
	confidence             INTEGER NOT NULL,
	method                 TEXT NOT NULL,
	classification         TEXT NOT NULL,
	sample_size            INTEGER NOT NULL DEFAULT 0,
	breakdown_json         TEXT NOT NULL DEFAULT '',
	signals_json           TEXT NOT NULL DEFAULT '',
	analyzed_at            BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS price_history (
	id          BIGSERIAL PRIMARY KEY,
	listing_id  TEXT NOT NULL
	            REFERENCES listings(listing_id) ON DELETE CASCADE,
	old_price   BIGINT NOT NULL,
	new_price   BIGINT NOT NULL,
	observed_at BIGINT NOT NULL
);
`

// Store wraps a pgx pool.
type Store struct {
	Pool *pgxpool.Pool
}

// Open connects to Postgres at dsn and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("cachepg: connect: %w", err)
	}
	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("cachepg: schema: %w", err)
	}
	return &Store{Pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.Pool.Close()
	return nil
}

const entryColumns = `listing_id, address, neighborhood, borough,
	bedrooms, bathrooms, sqft, price, amenities, market_status,
	last_checked, last_seen_in_search, last_analyzed, created_at, updated_at`

// Partition splits a search snapshot three ways using cached state
// only, exactly like the SQLite store.
func (s *Store) Partition(ctx context.Context, snaps []cache.Snapshot, pol cache.Policy, now time.Time) (*cache.Partition, error) {
	pol.Defaults()

	ids := make([]string, len(snaps))
	for i, sn := range snaps {
		ids[i] = sn.ID
	}
	entries, err := s.getMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	freshCutoff := now.Add(-pol.FreshnessWindow).UnixMilli()
	var p cache.Partition
	for _, sn := range snaps {
		e, ok := entries[sn.ID]
		if !ok || !e.Complete() {
			p.Fetch = append(p.Fetch, sn.ID)
			continue
		}
		drifted := pol.Drifted(e.Price, sn.Price)
		if e.LastChecked >= freshCutoff && !drifted {
			p.Skip = append(p.Skip, sn.ID)
			continue
		}
		p.Update = append(p.Update, sn)
	}
	return &p, nil
}

// Get retrieves one entry, or nil if the id has never been cached.
func (s *Store) Get(ctx context.Context, id string) (*cache.Entry, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+entryColumns+`
		FROM listings WHERE listing_id = $1`, id)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// UpsertDetail records a successful detail fetch, resetting the status
// to pending.
func (s *Store) UpsertDetail(ctx context.Context, l *listing.Listing, now time.Time) error {
	ms := now.UnixMilli()
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO listings (listing_id, address, neighborhood, borough,
			bedrooms, bathrooms, sqft, price, amenities,
			market_status, last_checked, last_seen_in_search, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (listing_id) DO UPDATE SET
			address = EXCLUDED.address,
			neighborhood = EXCLUDED.neighborhood,
			borough = EXCLUDED.borough,
			bedrooms = EXCLUDED.bedrooms,
			bathrooms = EXCLUDED.bathrooms,
			sqft = EXCLUDED.sqft,
			price = EXCLUDED.price,
			amenities = EXCLUDED.amenities,
			market_status = EXCLUDED.market_status,
			last_checked = EXCLUDED.last_checked,
			last_seen_in_search = EXCLUDED.last_seen_in_search,
			updated_at = EXCLUDED.updated_at`,
		l.ID, l.Address, l.Neighborhood, l.Borough,
		l.Bedrooms, l.Bathrooms, l.Sqft, l.Price, amenitiesArray(l.Amenities),
		cache.StatusPending, ms, ms, ms, ms,
	)
	if err != nil {
		return fmt.Errorf("cachepg: upsert detail %s: %w", l.ID, err)
	}
	return nil
}

// MarkPriceOnly applies the fast-path price update under the drift
// policy. Sub-threshold deltas are a no-op.
func (s *Store) MarkPriceOnly(ctx context.Context, id string, newPrice int64, pol cache.Policy, now time.Time) (bool, error) {
	pol.Defaults()
	e, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if e == nil {
		return false, fmt.Errorf("cachepg: price update for unknown listing %s", id)
	}
	if !pol.Drifted(e.Price, newPrice) {
		return false, nil
	}

	ms := now.UnixMilli()
	err = pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			UPDATE listings SET price = $1, market_status = $2,
				last_checked = $3, updated_at = $3
			WHERE listing_id = $4`,
			newPrice, cache.StatusPending, ms, id); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO price_history (listing_id, old_price, new_price, observed_at)
			VALUES ($1, $2, $3, $4)`, id, e.Price, newPrice, ms)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("cachepg: price update %s: %w", id, err)
	}
	return true, nil
}

// MarkFetchFailed records a failed detail fetch, creating a stub row if
// needed.
func (s *Store) MarkFetchFailed(ctx context.Context, id string, now time.Time) error {
	ms := now.UnixMilli()
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO listings (listing_id, market_status, last_checked,
			last_seen_in_search, created_at, updated_at)
		VALUES ($1, $2, $3, $3, $3, $3)
		ON CONFLICT (listing_id) DO UPDATE SET
			market_status = EXCLUDED.market_status,
			last_checked = EXCLUDED.last_checked,
			updated_at = EXCLUDED.updated_at`,
		id, cache.StatusFetchFailed, ms,
	)
	if err != nil {
		return fmt.Errorf("cachepg: mark fetch failed %s: %w", id, err)
	}
	return nil
}

// TouchSeen bumps last_seen_in_search for every cached id in the
// snapshot.
func (s *Store) TouchSeen(ctx context.Context, ids []string, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.Pool.Exec(ctx, `
		UPDATE listings SET last_seen_in_search = $1
		WHERE listing_id = ANY($2)`, now.UnixMilli(), ids)
	if err != nil {
		return fmt.Errorf("cachepg: touch seen: %w", err)
	}
	return nil
}

// SaveValuation persists the latest valuation and moves the cache row's
// status to the classification.
func (s *Store) SaveValuation(ctx context.Context, v *valuation.Valuation, now time.Time) error {
	breakdown, sig, err := cache.MarshalResult(v)
	if err != nil {
		return fmt.Errorf("cachepg: %w", err)
	}

	ms := now.UnixMilli()
	analyzedAt := v.AnalyzedAt.UnixMilli()
	err = pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO valuations (listing_id, estimated_market_price,
				actual_price, discount_percent, confidence, method,
				classification, sample_size, breakdown_json, signals_json, analyzed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (listing_id) DO UPDATE SET
				estimated_market_price = EXCLUDED.estimated_market_price,
				actual_price = EXCLUDED.actual_price,
				discount_percent = EXCLUDED.discount_percent,
				confidence = EXCLUDED.confidence,
				method = EXCLUDED.method,
				classification = EXCLUDED.classification,
				sample_size = EXCLUDED.sample_size,
				breakdown_json = EXCLUDED.breakdown_json,
				signals_json = EXCLUDED.signals_json,
				analyzed_at = EXCLUDED.analyzed_at`,
			v.ListingID, v.EstimatedMarketPrice, v.ActualPrice,
			v.DiscountPercent, v.Confidence, v.Method,
			string(v.Classification), v.SampleSize, breakdown, sig,
			analyzedAt); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			UPDATE listings SET market_status = $1, last_analyzed = $2,
				last_checked = $3, updated_at = $3
			WHERE listing_id = $4`,
			string(v.Classification), analyzedAt, ms, v.ListingID)
		return err
	})
	if err != nil {
		return fmt.Errorf("cachepg: save valuation %s: %w", v.ListingID, err)
	}
	return nil
}

// ReconcileSold marks vanished stale actives in one neighborhood as
// likely_sold, strictly scoped to that neighborhood.
func (s *Store) ReconcileSold(ctx context.Context, neighborhood string, currentIDs []string, staleWindow time.Duration, now time.Time) (int, error) {
	cutoff := now.Add(-staleWindow).UnixMilli()
	if currentIDs == nil {
		currentIDs = []string{}
	}
	tag, err := s.Pool.Exec(ctx, `
		UPDATE listings SET market_status = $1, updated_at = $2
		WHERE neighborhood = $3
		  AND market_status NOT IN ($1, $4)
		  AND last_seen_in_search < $5
		  AND NOT (listing_id = ANY($6))`,
		cache.StatusLikelySold, now.UnixMilli(), neighborhood,
		cache.StatusFetchFailed, cutoff, currentIDs)
	if err != nil {
		return 0, fmt.Errorf("cachepg: reconcile %s: %w", neighborhood, err)
	}
	return int(tag.RowsAffected()), nil
}

// PurgeOlderThan hard-deletes entries not updated since the cutoff.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.Pool.Exec(ctx,
		`DELETE FROM listings WHERE updated_at < $1`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("cachepg: purge: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) getMany(ctx context.Context, ids []string) (map[string]*cache.Entry, error) {
	out := make(map[string]*cache.Entry, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.Pool.Query(ctx, `SELECT `+entryColumns+`
		FROM listings WHERE listing_id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("cachepg: lookup: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out[e.ListingID] = e
	}
	return out, rows.Err()
}

type scannable interface {
	Scan(...any) error
}

func scanEntry(row scannable) (*cache.Entry, error) {
	var e cache.Entry
	err := row.Scan(
		&e.ListingID, &e.Address, &e.Neighborhood, &e.Borough,
		&e.Bedrooms, &e.Bathrooms, &e.Sqft, &e.Price, &e.Amenities,
		&e.MarketStatus, &e.LastChecked, &e.LastSeenInSearch,
		&e.LastAnalyzed, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("cachepg: scan entry: %w", err)
	}
	return &e, nil
}

// amenitiesArray keeps empty slices non-nil so the TEXT[] column never
// sees NULL.
func amenitiesArray(a []string) []string {
	if a == nil {
		return []string{}
	}
	return a
}
