// CLAUDE:SUMMARY SQLite cache store: snapshot partition, detail upserts, price-only fast path, reconcile, purge, and result reads.
package cache

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/denicheur/dbopen"
	"github.com/hazyhaar/denicheur/listing"
	"github.com/hazyhaar/denicheur/valuation"
)

// Store wraps the cache database. Safe for one writer process; repeated
// writes to the same listing id upsert rather than duplicate.
type Store struct {
	DB *sql.DB
}

// Open opens (or creates) the cache database at path.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	opts = append(opts, dbopen.WithSchema(Schema), dbopen.WithMkdirAll())
	db, err := dbopen.Open(path, opts...)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	return &Store{DB: db}, nil
}

// New wraps an already-opened database. The caller owns the schema.
func New(db *sql.DB) *Store {
	return &Store{DB: db}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// Partition splits a search snapshot three ways using cached state only.
// It issues no external calls and writes nothing; calling it twice with
// the same snapshot and no intervening writes returns identical splits.
func (s *Store) Partition(ctx context.Context, snaps []Snapshot, pol Policy, now time.Time) (*Partition, error) {
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
	var p Partition
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
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+entryColumns+`
		FROM listings WHERE listing_id = ?`, id)
	e, err := scanEntry(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// UpsertDetail records a successful detail fetch. Repeated fetches of
// the same id overwrite all detail fields; the status returns to pending
// so the listing is (re)analyzed this run.
func (s *Store) UpsertDetail(ctx context.Context, l *listing.Listing, now time.Time) error {
	ms := now.UnixMilli()
	_, err := dbopen.Exec(ctx, s.DB, `
		INSERT INTO listings (listing_id, address, neighborhood, borough,
			bedrooms, bathrooms, sqft, price, amenities_json,
			market_status, last_checked, last_seen_in_search, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(listing_id) DO UPDATE SET
			address = excluded.address,
			neighborhood = excluded.neighborhood,
			borough = excluded.borough,
			bedrooms = excluded.bedrooms,
			bathrooms = excluded.bathrooms,
			sqft = excluded.sqft,
			price = excluded.price,
			amenities_json = excluded.amenities_json,
			market_status = excluded.market_status,
			last_checked = excluded.last_checked,
			last_seen_in_search = excluded.last_seen_in_search,
			updated_at = excluded.updated_at`,
		l.ID, l.Address, l.Neighborhood, l.Borough,
		l.Bedrooms, l.Bathrooms, l.Sqft, l.Price, marshalAmenities(l.Amenities),
		StatusPending, ms, ms, ms, ms,
	)
	if err != nil {
		return fmt.Errorf("cache: upsert detail %s: %w", l.ID, err)
	}
	return nil
}

// MarkPriceOnly applies the fast-path price update. It re-reads the
// cached price and writes only when the drift policy triggers: price,
// last_checked, status back to pending, plus a price_history row.
// Sub-threshold deltas leave the row untouched. Returns whether a write
// happened.
func (s *Store) MarkPriceOnly(ctx context.Context, id string, newPrice int64, pol Policy, now time.Time) (bool, error) {
	pol.Defaults()
	e, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if e == nil {
		return false, fmt.Errorf("cache: price update for unknown listing %s", id)
	}
	if !pol.Drifted(e.Price, newPrice) {
		return false, nil
	}

	ms := now.UnixMilli()
	err = dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE listings SET price = ?, market_status = ?,
				last_checked = ?, updated_at = ?
			WHERE listing_id = ?`,
			newPrice, StatusPending, ms, ms, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO price_history (listing_id, old_price, new_price, observed_at)
			VALUES (?, ?, ?, ?)`, id, e.Price, newPrice, ms)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("cache: price update %s: %w", id, err)
	}
	return true, nil
}

// MarkFetchFailed records a failed detail fetch so the id is not retried
// until a later run. Creates a stub row when the id was never cached.
func (s *Store) MarkFetchFailed(ctx context.Context, id string, now time.Time) error {
	ms := now.UnixMilli()
	_, err := dbopen.Exec(ctx, s.DB, `
		INSERT INTO listings (listing_id, market_status, last_checked,
			last_seen_in_search, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(listing_id) DO UPDATE SET
			market_status = excluded.market_status,
			last_checked = excluded.last_checked,
			updated_at = excluded.updated_at`,
		id, StatusFetchFailed, ms, ms, ms, ms,
	)
	if err != nil {
		return fmt.Errorf("cache: mark fetch failed %s: %w", id, err)
	}
	return nil
}

// TouchSeen bumps last_seen_in_search for every cached id in the
// snapshot. Uncached ids are ignored; they get their timestamp when
// their detail fetch lands.
func (s *Store) TouchSeen(ctx context.Context, ids []string, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	ms := now.UnixMilli()
	query := `UPDATE listings SET last_seen_in_search = ?
		WHERE listing_id IN (` + placeholders(len(ids)) + `)`
	args := make([]any, 0, len(ids)+1)
	args = append(args, ms)
	for _, id := range ids {
		args = append(args, id)
	}
	if _, err := dbopen.Exec(ctx, s.DB, query, args...); err != nil {
		return fmt.Errorf("cache: touch seen: %w", err)
	}
	return nil
}

// SaveValuation persists the latest valuation for a listing and moves
// the cache row's status to the valuation's classification. One row per
// listing; a re-analysis supersedes the previous result.
func (s *Store) SaveValuation(ctx context.Context, v *valuation.Valuation, now time.Time) error {
	breakdown, sig, err := MarshalResult(v)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}

	ms := now.UnixMilli()
	analyzedAt := v.AnalyzedAt.UnixMilli()
	err = dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO valuations (listing_id, estimated_market_price,
				actual_price, discount_percent, confidence, method,
				classification, sample_size, breakdown_json, signals_json, analyzed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(listing_id) DO UPDATE SET
				estimated_market_price = excluded.estimated_market_price,
				actual_price = excluded.actual_price,
				discount_percent = excluded.discount_percent,
				confidence = excluded.confidence,
				method = excluded.method,
				classification = excluded.classification,
				sample_size = excluded.sample_size,
				breakdown_json = excluded.breakdown_json,
				signals_json = excluded.signals_json,
				analyzed_at = excluded.analyzed_at`,
			v.ListingID, v.EstimatedMarketPrice, v.ActualPrice,
			v.DiscountPercent, v.Confidence, v.Method,
			string(v.Classification), v.SampleSize, breakdown, sig,
			analyzedAt); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE listings SET market_status = ?, last_analyzed = ?,
				last_checked = ?, updated_at = ?
			WHERE listing_id = ?`,
			string(v.Classification), analyzedAt, ms, ms, v.ListingID)
		return err
	})
	if err != nil {
		return fmt.Errorf("cache: save valuation %s: %w", v.ListingID, err)
	}
	return nil
}

// ReconcileSold marks vanished actives in one neighborhood as
// likely_sold: entries not in currentIDs whose last_seen_in_search
// predates the staleness cutoff. Strictly scoped to the given
// neighborhood; other neighborhoods' rows are never touched. Terminal
// states (likely_sold, fetch_failed) are left alone. Returns the number
// of rows marked.
func (s *Store) ReconcileSold(ctx context.Context, neighborhood string, currentIDs []string, staleWindow time.Duration, now time.Time) (int, error) {
	cutoff := now.Add(-staleWindow).UnixMilli()

	query := `UPDATE listings SET market_status = ?, updated_at = ?
		WHERE neighborhood = ?
		  AND market_status NOT IN (?, ?)
		  AND last_seen_in_search < ?`
	args := []any{StatusLikelySold, now.UnixMilli(), neighborhood,
		StatusLikelySold, StatusFetchFailed, cutoff}
	if len(currentIDs) > 0 {
		query += ` AND listing_id NOT IN (` + placeholders(len(currentIDs)) + `)`
		for _, id := range currentIDs {
			args = append(args, id)
		}
	}

	res, err := dbopen.Exec(ctx, s.DB, query, args...)
	if err != nil {
		return 0, fmt.Errorf("cache: reconcile %s: %w", neighborhood, err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// PurgeOlderThan hard-deletes entries not updated since the cutoff.
// Valuations and price history follow via cascade. This is the only
// deletion path; everything else is status transitions.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := dbopen.Exec(ctx, s.DB,
		`DELETE FROM listings WHERE updated_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("cache: purge: %w", err)
	}
	return res.RowsAffected()
}

const entryColumns = `listing_id, address, neighborhood, borough,
	bedrooms, bathrooms, sqft, price, amenities_json, market_status,
	last_checked, last_seen_in_search, last_analyzed, created_at, updated_at`

func (s *Store) getMany(ctx context.Context, ids []string) (map[string]*Entry, error) {
	out := make(map[string]*Entry, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query := `SELECT ` + entryColumns + ` FROM listings
		WHERE listing_id IN (` + placeholders(len(ids)) + `)`
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("cache: lookup: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		out[e.ListingID] = e
	}
	return out, rows.Err()
}

func scanEntry(scan func(...any) error) (*Entry, error) {
	var e Entry
	var amenities string
	err := scan(
		&e.ListingID, &e.Address, &e.Neighborhood, &e.Borough,
		&e.Bedrooms, &e.Bathrooms, &e.Sqft, &e.Price, &amenities,
		&e.MarketStatus, &e.LastChecked, &e.LastSeenInSearch,
		&e.LastAnalyzed, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("cache: scan entry: %w", err)
	}
	e.Amenities = unmarshalAmenities(amenities)
	return &e, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
