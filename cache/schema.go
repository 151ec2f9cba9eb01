// CLAUDE:SUMMARY SQLite schema for the listings cache, latest-valuation results, and price history.
package cache

// Schema creates the cache tables. Idempotent; applied on every open.
const Schema = `
CREATE TABLE IF NOT EXISTS listings (
	listing_id          TEXT PRIMARY KEY,
	address             TEXT NOT NULL DEFAULT '',
	neighborhood        TEXT NOT NULL DEFAULT '',
	borough             TEXT NOT NULL DEFAULT '',
	bedrooms            INTEGER,
	bathrooms           REAL,
	sqft                REAL NOT NULL DEFAULT 0,
	price               INTEGER NOT NULL DEFAULT 0,
	amenities_json      TEXT NOT NULL DEFAULT '[]',
	market_status       TEXT NOT NULL DEFAULT 'pending',
	last_checked        INTEGER NOT NULL DEFAULT 0,
	last_seen_in_search INTEGER NOT NULL DEFAULT 0,
	last_analyzed       INTEGER,
	created_at          INTEGER NOT NULL,
	updated_at          INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_listings_neighborhood_status
	ON listings(neighborhood, market_status);

CREATE TABLE IF NOT EXISTS valuations (
	listing_id             TEXT PRIMARY KEY
	                       REFERENCES listings(listing_id) ON DELETE CASCADE,
	estimated_market_price INTEGER NOT NULL,
	actual_price           INTEGER NOT NULL,
	discount_percent       REAL NOT NULL,
	confidence             INTEGER NOT NULL,
	method                 TEXT NOT NULL,
	classification         TEXT NOT NULL,
	sample_size            INTEGER NOT NULL DEFAULT 0,
	breakdown_json         TEXT NOT NULL DEFAULT '',
	signals_json           TEXT NOT NULL DEFAULT '',
	analyzed_at            INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_valuations_classification
	ON valuations(classification);

CREATE TABLE IF NOT EXISTS price_history (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	listing_id  TEXT NOT NULL
	            REFERENCES listings(listing_id) ON DELETE CASCADE,
	old_price   INTEGER NOT NULL,
	new_price   INTEGER NOT NULL,
	observed_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_price_history_listing
	ON price_history(listing_id, observed_at);
`
