// CLAUDE:SUMMARY Valuation result type, classification enum, thresholds with method confidence floors, and the Strategy interface.
// Package valuation turns a subject listing and a candidate pool into a
// classified market valuation.
//
// The heuristics live behind one Strategy interface with two
// implementations: the rules-based model in this package and the
// LLM-backed one in llmvalue. Callers select a strategy at configuration
// time; they never special-case on it.
package valuation

import (
	"context"
	"math"
	"time"

	"github.com/hazyhaar/denicheur/adjust"
	"github.com/hazyhaar/denicheur/listing"
	"github.com/hazyhaar/denicheur/signals"
)

// Classification is the outcome of one valuation.
type Classification string

const (
	Undervalued           Classification = "undervalued"
	ModeratelyUndervalued Classification = "moderately_undervalued"
	MarketRate            Classification = "market_rate"
	Overvalued            Classification = "overvalued"
	InsufficientData      Classification = "insufficient_data"
)

// Valuation is the result for one subject. Created fresh on every analysis
// pass and never mutated; a re-analysis supersedes it with a new value.
type Valuation struct {
	ListingID            string            `json:"listing_id"`
	EstimatedMarketPrice int64             `json:"estimated_market_price"`
	ActualPrice          int64             `json:"actual_price"`
	DiscountPercent      float64           `json:"discount_percent"`
	Confidence           int               `json:"confidence"` // 0-100
	Method               string            `json:"method"`
	Classification       Classification    `json:"classification"`
	SampleSize           int               `json:"sample_size"`
	Breakdown            *adjust.Breakdown `json:"breakdown,omitempty"`
	Signals              signals.Signals   `json:"signals"`
	AnalyzedAt           time.Time         `json:"analyzed_at"`
}

// Thresholds configures the classification decision.
type Thresholds struct {
	// UndervaluedPercent is the primary discount threshold. Default: 15.
	UndervaluedPercent float64 `yaml:"undervalued_percent"`
	// ModeratePercent is the secondary threshold for the two-tier scale.
	// Default: 5.
	ModeratePercent float64 `yaml:"moderate_percent"`
	// MarketBandPercent bounds the market_rate band on both sides.
	// Default: 5.
	MarketBandPercent float64 `yaml:"market_band_percent"`
	// MinConfidence maps a method name to the confidence floor required
	// before a listing may be flagged undervalued.
	MinConfidence map[string]int `yaml:"min_confidence"`
}

// Defaults fills zero fields in place.
func (t *Thresholds) Defaults() {
	if t.UndervaluedPercent <= 0 {
		t.UndervaluedPercent = 15
	}
	if t.ModeratePercent <= 0 {
		t.ModeratePercent = 5
	}
	if t.MarketBandPercent <= 0 {
		t.MarketBandPercent = 5
	}
	if t.MinConfidence == nil {
		t.MinConfidence = map[string]int{
			"exact":          70,
			"bed_bath":       70,
			"bedroom":        60,
			"price_per_sqft": 50,
			"llm":            50,
		}
	}
}

// Floor returns the confidence floor for a method, falling back to the
// strictest configured floor for unknown methods.
func (t *Thresholds) Floor(method string) int {
	if f, ok := t.MinConfidence[method]; ok {
		return f
	}
	max := 0
	for _, f := range t.MinConfidence {
		if f > max {
			max = f
		}
	}
	return max
}

// DiscountPercent computes how far the actual price sits below the
// estimate: (estimate - actual) / estimate * 100. Zero estimate yields 0.
func DiscountPercent(estimate, actual int64) float64 {
	if estimate <= 0 {
		return 0
	}
	return float64(estimate-actual) / float64(estimate) * 100
}

// Classify applies the two-tier decision scale. A discount only counts as
// (moderately) undervalued when confidence clears the method's floor;
// below the floor the listing is reported at market rate rather than
// flagged on weak evidence.
func Classify(discount float64, confidence int, method string, th *Thresholds) Classification {
	switch {
	case discount >= th.UndervaluedPercent && confidence >= th.Floor(method):
		return Undervalued
	case discount >= th.ModeratePercent && confidence >= th.Floor(method):
		return ModeratelyUndervalued
	case discount <= -th.MarketBandPercent:
		return Overvalued
	default:
		return MarketRate
	}
}

// Round rounds a float estimate to whole currency units.
func Round(v float64) int64 { return int64(math.Round(v)) }

// Strategy is the pluggable valuation contract. Implementations must be
// total: recoverable analysis problems (too few comparables, malformed
// model output) come back as a conservative Valuation, not an error.
// Errors are reserved for failures the caller should count against the
// run (I/O, cancellation).
type Strategy interface {
	Analyze(ctx context.Context, subject *listing.Listing, pool []listing.Listing) (*Valuation, error)
}
