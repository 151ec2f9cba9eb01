// CLAUDE:SUMMARY RulesBased strategy: comparable selection, adjustment model, confidence, and classification in one pass.
package valuation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/denicheur/adjust"
	"github.com/hazyhaar/denicheur/comps"
	"github.com/hazyhaar/denicheur/listing"
	"github.com/hazyhaar/denicheur/signals"
)

// RulesBased is the deterministic valuation strategy: comparable
// hierarchy, adjustment tables, confidence scoring, threshold decision.
type RulesBased struct {
	adjuster   *adjust.Adjuster
	thresholds Thresholds
	logger     *slog.Logger
}

// NewRulesBased creates the strategy. Nil tables select the defaults;
// zero threshold fields are filled with defaults.
func NewRulesBased(tables *adjust.Tables, th Thresholds, logger *slog.Logger) *RulesBased {
	th.Defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &RulesBased{
		adjuster:   adjust.New(tables),
		thresholds: th,
		logger:     logger,
	}
}

// Analyze values subject against the candidate pool.
//
// Too few comparables at every tier is a recoverable outcome: the result
// is classification insufficient_data with confidence 0 and no estimate.
// Callers must not treat it as an error and must not fabricate a price
// from it.
func (r *RulesBased) Analyze(ctx context.Context, subject *listing.Listing, pool []listing.Listing) (*Valuation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if subject.Price <= 0 {
		return nil, fmt.Errorf("valuation: subject %s has no price", subject.ID)
	}

	sig := signals.Extract(subject.Description)

	selected, err := comps.Select(subject, pool)
	if err != nil {
		var ie *comps.InsufficientError
		if errors.As(err, &ie) {
			r.logger.Debug("valuation: insufficient comparables",
				"listing_id", subject.ID, "detail", ie.Error())
			return &Valuation{
				ListingID:      subject.ID,
				ActualPrice:    subject.Price,
				Confidence:     0,
				Method:         "none",
				Classification: InsufficientData,
				Signals:        sig,
				AnalyzedAt:     time.Now(),
			}, nil
		}
		return nil, err
	}

	base, err := r.adjuster.BaseValue(subject, selected)
	if err != nil {
		return nil, err
	}
	bd := r.adjuster.Adjust(subject, selected, base)

	confidence := Score(selected.Method, selected.Count(), subject.HasSqft(), subject.HasAmenities())
	discount := DiscountPercent(bd.Estimate, subject.Price)
	class := Classify(discount, confidence, string(selected.Method), &r.thresholds)

	return &Valuation{
		ListingID:            subject.ID,
		EstimatedMarketPrice: bd.Estimate,
		ActualPrice:          subject.Price,
		DiscountPercent:      discount,
		Confidence:           confidence,
		Method:               string(selected.Method),
		Classification:       class,
		SampleSize:           selected.Count(),
		Breakdown:            bd,
		Signals:              sig,
		AnalyzedAt:           time.Now(),
	}, nil
}
