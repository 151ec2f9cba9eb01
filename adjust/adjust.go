// CLAUDE:SUMMARY Adjustment model: pool base value per method, then amenity/size/condition/micro-location adjustments into a Breakdown.
// Package adjust converts a comparable pool's base price into an adjusted
// market estimate for a subject listing.
//
// The base value depends on the selection method; the four adjustment
// categories then correct for what the peer group does not already price
// in. Every figure comes from the versioned Tables structure so the model
// has no magic numbers of its own.
package adjust

import (
	"fmt"
	"math"
	"strings"

	"github.com/hazyhaar/denicheur/comps"
	"github.com/hazyhaar/denicheur/listing"
)

// Entry is one line of an adjustment breakdown.
type Entry struct {
	Category  string `json:"category"`
	Amount    int64  `json:"amount"`
	Rationale string `json:"rationale"`
}

// Breakdown is the ordered adjustment trail for one valuation. Derived
// data only — it is never persisted on its own.
type Breakdown struct {
	BaseValue       int64   `json:"base_value"`
	Entries         []Entry `json:"entries"`
	TotalAdjustment int64   `json:"total_adjustment"`
	Estimate        int64   `json:"estimate"`
}

// Adjuster applies the adjustment model using one set of value tables.
type Adjuster struct {
	tables *Tables
}

// New creates an Adjuster. A nil tables argument selects the defaults.
func New(tables *Tables) *Adjuster {
	if tables == nil {
		tables = DefaultTables()
	}
	return &Adjuster{tables: tables}
}

// Tables exposes the active value tables (read-only by convention) so
// reporting code shares the exact figures the model used.
func (a *Adjuster) Tables() *Tables { return a.tables }

// BaseValue derives the pool's base price for the subject:
//
//   - exact / bed+bath tiers: median pool price
//   - bedroom tier: median pool price corrected by the subject's bathroom
//     surplus or deficit against the pool average, in half-bath steps
//   - price-per-sqft tier: median price/sqft times subject area
func (a *Adjuster) BaseValue(subject *listing.Listing, pool *comps.Pool) (int64, error) {
	switch pool.Method {
	case comps.MethodExact, comps.MethodBedBath:
		return pool.MedianPrice(), nil

	case comps.MethodBedroom:
		base := pool.MedianPrice()
		if subject.Bathrooms != nil {
			delta := *subject.Bathrooms - pool.AvgBathrooms()
			halfBaths := math.Round(delta / 0.5)
			base += int64(halfBaths) * a.tables.PerHalfBath
		}
		return base, nil

	case comps.MethodPricePerSqft:
		if !subject.HasSqft() {
			return 0, fmt.Errorf("adjust: price-per-sqft base requires subject area (listing %s)", subject.ID)
		}
		ppsf := pool.MedianPricePerSqft()
		if ppsf <= 0 {
			return 0, fmt.Errorf("adjust: pool has no usable price/sqft data")
		}
		return int64(math.Round(ppsf * subject.Sqft)), nil
	}
	return 0, fmt.Errorf("adjust: unknown method %q", pool.Method)
}

// Adjust computes the full breakdown for subject against pool, starting
// from base. The estimate is base plus the sum of all entries, rounded to
// whole dollars by construction.
func (a *Adjuster) Adjust(subject *listing.Listing, pool *comps.Pool, base int64) *Breakdown {
	bd := &Breakdown{BaseValue: base}

	if amt, why := a.amenityAdjustment(subject, pool, base); amt != 0 {
		bd.Entries = append(bd.Entries, Entry{Category: "amenities", Amount: amt, Rationale: why})
	}
	if pool.Method != comps.MethodPricePerSqft {
		if amt, why := a.sizeAdjustment(subject, pool); amt != 0 {
			bd.Entries = append(bd.Entries, Entry{Category: "size", Amount: amt, Rationale: why})
		}
	}
	bd.Entries = append(bd.Entries, phraseEntries("condition", subject.Description, a.tables.Condition)...)
	bd.Entries = append(bd.Entries, phraseEntries("micro_location", subject.Description, a.tables.MicroLocation)...)

	for _, e := range bd.Entries {
		bd.TotalAdjustment += e.Amount
	}
	bd.Estimate = base + bd.TotalAdjustment
	return bd
}

// amenityAdjustment credits the subject's amenity package net of the
// amenities already implicit in the pool's prices: subject total minus the
// pool's average amenity value. Without the netting, a doorman building
// compared against doorman buildings would be credited twice.
func (a *Adjuster) amenityAdjustment(subject *listing.Listing, pool *comps.Pool, base int64) (int64, string) {
	manhattan := subject.IsManhattan()

	subjectTotal := a.amenityValue(subject.Amenities, manhattan, base)

	var poolSum float64
	for i := range pool.Listings {
		poolSum += a.amenityValue(pool.Listings[i].Amenities, manhattan, base)
	}
	poolAvg := 0.0
	if n := pool.Count(); n > 0 {
		poolAvg = poolSum / float64(n)
	}

	net := int64(math.Round(subjectTotal - poolAvg))
	region := "outer borough"
	if manhattan {
		region = "Manhattan"
	}
	why := fmt.Sprintf("subject amenity value %.0f vs pool average %.0f (%s table)", subjectTotal, poolAvg, region)
	return net, why
}

func (a *Adjuster) amenityValue(tags []string, manhattan bool, base int64) float64 {
	var total float64
	for _, tag := range tags {
		rv, ok := a.tables.Amenities[tag]
		if !ok {
			continue
		}
		v := rv.Outer
		if manhattan {
			v = rv.Manhattan
		}
		switch v.Type {
		case Percent:
			total += float64(base) * v.Value / 100
		default:
			total += v.Value
		}
	}
	return total
}

// sizeAdjustment prices the difference between subject area and the pool's
// average area. Applies only when both sides have area data.
func (a *Adjuster) sizeAdjustment(subject *listing.Listing, pool *comps.Pool) (int64, string) {
	if !subject.HasSqft() {
		return 0, ""
	}
	avg, n := pool.AvgSqft()
	if n == 0 {
		return 0, ""
	}

	diff := subject.Sqft - avg
	rate := a.tables.SizeRates.Rate(subject.SizeBracket())
	perSqft := rate.AbovePerSqft
	if diff < 0 {
		perSqft = rate.BelowPerSqft
	}
	amt := int64(math.Round(diff * perSqft))
	why := fmt.Sprintf("%.0f sqft vs pool average %.0f at $%.0f/sqft", subject.Sqft, avg, perSqft)
	return amt, why
}

// phraseEntries matches fixed-amount phrases against the description.
// Matches are not mutually exclusive; multiple phrases stack.
func phraseEntries(category, description string, table []PhraseValue) []Entry {
	text := strings.ToLower(description)
	var out []Entry
	for _, pv := range table {
		if strings.Contains(text, pv.Phrase) {
			out = append(out, Entry{
				Category:  category,
				Amount:    pv.Amount,
				Rationale: fmt.Sprintf("description mentions %q", pv.Phrase),
			})
		}
	}
	return out
}
