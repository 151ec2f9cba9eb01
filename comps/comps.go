// CLAUDE:SUMMARY Comparable selection: strict precision hierarchy (exact, bed+bath, bedroom, price-per-sqft) with per-tier minimum samples.
// Package comps selects the peer group used to value a subject listing.
//
// Selection applies a strict precision hierarchy: the most precise tier
// that meets its minimum sample size wins, and tiers are never blended.
// When no tier qualifies, selection fails with per-tier counts so the
// caller can report why — callers must not fabricate a valuation from
// too few peers.
package comps

import (
	"fmt"
	"math"
	"slices"

	"github.com/hazyhaar/denicheur/listing"
)

// Method identifies one precision tier of the hierarchy.
type Method string

const (
	// MethodExact: same bedrooms, bathrooms within ±0.5, and at least 50%
	// amenity-set overlap with the subject.
	MethodExact Method = "exact"
	// MethodBedBath: same bedrooms, bathrooms within ±0.5.
	MethodBedBath Method = "bed_bath"
	// MethodBedroom: same bedrooms only; bathroom differences are corrected
	// later with a fixed per-half-bath adjustment.
	MethodBedroom Method = "bedroom"
	// MethodPricePerSqft: any comparable with positive price and area.
	MethodPricePerSqft Method = "price_per_sqft"
)

// Minimum sample sizes per tier. A precise tier with a thin sample is
// worse than a coarse tier with a fat one, hence the ladder.
const (
	MinExact        = 3
	MinBedBath      = 8
	MinBedroom      = 12
	MinPricePerSqft = 20
)

// amenityOverlapFloor is the minimum amenity-set overlap for the exact tier.
const amenityOverlapFloor = 0.5

// bathTolerance is the allowed bathroom-count difference for the exact and
// bed+bath tiers.
const bathTolerance = 0.5

// Pool is the selected peer group for one subject.
type Pool struct {
	Method   Method
	Listings []listing.Listing
}

// Count returns the sample size of the pool.
func (p *Pool) Count() int { return len(p.Listings) }

// MedianPrice returns the median asking price of the pool, 0 for an empty
// pool.
func (p *Pool) MedianPrice() int64 {
	return medianInt64(prices(p.Listings))
}

// MedianPricePerSqft returns the median price/sqft over pool members with
// known area.
func (p *Pool) MedianPricePerSqft() float64 {
	var ratios []float64
	for i := range p.Listings {
		l := &p.Listings[i]
		if l.Price > 0 && l.HasSqft() {
			ratios = append(ratios, float64(l.Price)/l.Sqft)
		}
	}
	return medianFloat64(ratios)
}

// AvgSqft returns the average area over pool members with known area and
// the number of members that contributed.
func (p *Pool) AvgSqft() (float64, int) {
	var sum float64
	n := 0
	for i := range p.Listings {
		if p.Listings[i].HasSqft() {
			sum += p.Listings[i].Sqft
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}

// AvgBathrooms returns the average bathroom count over pool members that
// define it.
func (p *Pool) AvgBathrooms() float64 {
	var sum float64
	n := 0
	for i := range p.Listings {
		if b := p.Listings[i].Bathrooms; b != nil {
			sum += *b
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// InsufficientError reports that no tier met its minimum sample size.
type InsufficientError struct {
	Exact        int
	BedBath      int
	Bedroom      int
	PricePerSqft int
}

func (e *InsufficientError) Error() string {
	return fmt.Sprintf("comps: insufficient comparables (exact=%d/%d bed_bath=%d/%d bedroom=%d/%d price_per_sqft=%d/%d)",
		e.Exact, MinExact, e.BedBath, MinBedBath, e.Bedroom, MinBedroom, e.PricePerSqft, MinPricePerSqft)
}

// Select picks the most precise usable peer group for subject out of the
// candidate pool. The subject itself is excluded by ID, as are candidates
// that fail the comparable invariant (positive price, defined bed/bath —
// except the price-per-sqft tier, which only needs price and area).
func Select(subject *listing.Listing, candidates []listing.Listing) (*Pool, error) {
	var exact, bedBath, bedroom, perSqft []listing.Listing

	for i := range candidates {
		c := &candidates[i]
		if c.ID == subject.ID {
			continue
		}
		if c.Price > 0 && c.HasSqft() {
			perSqft = append(perSqft, *c)
		}
		if !c.UsableAsComparable() || subject.Bedrooms == nil {
			continue
		}
		if *c.Bedrooms != *subject.Bedrooms {
			continue
		}
		bedroom = append(bedroom, *c)

		if subject.Bathrooms == nil || math.Abs(*c.Bathrooms-*subject.Bathrooms) > bathTolerance {
			continue
		}
		bedBath = append(bedBath, *c)

		// The exact tier certifies a similar amenity package, which needs
		// amenity data on both sides; unknown vs unknown is not a match.
		if subject.HasAmenities() && c.HasAmenities() &&
			listing.AmenityOverlap(subject, c) >= amenityOverlapFloor {
			exact = append(exact, *c)
		}
	}

	switch {
	case len(exact) >= MinExact:
		return &Pool{Method: MethodExact, Listings: exact}, nil
	case len(bedBath) >= MinBedBath:
		return &Pool{Method: MethodBedBath, Listings: bedBath}, nil
	case len(bedroom) >= MinBedroom:
		return &Pool{Method: MethodBedroom, Listings: bedroom}, nil
	case len(perSqft) >= MinPricePerSqft:
		return &Pool{Method: MethodPricePerSqft, Listings: perSqft}, nil
	}

	return nil, &InsufficientError{
		Exact:        len(exact),
		BedBath:      len(bedBath),
		Bedroom:      len(bedroom),
		PricePerSqft: len(perSqft),
	}
}

func prices(ls []listing.Listing) []int64 {
	out := make([]int64, 0, len(ls))
	for i := range ls {
		if ls[i].Price > 0 {
			out = append(out, ls[i].Price)
		}
	}
	return out
}

func medianInt64(vs []int64) int64 {
	if len(vs) == 0 {
		return 0
	}
	sorted := append([]int64(nil), vs...)
	slices.Sort(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func medianFloat64(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), vs...)
	slices.Sort(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
