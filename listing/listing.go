// CLAUDE:SUMMARY Core Listing type, comparable eligibility, bedroom brackets, and Manhattan classification.
// Package listing defines the property listing model shared by the
// comparable selector, the adjustment model, and the freshness cache.
package listing

import (
	"strings"
	"time"
)

// Listing is one property as observed from an external source. It serves
// both as the subject of a valuation and as a comparable for other subjects.
type Listing struct {
	ID           string   `json:"id"`
	Price        int64    `json:"price"` // whole currency units
	Bedrooms     *int     `json:"bedrooms"`
	Bathrooms    *float64 `json:"bathrooms"` // 0.5 increments
	Sqft         float64  `json:"sqft"`      // 0 = unknown
	Address      string   `json:"address"`
	Neighborhood string   `json:"neighborhood"`
	Borough      string   `json:"borough"`
	Amenities    []string `json:"amenities"` // normalized tags
	Description  string   `json:"description"`
	DaysOnMarket int      `json:"days_on_market"`
	ListedAt     time.Time `json:"listed_at"`
}

// UsableAsComparable reports whether the listing carries the minimum data
// to serve as a market reference point: positive price and defined
// bedroom/bathroom counts.
func (l *Listing) UsableAsComparable() bool {
	return l.Price > 0 && l.Bedrooms != nil && l.Bathrooms != nil
}

// HasSqft reports whether a positive floor area is known.
func (l *Listing) HasSqft() bool { return l.Sqft > 0 }

// HasAmenities reports whether any normalized amenity tags are known.
func (l *Listing) HasAmenities() bool { return len(l.Amenities) > 0 }

// Bracket is a coarse unit-size class used by the size adjustment, which
// expects different per-sqft baselines for studios vs. family units.
type Bracket int

const (
	BracketStudio Bracket = iota
	BracketOneBed
	BracketTwoBed
	BracketThreePlus
)

// SizeBracket classifies a listing by bedroom count. Listings with unknown
// bedrooms fall into the studio bracket, the most conservative one.
func (l *Listing) SizeBracket() Bracket {
	if l.Bedrooms == nil {
		return BracketStudio
	}
	switch {
	case *l.Bedrooms <= 0:
		return BracketStudio
	case *l.Bedrooms == 1:
		return BracketOneBed
	case *l.Bedrooms == 2:
		return BracketTwoBed
	default:
		return BracketThreePlus
	}
}

// manhattanNeighborhoods are substrings that identify a Manhattan listing
// when the borough field is absent or unreliable. Matching is
// case-insensitive substring search on the neighborhood name.
var manhattanNeighborhoods = []string{
	"manhattan",
	"midtown",
	"soho",
	"tribeca",
	"chelsea",
	"chinatown",
	"east village",
	"west village",
	"greenwich village",
	"lower east side",
	"upper east side",
	"upper west side",
	"financial district",
	"gramercy",
	"murray hill",
	"hell's kitchen",
	"harlem",
	"washington heights",
	"inwood",
	"kips bay",
	"nolita",
	"flatiron",
}

// IsManhattan reports whether the listing sits in Manhattan, decided first
// by the borough string and then by the neighborhood-name table. The
// amenity value tables carry distinct Manhattan vs. outer-borough figures,
// so this classification feeds directly into the adjustment model.
func (l *Listing) IsManhattan() bool {
	if strings.EqualFold(strings.TrimSpace(l.Borough), "manhattan") {
		return true
	}
	n := strings.ToLower(l.Neighborhood)
	for _, sub := range manhattanNeighborhoods {
		if strings.Contains(n, sub) {
			return true
		}
	}
	return false
}

// AmenitySet returns the amenities as a set for overlap computations.
func (l *Listing) AmenitySet() map[string]bool {
	set := make(map[string]bool, len(l.Amenities))
	for _, a := range l.Amenities {
		set[a] = true
	}
	return set
}

// AmenityOverlap computes the share of the union of two amenity sets that
// both listings carry. Two empty sets overlap fully (vacuously identical).
func AmenityOverlap(a, b *Listing) float64 {
	as, bs := a.AmenitySet(), b.AmenitySet()
	if len(as) == 0 && len(bs) == 0 {
		return 1
	}
	union := make(map[string]bool, len(as)+len(bs))
	both := 0
	for t := range as {
		union[t] = true
	}
	for t := range bs {
		union[t] = true
	}
	for t := range as {
		if bs[t] {
			both++
		}
	}
	return float64(both) / float64(len(union))
}

// IntPtr and FloatPtr are small helpers for building listings from scanned
// rows and in tests.
func IntPtr(v int) *int           { return &v }
func FloatPtr(v float64) *float64 { return &v }
