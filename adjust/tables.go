// CLAUDE:SUMMARY Versioned adjustment value tables: amenity dollar/percent values per region, size rates per bracket, condition and micro-location phrases.
package adjust

import "github.com/hazyhaar/denicheur/listing"

// The adjustment model runs off one versioned table structure, loaded once
// and shared with reporting code. Defaults below reflect the NYC sales
// market; deployments override them in YAML without touching code.

// ValueType selects how an amenity value is expressed.
type ValueType string

const (
	// Fixed is a flat dollar amount.
	Fixed ValueType = "fixed"
	// Percent is a percentage of the pool-derived base value.
	Percent ValueType = "percent"
)

// Value is one amenity's worth in one region.
type Value struct {
	Type  ValueType `yaml:"type"`
	Value float64   `yaml:"value"` // dollars for Fixed, 0-100 for Percent
}

// RegionValues carries distinct values for Manhattan and the outer boroughs.
// The same doorman is worth more where carrying costs are higher.
type RegionValues struct {
	Manhattan Value `yaml:"manhattan"`
	Outer     Value `yaml:"outer"`
}

// SizeRate is the per-sqft dollar rate applied to the difference between
// subject area and pool-average area. Space above the bracket's expectation
// is worth less per foot than the first feet below it.
type SizeRate struct {
	AbovePerSqft float64 `yaml:"above_per_sqft"`
	BelowPerSqft float64 `yaml:"below_per_sqft"`
}

// SizeRates holds one rate pair per bedroom bracket.
type SizeRates struct {
	Studio    SizeRate `yaml:"studio"`
	OneBed    SizeRate `yaml:"one_bed"`
	TwoBed    SizeRate `yaml:"two_bed"`
	ThreePlus SizeRate `yaml:"three_plus"`
}

// PhraseValue maps a description phrase to a fixed dollar adjustment.
type PhraseValue struct {
	Phrase string `yaml:"phrase"`
	Amount int64  `yaml:"amount"`
}

// Tables is the complete adjustment configuration.
type Tables struct {
	Version string `yaml:"version"`

	// PerHalfBath corrects bathroom-count differences on the bedroom tier.
	PerHalfBath int64 `yaml:"per_half_bath"`

	Amenities map[string]RegionValues `yaml:"amenities"`
	SizeRates SizeRates               `yaml:"size_rates"`

	Condition     []PhraseValue `yaml:"condition"`
	MicroLocation []PhraseValue `yaml:"micro_location"`
}

// DefaultTables returns the built-in adjustment tables.
func DefaultTables() *Tables {
	return &Tables{
		Version:     "2025.1",
		PerHalfBath: 12500,
		Amenities: map[string]RegionValues{
			"doorman_full_time": {
				Manhattan: Value{Fixed, 75000},
				Outer:     Value{Fixed, 40000},
			},
			"doorman_part_time": {
				Manhattan: Value{Fixed, 35000},
				Outer:     Value{Fixed, 20000},
			},
			"concierge": {
				Manhattan: Value{Fixed, 30000},
				Outer:     Value{Fixed, 15000},
			},
			"elevator": {
				Manhattan: Value{Percent, 2},
				Outer:     Value{Fixed, 15000},
			},
			"washer_dryer": {
				Manhattan: Value{Fixed, 30000},
				Outer:     Value{Fixed, 18000},
			},
			"dishwasher": {
				Manhattan: Value{Fixed, 8000},
				Outer:     Value{Fixed, 5000},
			},
			"central_air": {
				Manhattan: Value{Fixed, 20000},
				Outer:     Value{Fixed, 12000},
			},
			"gym": {
				Manhattan: Value{Fixed, 20000},
				Outer:     Value{Fixed, 10000},
			},
			"roof_deck": {
				Manhattan: Value{Fixed, 18000},
				Outer:     Value{Fixed, 10000},
			},
			"balcony": {
				Manhattan: Value{Percent, 3},
				Outer:     Value{Fixed, 20000},
			},
			"terrace": {
				Manhattan: Value{Percent, 5},
				Outer:     Value{Fixed, 30000},
			},
			"private_outdoor": {
				Manhattan: Value{Percent, 4},
				Outer:     Value{Fixed, 25000},
			},
			"parking": {
				Manhattan: Value{Fixed, 100000},
				Outer:     Value{Fixed, 35000},
			},
			"storage": {
				Manhattan: Value{Fixed, 15000},
				Outer:     Value{Fixed, 8000},
			},
			"bike_room": {
				Manhattan: Value{Fixed, 4000},
				Outer:     Value{Fixed, 2500},
			},
			"live_in_super": {
				Manhattan: Value{Fixed, 10000},
				Outer:     Value{Fixed, 6000},
			},
			"pet_friendly": {
				Manhattan: Value{Fixed, 5000},
				Outer:     Value{Fixed, 3000},
			},
			"fireplace": {
				Manhattan: Value{Fixed, 12000},
				Outer:     Value{Fixed, 8000},
			},
			"high_ceilings": {
				Manhattan: Value{Fixed, 15000},
				Outer:     Value{Fixed, 8000},
			},
			"exposed_brick": {
				Manhattan: Value{Fixed, 5000},
				Outer:     Value{Fixed, 3000},
			},
		},
		SizeRates: SizeRates{
			Studio:    SizeRate{AbovePerSqft: 450, BelowPerSqft: 600},
			OneBed:    SizeRate{AbovePerSqft: 500, BelowPerSqft: 650},
			TwoBed:    SizeRate{AbovePerSqft: 550, BelowPerSqft: 700},
			ThreePlus: SizeRate{AbovePerSqft: 600, BelowPerSqft: 750},
		},
		Condition: []PhraseValue{
			{Phrase: "gut renovated", Amount: 50000},
			{Phrase: "newly renovated", Amount: 35000},
			{Phrase: "fully renovated", Amount: 35000},
			{Phrase: "new kitchen", Amount: 15000},
			{Phrase: "new bathroom", Amount: 10000},
			{Phrase: "mint condition", Amount: 25000},
			{Phrase: "triple mint", Amount: 40000},
			{Phrase: "needs work", Amount: -40000},
			{Phrase: "needs updating", Amount: -25000},
			{Phrase: "needs tlc", Amount: -25000},
			{Phrase: "as-is", Amount: -35000},
			{Phrase: "fixer", Amount: -30000},
			{Phrase: "handyman special", Amount: -45000},
			{Phrase: "estate condition", Amount: -30000},
			{Phrase: "original condition", Amount: -20000},
			{Phrase: "bring your architect", Amount: -35000},
		},
		MicroLocation: []PhraseValue{
			{Phrase: "quiet block", Amount: 10000},
			{Phrase: "quiet street", Amount: 10000},
			{Phrase: "tree-lined", Amount: 10000},
			{Phrase: "tree lined", Amount: 10000},
			{Phrase: "park block", Amount: 15000},
			{Phrase: "steps from the park", Amount: 12000},
			{Phrase: "busy street", Amount: -10000},
			{Phrase: "busy intersection", Amount: -12000},
			{Phrase: "noisy", Amount: -12000},
			{Phrase: "above a bar", Amount: -15000},
			{Phrase: "above a restaurant", Amount: -10000},
			{Phrase: "ground floor unit", Amount: -15000},
			{Phrase: "ground-floor unit", Amount: -15000},
			{Phrase: "street-level unit", Amount: -15000},
		},
	}
}

// Rate returns the size rate pair for a bedroom bracket.
func (s *SizeRates) Rate(b listing.Bracket) SizeRate {
	switch b {
	case listing.BracketOneBed:
		return s.OneBed
	case listing.BracketTwoBed:
		return s.TwoBed
	case listing.BracketThreePlus:
		return s.ThreePlus
	default:
		return s.Studio
	}
}
