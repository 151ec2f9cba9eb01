// CLAUDE:SUMMARY Confidence scoring from method precision, sample size, and subject data completeness.
package valuation

import "github.com/hazyhaar/denicheur/comps"

// Method base scores. Each sits inside the band the method deserves:
// exact 90-95, bed+bath 75-85, bedroom 65-75, fallback 45-60. Sample and
// completeness adjustments move the score within (and slightly out of)
// the band before clamping.
var methodBase = map[comps.Method]int{
	comps.MethodExact:        92,
	comps.MethodBedBath:      80,
	comps.MethodBedroom:      70,
	comps.MethodPricePerSqft: 52,
}

// Score rates the reliability of an estimate on a 0-100 scale.
//
// Sample-size adjustment: >=15 comparables +8, 10-14 none, 5-9 -5,
// fewer than 5 -10. Knowing the subject's area and amenities adds +5
// each, since both feed adjustments directly.
func Score(method comps.Method, sampleSize int, hasArea, hasAmenities bool) int {
	score, ok := methodBase[method]
	if !ok {
		return 0
	}

	switch {
	case sampleSize >= 15:
		score += 8
	case sampleSize >= 10:
		// no change
	case sampleSize >= 5:
		score -= 5
	default:
		score -= 10
	}

	if hasArea {
		score += 5
	}
	if hasAmenities {
		score += 5
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}
