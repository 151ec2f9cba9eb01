// CLAUDE:SUMMARY Table-driven keyword extraction: distress phrases, warning phrases, and amenity tags from listing text.
// Package signals scans free-text listing descriptions for seller-distress
// language, risk language, and amenity phrasing.
//
// Everything here is a pure function of the input text: fixed dictionaries,
// case-insensitive substring matching, no side effects. Keeping the tables
// in one place makes them unit-testable independent of the engine.
package signals

import "strings"

// distressPhrases indicate seller motivation, fixer-upper condition, or a
// legal status that typically precedes a below-market sale.
var distressPhrases = []string{
	"motivated seller",
	"must sell",
	"price reduced",
	"priced to sell",
	"bring all offers",
	"make an offer",
	"all offers considered",
	"estate sale",
	"probate",
	"short sale",
	"foreclosure",
	"bank owned",
	"as-is",
	"as is condition",
	"cash only",
	"cash buyers",
	"fixer",
	"needs work",
	"needs tlc",
	"handyman special",
	"investor special",
	"vacant",
	"relocating",
	"quick close",
}

// warningPhrases indicate structural, legal, or regulatory risk that an
// automated valuation must not mistake for a bargain.
var warningPhrases = []string{
	"structural",
	"foundation issue",
	"water damage",
	"flood damage",
	"mold",
	"asbestos",
	"lead paint",
	"fire damage",
	"flood zone",
	"litigation",
	"lien",
	"code violation",
	"violations",
	"illegal",
	"no certificate of occupancy",
	"certificate of occupancy issue",
	"land lease",
	"ground lease",
	"assessment pending",
	"special assessment",
	"rent stabilized tenant",
	"tenant in place",
	"sponsor no board approval",
}

// amenityPhrases maps description phrasing to normalized amenity tags.
// Structured amenity data is often absent from scraped listings, so the
// description is mined as a fallback. Phrases are matched independently;
// a generic word like "doorman" is deliberately absent because it would
// shadow the full-time/part-time distinction.
var amenityPhrases = map[string]string{
	"full-time doorman":  "doorman_full_time",
	"full time doorman":  "doorman_full_time",
	"24-hour doorman":    "doorman_full_time",
	"24 hour doorman":    "doorman_full_time",
	"24/7 doorman":       "doorman_full_time",
	"part-time doorman":  "doorman_part_time",
	"part time doorman":  "doorman_part_time",
	"virtual doorman":    "doorman_part_time",
	"elevator":           "elevator",
	"washer/dryer":       "washer_dryer",
	"washer dryer":       "washer_dryer",
	"w/d in unit":        "washer_dryer",
	"in-unit laundry":    "washer_dryer",
	"laundry in unit":    "washer_dryer",
	"dishwasher":         "dishwasher",
	"central air":        "central_air",
	"central a/c":        "central_air",
	"fitness center":     "gym",
	"gym":                "gym",
	"roof deck":          "roof_deck",
	"roofdeck":           "roof_deck",
	"rooftop":            "roof_deck",
	"balcony":            "balcony",
	"terrace":            "terrace",
	"private outdoor":    "private_outdoor",
	"garden":             "private_outdoor",
	"parking":            "parking",
	"garage":             "parking",
	"storage unit":       "storage",
	"storage available":  "storage",
	"bike room":          "bike_room",
	"live-in super":      "live_in_super",
	"live in super":      "live_in_super",
	"concierge":          "concierge",
	"pets allowed":       "pet_friendly",
	"pet friendly":       "pet_friendly",
	"fireplace":          "fireplace",
	"exposed brick":      "exposed_brick",
	"high ceilings":      "high_ceilings",
}

// Signals is the result of scanning one description.
type Signals struct {
	Distress []string // matched distress phrases
	Warnings []string // matched warning phrases
}

// Extract scans a description for distress and warning phrases. The two
// result sets are disjoint by construction of the dictionaries.
func Extract(description string) Signals {
	text := strings.ToLower(description)
	var s Signals
	for _, p := range distressPhrases {
		if strings.Contains(text, p) {
			s.Distress = append(s.Distress, p)
		}
	}
	for _, p := range warningPhrases {
		if strings.Contains(text, p) {
			s.Warnings = append(s.Warnings, p)
		}
	}
	return s
}

// ExtractAmenities mines normalized amenity tags from description phrasing.
// Each tag appears at most once regardless of how many phrases map to it.
func ExtractAmenities(description string) []string {
	text := strings.ToLower(description)
	seen := make(map[string]bool)
	var tags []string
	for phrase, tag := range amenityPhrases {
		if seen[tag] {
			continue
		}
		if strings.Contains(text, phrase) {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}
	return tags
}

// MergeAmenities unions structured amenity tags with tags mined from the
// description, preserving first-seen order.
func MergeAmenities(structured []string, description string) []string {
	seen := make(map[string]bool, len(structured))
	var out []string
	for _, t := range structured {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	for _, t := range ExtractAmenities(description) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
