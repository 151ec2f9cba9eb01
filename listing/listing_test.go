package listing

import "testing"

func TestUsableAsComparable(t *testing.T) {
	// WHAT: A comparable needs positive price and defined bed/bath counts.
	// WHY: The selector must never admit half-populated rows into a pool.
	ok := Listing{ID: "a", Price: 500000, Bedrooms: IntPtr(1), Bathrooms: FloatPtr(1)}
	if !ok.UsableAsComparable() {
		t.Error("fully populated listing should be usable")
	}

	cases := []Listing{
		{ID: "no-price", Bedrooms: IntPtr(1), Bathrooms: FloatPtr(1)},
		{ID: "neg-price", Price: -1, Bedrooms: IntPtr(1), Bathrooms: FloatPtr(1)},
		{ID: "no-beds", Price: 500000, Bathrooms: FloatPtr(1)},
		{ID: "no-baths", Price: 500000, Bedrooms: IntPtr(1)},
	}
	for _, c := range cases {
		if c.UsableAsComparable() {
			t.Errorf("%s should not be usable", c.ID)
		}
	}
}

func TestSizeBracket(t *testing.T) {
	// WHAT: Bedroom counts map to studio/1BR/2BR/3BR+ brackets.
	// WHY: Size adjustment rates are bracket-specific.
	cases := []struct {
		beds *int
		want Bracket
	}{
		{nil, BracketStudio},
		{IntPtr(0), BracketStudio},
		{IntPtr(1), BracketOneBed},
		{IntPtr(2), BracketTwoBed},
		{IntPtr(3), BracketThreePlus},
		{IntPtr(6), BracketThreePlus},
	}
	for _, c := range cases {
		l := Listing{Bedrooms: c.beds}
		if got := l.SizeBracket(); got != c.want {
			t.Errorf("beds=%v: got %v, want %v", c.beds, got, c.want)
		}
	}
}

func TestIsManhattan(t *testing.T) {
	// WHAT: Manhattan classification by borough string or neighborhood substring.
	// WHY: Amenity dollar values differ between Manhattan and outer boroughs.
	yes := []Listing{
		{Borough: "Manhattan"},
		{Borough: " manhattan "},
		{Neighborhood: "Upper East Side"},
		{Neighborhood: "West Village"},
		{Neighborhood: "South Harlem"},
	}
	for _, l := range yes {
		if !l.IsManhattan() {
			t.Errorf("%q/%q should be Manhattan", l.Borough, l.Neighborhood)
		}
	}

	no := []Listing{
		{Borough: "Brooklyn", Neighborhood: "Park Slope"},
		{Borough: "Queens", Neighborhood: "Astoria"},
		{Neighborhood: "Williamsburg"},
	}
	for _, l := range no {
		if l.IsManhattan() {
			t.Errorf("%q/%q should not be Manhattan", l.Borough, l.Neighborhood)
		}
	}
}

func TestAmenityOverlap(t *testing.T) {
	// WHAT: Overlap is shared tags over the union of tags.
	// WHY: The exact comparable tier gates on >= 50% overlap.
	a := Listing{Amenities: []string{"doorman_full_time", "elevator", "gym"}}
	b := Listing{Amenities: []string{"elevator", "gym", "roof_deck"}}
	got := AmenityOverlap(&a, &b)
	want := 2.0 / 4.0
	if got != want {
		t.Errorf("overlap: got %v, want %v", got, want)
	}

	// Both empty: treated as identical.
	if AmenityOverlap(&Listing{}, &Listing{}) != 1 {
		t.Error("two empty sets should overlap fully")
	}

	// Disjoint sets.
	c := Listing{Amenities: []string{"balcony"}}
	if AmenityOverlap(&a, &c) != 0 {
		t.Error("disjoint sets should have zero overlap")
	}
}
