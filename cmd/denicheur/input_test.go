package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hazyhaar/denicheur/engine"
)

// WHAT: a batch input file parses into engine batches and its embedded
// details resolve through the fetcher seam.
// WHY: run mode is driven entirely from this file.
func TestLoadInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batches.json")
	body := `{
		"batches": [{
			"neighborhood": "park slope",
			"snapshot": [{"id": "a-1", "price": 800000}],
			"pool": [{"id": "p-1", "price": 1000000, "bedrooms": 2, "bathrooms": 1}],
			"details": {
				"a-1": {"price": 800000, "bedrooms": 2, "bathrooms": 1,
					"sqft": 900, "address": "10 Test Ave", "neighborhood": "park slope"}
			}
		}]
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	batches, fetcher, err := loadInput(path)
	if err != nil {
		t.Fatalf("loadInput: %v", err)
	}
	if len(batches) != 1 || batches[0].Neighborhood != "park slope" {
		t.Fatalf("batches = %+v", batches)
	}
	if len(batches[0].Snapshot) != 1 || len(batches[0].Pool) != 1 {
		t.Errorf("batch contents = %+v", batches[0])
	}

	l, err := fetcher.FetchDetail(context.Background(), "a-1")
	if err != nil {
		t.Fatalf("FetchDetail: %v", err)
	}
	// The map key backfills a missing id field.
	if l.ID != "a-1" || l.Price != 800_000 {
		t.Errorf("detail = %+v", l)
	}

	if _, err := fetcher.FetchDetail(context.Background(), "missing"); !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("missing detail err = %v, want ErrNotFound", err)
	}
}
