// CLAUDE:SUMMARY Batch input file format for run mode plus the file-backed detail fetcher.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/hazyhaar/denicheur/cache"
	"github.com/hazyhaar/denicheur/engine"
	"github.com/hazyhaar/denicheur/listing"
)

// inputFile is the run-mode input: one element per neighborhood pass.
// The snapshot carries what a search-results page shows (ids and asking
// prices), the pool carries the comparables, and details carries the
// full payload for ids the engine decides to fetch.
type inputFile struct {
	Batches []inputBatch `json:"batches"`
}

type inputBatch struct {
	Neighborhood string                      `json:"neighborhood"`
	Snapshot     []cache.Snapshot            `json:"snapshot"`
	Pool         []listing.Listing           `json:"pool"`
	Details      map[string]*listing.Listing `json:"details"`
}

// loadInput parses the batch file and splits it into engine batches and
// a detail fetcher over the embedded payloads.
func loadInput(path string) ([]engine.Batch, engine.Fetcher, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	var in inputFile
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", path, err)
	}

	batches := make([]engine.Batch, 0, len(in.Batches))
	details := make(map[string]*listing.Listing)
	for _, b := range in.Batches {
		batches = append(batches, engine.Batch{
			Neighborhood: b.Neighborhood,
			Snapshot:     b.Snapshot,
			Pool:         b.Pool,
		})
		for id, l := range b.Details {
			if l != nil && l.ID == "" {
				l.ID = id
			}
			details[id] = l
		}
	}
	return batches, &fileFetcher{details: details}, nil
}

// fileFetcher resolves detail fetches from the input file. A production
// deployment plugs a scraping fetcher into the same seam.
type fileFetcher struct {
	details map[string]*listing.Listing
}

func (f *fileFetcher) FetchDetail(_ context.Context, id string) (*listing.Listing, error) {
	l, ok := f.details[id]
	if !ok || l == nil {
		return nil, fmt.Errorf("%w: %s", engine.ErrNotFound, id)
	}
	return l, nil
}
