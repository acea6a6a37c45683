package search

import (
	"context"
	"sort"
)

// FederatedSource names one index participating in a federated query
// (§4.4.6), paired with the Engine that serves it.
type FederatedSource struct {
	Index  string
	Engine *Engine
}

// Federator runs one query across multiple indexes and merges the
// per-index hit lists into a single ranked list, grounded on the
// teacher's multi-index merge (search/multi_query.go, multi_fusion.go):
// each source's hits already carry a normalized RRF score from its own
// Engine.Search, so federation itself is a merge-sort by that score
// rather than a second fusion pass. Sources carry no per-index weight.
type Federator struct {
	Sources []FederatedSource
}

// NewFederator builds a Federator over sources.
func NewFederator(sources ...FederatedSource) *Federator {
	return &Federator{Sources: sources}
}

// FederatedHit is one Hit plus the index it came from, §4.4.6/Scenario
// S5's requirement that a federated result be attributable to its
// source index.
type FederatedHit struct {
	Hit
	Index string
}

// Search runs q against every source concurrently and merges results
// by descending score, breaking ties by source index name (ascending)
// the way the teacher's multi_fusion.go orders ties deterministically
// rather than by arrival order.
func (fed *Federator) Search(ctx context.Context, q Query) ([]FederatedHit, bool, error) {
	type partial struct {
		index  string
		result *Result
		err    error
	}

	results := make([]partial, len(fed.Sources))
	done := make(chan struct{}, len(fed.Sources))

	for i, src := range fed.Sources {
		go func(i int, src FederatedSource) {
			defer func() { done <- struct{}{} }()
			res, err := src.Engine.Search(ctx, q)
			results[i] = partial{index: src.Index, result: res, err: err}
		}(i, src)
	}
	for range fed.Sources {
		<-done
	}

	var merged []FederatedHit
	degraded := false
	for _, p := range results {
		if p.err != nil {
			return nil, false, p.err
		}
		if p.result.Degraded {
			degraded = true
		}
		for _, h := range p.result.Hits {
			merged = append(merged, FederatedHit{Hit: h, Index: p.index})
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].Index < merged[j].Index
	})

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultConfig().DefaultLimit
	}
	if q.Offset < len(merged) {
		merged = merged[q.Offset:]
	} else {
		merged = nil
	}
	if limit < len(merged) {
		merged = merged[:limit]
	}

	return merged, degraded, nil
}
