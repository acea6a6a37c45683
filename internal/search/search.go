// Package search implements the ranking engine of §4.4 (C4): it builds
// a query tree of word variants over an index's words FST, refines a
// candidate document set through a nested sequence of ranking rules
// (Words, Typo, Proximity, Attribute, Sort, Exactness), and optionally
// blends the result with a vector-similarity search via Reciprocal
// Rank Fusion. It opens read-only transactions over C3's storage and
// never writes to it.
package search

import (
	"go.etcd.io/bbolt"

	"github.com/aman-cerp/scribe/internal/docstore"
	"github.com/aman-cerp/scribe/internal/facet"
	"github.com/aman-cerp/scribe/internal/fstset"
	"github.com/aman-cerp/scribe/internal/kv"
	"github.com/aman-cerp/scribe/internal/vectorindex"
)

// ProximityCapDistance resolves §9's open question: pair distances at
// or above this many words collapse into a single worst Proximity
// bucket, and extraction (internal/pipeline) does not bother recording
// word-pair postings further apart than this.
const ProximityCapDistance = 8

// SynonymTypoCost resolves §9's other open question: a query word
// matched only via a synonym (never literally present, so not
// reachable by edit-distance) is charged this typo cost in the Typo
// ranking rule. Split/concatenation alternatives are not ranked and
// carry no cost.
const SynonymTypoCost = 1

// IndexHandle is the read-side view of one pipeline.Index that
// internal/search needs. It is a plain struct of accessors rather than
// an interface so that internal/pipeline need not depend on this
// package merely to satisfy one: the caller wiring a pipeline.Index
// into an Engine (internal/daemon) builds one of these directly from the
// index's exported fields and methods.
type IndexHandle struct {
	Store     *kv.Store
	Docs      *docstore.Store
	Fields    *docstore.FieldsMap
	Vectors   *vectorindex.Index
	Words     func() *fstset.Set
	FacetTree func(fieldID uint32) *facet.Tree
	Settings  func() IndexSettings
}

// IndexSettings is the subset of pipeline.Settings the ranking rules
// read: searchable-attribute priority order drives the Attribute rule.
// Typo-length thresholds are not part of it; they come from Config.
type IndexSettings struct {
	SearchableAttributes []string
	FilterableAttributes []string
}

// view runs fn inside a read-only transaction over h's store, the
// shape every rule and the engine itself uses to read postings.
func (h IndexHandle) view(fn func(tx *bbolt.Tx) error) error {
	return h.Store.View(fn)
}
