// Package vectorindex implements the optional vector index of §3.5: an
// approximate-nearest-neighbour structure over per-embedder embeddings,
// keyed directly by internal docid.
package vectorindex

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"

	"github.com/aman-cerp/scribe/internal/errkind"
)

// Metric selects the distance function backing an embedder's graph.
type Metric string

const (
	MetricCosine    Metric = "cosine"
	MetricEuclidean Metric = "euclidean"
)

// Config tunes one embedder's HNSW graph.
type Config struct {
	Dimensions int
	Metric     Metric
	M          int
	EfSearch   int
}

// Result is one nearest-neighbour hit.
type Result struct {
	DocID    uint64
	Distance float32
	Score    float32
}

// Index holds one graph per embedder, since §3.5 keys the vector table
// by (embedder, internal_docid) and different embedders may use
// different dimensions/metrics.
type Index struct {
	mu     sync.RWMutex
	graphs map[string]*embedderGraph
	closed bool
}

type embedderGraph struct {
	cfg     Config
	graph   *hnsw.Graph[uint64]
	removed map[uint64]struct{}    // lazily-deleted docids, per the teacher's orphan-node workaround
	vectors map[uint64][]float32  // raw (pre-normalize) vectors, kept so Compact can rebuild without an external store
}

// New creates an empty, embedder-less index. Embedders are registered
// implicitly on first Add/EnsureEmbedder call.
func New() *Index {
	return &Index{graphs: make(map[string]*embedderGraph)}
}

// EnsureEmbedder registers an embedder's graph configuration if it does
// not already exist; a mismatched dimension on an existing embedder is
// an error, since every vector for that embedder must share one space.
func (idx *Index) EnsureEmbedder(embedder string, cfg Config) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if g, ok := idx.graphs[embedder]; ok {
		if g.cfg.Dimensions != cfg.Dimensions {
			return errkind.New(errkind.UserInput, "vector_dimension_mismatch",
				fmt.Sprintf("embedder %q already uses %d dimensions, got %d", embedder, g.cfg.Dimensions, cfg.Dimensions), nil)
		}
		return nil
	}

	idx.graphs[embedder] = newEmbedderGraph(cfg)
	return nil
}

func newEmbedderGraph(cfg Config) *embedderGraph {
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}
	if cfg.Metric == "" {
		cfg.Metric = MetricCosine
	}

	graph := hnsw.NewGraph[uint64]()
	switch cfg.Metric {
	case MetricEuclidean:
		graph.Distance = hnsw.EuclideanDistance
	default:
		graph.Distance = hnsw.CosineDistance
	}
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &embedderGraph{cfg: cfg, graph: graph, removed: make(map[uint64]struct{}), vectors: make(map[uint64][]float32)}
}

// Add inserts or replaces the embedding for docID under embedder.
// Replacement uses the teacher's lazy-deletion pattern (orphan the old
// node rather than call graph.Delete, which the teacher notes corrupts
// the graph when the last node is removed).
func (idx *Index) Add(embedder string, docID uint64, vector []float32) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return errkind.New(errkind.Inconsistency, "vector_index_closed", "vector index is closed", nil)
	}

	g, ok := idx.graphs[embedder]
	if !ok {
		return errkind.New(errkind.UserInput, "unknown_embedder", fmt.Sprintf("embedder %q not registered", embedder), nil)
	}
	if len(vector) != g.cfg.Dimensions {
		return errkind.New(errkind.UserInput, "vector_dimension_mismatch",
			fmt.Sprintf("embedder %q expects %d dimensions, got %d", embedder, g.cfg.Dimensions, len(vector)), nil)
	}

	delete(g.removed, docID)

	raw := make([]float32, len(vector))
	copy(raw, vector)
	g.vectors[docID] = raw

	vec := make([]float32, len(vector))
	copy(vec, vector)
	if g.cfg.Metric == MetricCosine {
		normalize(vec)
	}

	g.graph.Add(hnsw.MakeNode(docID, vec))
	return nil
}

// Remove lazily deletes docID's embedding under embedder. The node stays
// in the graph as an orphan until Compact rebuilds it.
func (idx *Index) Remove(embedder string, docID uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if g, ok := idx.graphs[embedder]; ok {
		g.removed[docID] = struct{}{}
		delete(g.vectors, docID)
	}
}

// Stats reports one embedder's graph occupancy for compaction decisions
// (§4.6): GraphNodes includes orphans, Orphans is the lazily-removed count.
type Stats struct {
	GraphNodes int
	Orphans    int
}

func (idx *Index) Stats(embedder string) Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	g, ok := idx.graphs[embedder]
	if !ok {
		return Stats{}
	}
	return Stats{GraphNodes: g.graph.Len(), Orphans: len(g.removed)}
}

// OrphanRatio returns Orphans/GraphNodes for embedder, or 0 if its graph
// is empty.
func (idx *Index) OrphanRatio(embedder string) float64 {
	s := idx.Stats(embedder)
	if s.GraphNodes == 0 {
		return 0
	}
	return float64(s.Orphans) / float64(s.GraphNodes)
}

// Compact rebuilds embedder's graph from its live vectors, discarding
// lazily-removed nodes, mirroring the teacher's background compaction
// that replaces the whole HNSW store rather than mutate one in place
// (graph.Delete is unsafe on the last remaining node). Compact only
// sees vectors added since the index was constructed or Load-ed, since
// Save/Load persists the HNSW graph itself, not the raw vectors;
// while the cache holds fewer vectors than the graph has live nodes
// (as right after Load), Compact is a no-op and leaves the graph as it
// is.

func (idx *Index) Compact(embedder string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	g, ok := idx.graphs[embedder]
	if !ok {
		return errkind.New(errkind.UserInput, "unknown_embedder", fmt.Sprintf("embedder %q not registered", embedder), nil)
	}
	if len(g.vectors) < g.graph.Len()-len(g.removed) {
		return nil
	}

	fresh := newEmbedderGraph(g.cfg)
	for docID, vec := range g.vectors {
		if _, dead := g.removed[docID]; dead {
			continue
		}
		raw := make([]float32, len(vec))
		copy(raw, vec)
		fresh.vectors[docID] = raw

		normalized := make([]float32, len(vec))
		copy(normalized, vec)
		if fresh.cfg.Metric == MetricCosine {
			normalize(normalized)
		}
		fresh.graph.Add(hnsw.MakeNode(docID, normalized))
	}

	idx.graphs[embedder] = fresh
	return nil
}

// Embedders lists every embedder currently registered, for callers
// like the daemon's compaction manager that need to sweep every graph
// an index holds without knowing their names up front.
func (idx *Index) Embedders() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	names := make([]string, 0, len(idx.graphs))
	for name := range idx.graphs {
		names = append(names, name)
	}
	return names
}

// Search returns the k nearest docids to query under embedder.
func (idx *Index) Search(embedder string, query []float32, k int) ([]Result, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.closed {
		return nil, errkind.New(errkind.Inconsistency, "vector_index_closed", "vector index is closed", nil)
	}

	g, ok := idx.graphs[embedder]
	if !ok {
		return nil, errkind.New(errkind.UserInput, "unknown_embedder", fmt.Sprintf("embedder %q not registered", embedder), nil)
	}
	if len(query) != g.cfg.Dimensions {
		return nil, errkind.New(errkind.UserInput, "vector_dimension_mismatch",
			fmt.Sprintf("embedder %q expects %d dimensions, got %d", embedder, g.cfg.Dimensions, len(query)), nil)
	}
	if g.graph.Len() == 0 {
		return nil, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	if g.cfg.Metric == MetricCosine {
		normalize(q)
	}

	// Over-fetch to absorb lazily-removed nodes still present in the graph.
	nodes := g.graph.Search(q, k+len(g.removed))

	results := make([]Result, 0, k)
	for _, node := range nodes {
		if _, dead := g.removed[node.Key]; dead {
			continue
		}
		distance := g.graph.Distance(q, node.Value)
		results = append(results, Result{
			DocID:    node.Key,
			Distance: distance,
			Score:    distanceToScore(distance, g.cfg.Metric),
		})
		if len(results) == k {
			break
		}
	}
	return results, nil
}

// Count returns the number of live (non-removed) vectors for embedder.
func (idx *Index) Count(embedder string) int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	g, ok := idx.graphs[embedder]
	if !ok {
		return 0
	}
	return g.graph.Len() - len(g.removed)
}

type snapshotMeta struct {
	Embedders map[string]Config
	Removed   map[string]map[uint64]struct{}
}

// Save persists every embedder's graph under dir, one file per
// embedder plus a shared metadata file, using atomic temp-file-then-
// rename the way the teacher's HNSWStore.Save does.
func (idx *Index) Save(dir string) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errkind.New(errkind.Transient, "vector_index_save_failed", "failed to create vector index directory", err)
	}

	meta := snapshotMeta{Embedders: make(map[string]Config), Removed: make(map[string]map[uint64]struct{})}
	for embedder, g := range idx.graphs {
		meta.Embedders[embedder] = g.cfg
		meta.Removed[embedder] = g.removed

		path := filepath.Join(dir, embedder+".hnsw")
		tmp := path + ".tmp"
		f, err := os.Create(tmp)
		if err != nil {
			return errkind.New(errkind.Transient, "vector_index_save_failed", "failed to create graph file", err)
		}
		if err := g.graph.Export(f); err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
			return errkind.New(errkind.Inconsistency, "vector_index_save_failed", "failed to export graph", err)
		}
		if err := f.Close(); err != nil {
			_ = os.Remove(tmp)
			return errkind.New(errkind.Transient, "vector_index_save_failed", "failed to close graph file", err)
		}
		if err := os.Rename(tmp, path); err != nil {
			_ = os.Remove(tmp)
			return errkind.New(errkind.Transient, "vector_index_save_failed", "failed to finalize graph file", err)
		}
	}

	return saveMetadata(filepath.Join(dir, "meta.gob"), meta)
}

// Load restores an Index previously written by Save.
func Load(dir string) (*Index, error) {
	meta, err := loadMetadata(filepath.Join(dir, "meta.gob"))
	if err != nil {
		return nil, err
	}

	idx := New()
	for embedder, cfg := range meta.Embedders {
		g := newEmbedderGraph(cfg)
		if removed, ok := meta.Removed[embedder]; ok {
			g.removed = removed
		}

		path := filepath.Join(dir, embedder+".hnsw")
		f, err := os.Open(path)
		if err != nil {
			return nil, errkind.New(errkind.Inconsistency, "vector_index_load_failed", "failed to open graph file", err)
		}
		if err := g.graph.Import(bufio.NewReader(f)); err != nil {
			_ = f.Close()
			return nil, errkind.New(errkind.Inconsistency, "vector_index_load_failed", "failed to import graph", err)
		}
		if err := f.Close(); err != nil {
			return nil, errkind.New(errkind.Transient, "vector_index_load_failed", "failed to close graph file", err)
		}

		idx.graphs[embedder] = g
	}
	return idx, nil
}

func saveMetadata(path string, meta snapshotMeta) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errkind.New(errkind.Transient, "vector_index_save_failed", "failed to create metadata file", err)
	}
	if err := gob.NewEncoder(f).Encode(meta); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return errkind.New(errkind.Inconsistency, "vector_index_save_failed", "failed to encode metadata", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return errkind.New(errkind.Transient, "vector_index_save_failed", "failed to close metadata file", err)
	}
	return os.Rename(tmp, path)
}

func loadMetadata(path string) (snapshotMeta, error) {
	var meta snapshotMeta
	f, err := os.Open(path)
	if err != nil {
		return meta, errkind.New(errkind.Inconsistency, "vector_index_load_failed", "failed to open metadata file", err)
	}
	defer f.Close()
	if err := gob.NewDecoder(f).Decode(&meta); err != nil {
		return meta, errkind.New(errkind.Inconsistency, "vector_index_load_failed", "failed to decode metadata", err)
	}
	return meta, nil
}

// Close releases every embedder's graph.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.closed = true
	idx.graphs = nil
	return nil
}

func normalize(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

func distanceToScore(distance float32, metric Metric) float32 {
	switch metric {
	case MetricEuclidean:
		return 1.0 / (1.0 + distance)
	default:
		return 1.0 - distance/2.0
	}
}
