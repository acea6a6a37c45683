package search

import (
	"context"
	"sort"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"go.etcd.io/bbolt"

	"github.com/aman-cerp/scribe/internal/docstore"
	"github.com/aman-cerp/scribe/internal/errkind"
	"github.com/aman-cerp/scribe/internal/fstset"
)

// Config configures an Engine, grounded on the teacher's EngineConfig
// (search/types.go) but trimmed to the fields this engine actually
// reads: RRFConstant/SearchTimeout carry over unchanged meaning,
// DefaultWeights becomes the semantic_ratio default.
type Config struct {
	DefaultLimit    int
	MaxLimit        int
	RRFConstant     int
	SemanticRatio   float64 // 0 = keyword-only, 1 = vector-only, default blend otherwise
	SearchTimeout   time.Duration
	MinWordLenTypo1 int
	MinWordLenTypo2 int
}

// DefaultConfig mirrors the teacher's DefaultConfig (search/types.go),
// adjusted for this engine's field names.
func DefaultConfig() Config {
	return Config{
		DefaultLimit:    10,
		MaxLimit:        100,
		RRFConstant:     DefaultRRFConstant,
		SemanticRatio:   0.5,
		SearchTimeout:   5 * time.Second,
		MinWordLenTypo1: 5,
		MinWordLenTypo2: 9,
	}
}

// Query is one search request (§4.4.1/§4.4.4).
type Query struct {
	Text          string
	Limit         int
	Offset        int
	Strategy      MatchingStrategy
	SortField     string
	SortDesc      bool
	Filters       map[string]string // equality filters over filterable attributes, ANDed
	SemanticRatio *float64          // overrides Config.SemanticRatio when set
	Embedder      string            // required when SemanticRatio > 0
	Vector        []float32         // query embedding, required when SemanticRatio > 0
}

// Hit is one ranked result.
type Hit struct {
	DocID        uint64
	ExternalID   string
	Document     docstore.Document
	Score        float64
	FromVector   bool
	VectorScore  float32
	KeywordScore int
}

// Result is a completed search, including the degraded flag of §4.4.5:
// a query that ran out of time budget returns its best-effort ranking
// so far with Degraded=true instead of an error, per §7's rule that
// Degraded is a result flag, never an error value.
type Result struct {
	Hits     []Hit
	Total    int
	Degraded bool
	Elapsed  time.Duration
}

// Engine runs queries against one IndexHandle (§4.4).
type Engine struct {
	Handle IndexHandle
	Config Config
	Rules  []RankingRule // nil uses DefaultRules(q.SortField, q.SortDesc) per query
}

// NewEngine builds an Engine over handle with cfg (zero-value cfg
// resolves to DefaultConfig's values where a field is zero).
func NewEngine(handle IndexHandle, cfg Config) *Engine {
	if cfg.DefaultLimit == 0 {
		cfg.DefaultLimit = DefaultConfig().DefaultLimit
	}
	if cfg.MaxLimit == 0 {
		cfg.MaxLimit = DefaultConfig().MaxLimit
	}
	if cfg.RRFConstant == 0 {
		cfg.RRFConstant = DefaultRRFConstant
	}
	if cfg.SearchTimeout == 0 {
		cfg.SearchTimeout = DefaultConfig().SearchTimeout
	}
	if cfg.MinWordLenTypo1 == 0 {
		cfg.MinWordLenTypo1 = DefaultConfig().MinWordLenTypo1
	}
	if cfg.MinWordLenTypo2 == 0 {
		cfg.MinWordLenTypo2 = DefaultConfig().MinWordLenTypo2
	}
	return &Engine{Handle: handle, Config: cfg}
}

// Search runs q to completion or until ctx's deadline / e.Config.SearchTimeout
// elapses, whichever comes first (§4.4.5).
func (e *Engine) Search(ctx context.Context, q Query) (*Result, error) {
	start := time.Now()
	if q.Limit <= 0 {
		q.Limit = e.Config.DefaultLimit
	}
	if q.Limit > e.Config.MaxLimit {
		q.Limit = e.Config.MaxLimit
	}

	ctx, cancel := context.WithTimeout(ctx, e.Config.SearchTimeout)
	defer cancel()

	var ranked []rankedDoc
	var degraded bool

	err := e.Handle.view(func(tx *bbolt.Tx) error {
		universe, err := e.universe(tx, q)
		if err != nil {
			return err
		}

		var words *fstset.Set
		if e.Handle.Words != nil {
			words = e.Handle.Words()
		}
		qt, err := BuildQueryTree(words, q.Text, e.Config.MinWordLenTypo1, e.Config.MinWordLenTypo2, q.Strategy)
		if err != nil {
			return err
		}

		rules := e.Rules
		if rules == nil {
			rules = DefaultRules(q.SortField, q.SortDesc)
		}

		ranked, degraded, err = evalRules(ctx, tx, e.Handle, qt, universe, rules)
		return err
	})
	if err != nil {
		return nil, err
	}

	hits, err := e.fuseAndMaterialize(ctx, q, ranked)
	if err != nil {
		return nil, err
	}

	total := len(hits)
	lo, hi := q.Offset, q.Offset+q.Limit
	if lo > len(hits) {
		lo = len(hits)
	}
	if hi > len(hits) {
		hi = len(hits)
	}

	return &Result{
		Hits:     hits[lo:hi],
		Total:    total,
		Degraded: degraded,
		Elapsed:  time.Since(start),
	}, nil
}

// universe computes the starting document set for q: every live
// document, narrowed by q.Filters (equality over filterable
// attributes, read from the facet tree, ANDed together per §4.4.1).
func (e *Engine) universe(tx *bbolt.Tx, q Query) (*roaring.Bitmap, error) {
	all, err := docstore.AllDocIDs(tx)
	if err != nil {
		return nil, err
	}

	for field, value := range q.Filters {
		fieldID, err := e.Handle.Fields.FieldID(tx, field)
		if err != nil {
			return nil, err
		}
		tree := e.Handle.FacetTree(fieldID)
		bm, err := tree.Exact(tx, []byte(value))
		if err != nil {
			return nil, err
		}
		all.And(bm)
	}
	return all, nil
}

// rankedDoc is one document plus the rule-bucket path that produced
// its position, the raw material for scoring (§4.4.3's rule order IS
// the score: earlier rules dominate, later rules break ties).
type rankedDoc struct {
	docID uint64
	path  []int
}

// evalRules recursively refines universe through rules in order,
// implementing the engine side of the iter protocol (§4.4.3 DESIGN
// NOTES): for each bucket a rule yields, the next rule runs only over
// that bucket, and its own buckets are appended to the path in turn.
// Buckets are walked depth-first so that full-path documents are
// collected in final rank order with no extra sort needed at the end.
func evalRules(ctx context.Context, tx *bbolt.Tx, h IndexHandle, qt *QueryTree, universe *roaring.Bitmap, rules []RankingRule) ([]rankedDoc, bool, error) {
	var out []rankedDoc
	degraded := false

	var recurse func(bm *roaring.Bitmap, path []int, depth int) error
	recurse = func(bm *roaring.Bitmap, path []int, depth int) error {
		select {
		case <-ctx.Done():
			degraded = true
			appendLeaf(&out, bm, path)
			return nil
		default:
		}

		if bm.IsEmpty() {
			return nil
		}
		if depth == len(rules) {
			appendLeaf(&out, bm, path)
			return nil
		}

		rule := rules[depth]
		if err := rule.Start(tx, h, qt, bm); err != nil {
			return err
		}
		defer rule.End()

		bucketIdx := 0
		for {
			bucket, ok, err := rule.NextBucket()
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			if err := recurse(bucket, append(append([]int{}, path...), bucketIdx), depth+1); err != nil {
				return err
			}
			bucketIdx++

			select {
			case <-ctx.Done():
				degraded = true
				return nil
			default:
			}
		}
	}

	if err := recurse(universe, nil, 0); err != nil {
		return nil, false, err
	}
	return out, degraded, nil
}

func appendLeaf(out *[]rankedDoc, bm *roaring.Bitmap, path []int) {
	it := bm.Iterator()
	for it.HasNext() {
		*out = append(*out, rankedDoc{docID: uint64(it.Next()), path: path})
	}
}

// fuseAndMaterialize turns the keyword-ranked docid list into Hits,
// optionally blending in vector search results via RRF when q asks
// for a semantic_ratio > 0 (§4.4.4).
func (e *Engine) fuseAndMaterialize(ctx context.Context, q Query, ranked []rankedDoc) ([]Hit, error) {
	ratio := e.Config.SemanticRatio
	if q.SemanticRatio != nil {
		ratio = *q.SemanticRatio
	}

	keywordIDs := make([]uint64, len(ranked))
	for i, r := range ranked {
		keywordIDs[i] = r.docID
	}

	var vecResults []vectorHit
	if ratio > 0 && e.Handle.Vectors != nil && len(q.Vector) > 0 {
		res, err := e.Handle.Vectors.Search(q.Embedder, q.Vector, e.Config.MaxLimit)
		if err != nil {
			return nil, err
		}
		vecResults = make([]vectorHit, len(res))
		for i, r := range res {
			vecResults[i] = vectorHit{docID: r.DocID, score: r.Score}
		}
	}

	if ratio >= 1 {
		keywordIDs = nil
	}

	fused := Fuse(keywordIDs, vecResults, FuseWeights{Keyword: 1 - ratio, Vector: ratio}, e.Config.RRFConstant)

	hits := make([]Hit, 0, len(fused))
	for _, f := range fused {
		doc, err := e.Handle.Docs.GetDocument(f.DocID)
		if err != nil {
			if errkind.Of(err) == errkind.NotFound {
				continue
			}
			return nil, err
		}
		ext, err := e.Handle.Docs.ExternalID(f.DocID)
		if err != nil {
			return nil, err
		}
		hits = append(hits, Hit{
			DocID:        f.DocID,
			ExternalID:   ext,
			Document:     doc,
			Score:        f.Score,
			FromVector:   f.VectorRank > 0,
			VectorScore:  f.VectorScore,
			KeywordScore: f.KeywordRank,
		})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	return hits, nil
}
