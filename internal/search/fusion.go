package search

import "sort"

// DefaultRRFConstant is the standard RRF smoothing parameter, grounded
// on the teacher's fusion.go: k=60 is empirically validated across
// domains (used by Azure AI Search, OpenSearch, etc.) and carries over
// unchanged.
const DefaultRRFConstant = 60

// vectorHit is one result from internal/vectorindex.Index.Search,
// re-expressed in this package's docID-keyed vocabulary.
type vectorHit struct {
	docID uint64
	score float32
}

// FuseWeights controls the relative contribution of the keyword-rule
// ranking and the vector search ranking to the combined score
// (§4.4.4's semantic_ratio: Vector == semantic_ratio, Keyword == 1 -
// semantic_ratio).
type FuseWeights struct {
	Keyword float64
	Vector  float64
}

// fusedHit is one document after RRF fusion, grounded on the teacher's
// FusedResult (search/fusion.go) but keyed by internal docid instead
// of a chunk id string, and without the BM25-specific fields this
// engine's keyword ranking doesn't produce (a rank, not a score).
type fusedHit struct {
	DocID       uint64
	Score       float64
	KeywordRank int
	VectorRank  int
	VectorScore float32
	inBoth      bool
}

// Fuse combines a keyword-rule-ranked docid list (best first, as
// produced by evalRules) with a vector search hit list using
// Reciprocal Rank Fusion, the teacher's RRFFusion.Fuse (search/fusion.go)
// generalized from BM25+vector score pairs to keyword-rank+vector-rank
// pairs, since this engine's ranking rules produce an order, not a
// score.
//
// Algorithm: RRF_score(d) = Σ weight_i / (k + rank_i)
func Fuse(keyword []uint64, vector []vectorHit, weights FuseWeights, k int) []fusedHit {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	if len(keyword) == 0 && len(vector) == 0 {
		return nil
	}

	byDoc := make(map[uint64]*fusedHit, len(keyword)+len(vector))
	get := func(docID uint64) *fusedHit {
		if h, ok := byDoc[docID]; ok {
			return h
		}
		h := &fusedHit{DocID: docID}
		byDoc[docID] = h
		return h
	}

	for rank, docID := range keyword {
		h := get(docID)
		h.KeywordRank = rank + 1
		h.Score += weights.Keyword / float64(k+rank+1)
	}
	for rank, v := range vector {
		h := get(v.docID)
		h.VectorRank = rank + 1
		h.VectorScore = v.score
		h.Score += weights.Vector / float64(k+rank+1)
		if h.KeywordRank > 0 {
			h.inBoth = true
		}
	}

	missingRank := missingRank(len(keyword), len(vector))
	for _, h := range byDoc {
		if h.KeywordRank == 0 && h.VectorRank > 0 {
			h.Score += weights.Keyword / float64(k+missingRank)
		}
		if h.VectorRank == 0 && h.KeywordRank > 0 {
			h.Score += weights.Vector / float64(k+missingRank)
		}
	}

	out := make([]fusedHit, 0, len(byDoc))
	for _, h := range byDoc {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return compareFused(out[i], out[j]) })
	normalizeFused(out)
	return out
}

// missingRank returns the rank charged to a document absent from one
// list, the teacher's calculateMissingRank: max(len1, len2) + 1.
func missingRank(keywordLen, vectorLen int) int {
	if keywordLen > vectorLen {
		return keywordLen + 1
	}
	return vectorLen + 1
}

// compareFused orders by RRF score desc, then in-both-lists first,
// then lower (better) keyword rank, then docid, mirroring the
// teacher's compare (search/fusion.go) with ChunkID's lexicographic
// tie-break replaced by docid's natural order.
func compareFused(a, b fusedHit) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.inBoth != b.inBoth {
		return a.inBoth
	}
	if a.KeywordRank != b.KeywordRank {
		if a.KeywordRank == 0 {
			return false
		}
		if b.KeywordRank == 0 {
			return true
		}
		return a.KeywordRank < b.KeywordRank
	}
	return a.DocID < b.DocID
}

// normalizeFused scales every score to the sorted list's top score,
// mirroring the teacher's normalize (search/fusion.go).
func normalizeFused(hits []fusedHit) {
	if len(hits) == 0 || hits[0].Score == 0 {
		return
	}
	max := hits[0].Score
	for i := range hits {
		hits[i].Score /= max
	}
}
