package search

import (
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
	"go.etcd.io/bbolt"

	"github.com/aman-cerp/scribe/internal/kv"
)

// RankingRule is the iter protocol of §4.4.3: Start receives the
// universe the parent rule narrowed the search to, NextBucket yields
// progressively worse-ranked subsets of that universe (best first)
// until exhausted, and End releases any per-query state. The engine
// recurses into the next rule for each bucket in turn, so a rule only
// ever sees the intersection its parent already computed.
type RankingRule interface {
	Start(tx *bbolt.Tx, h IndexHandle, q *QueryTree, universe *roaring.Bitmap) error
	NextBucket() (bucket *roaring.Bitmap, ok bool, err error)
	End()
}

// DefaultRules returns the six built-in rules in the default order
// (§4.4.3): Words, Typo, Proximity, Attribute, Sort, Exactness.
func DefaultRules(sortField string, sortDescending bool) []RankingRule {
	return []RankingRule{
		&WordsRule{},
		&TypoRule{},
		&ProximityRule{},
		&AttributeRule{},
		&SortRule{Field: sortField, Descending: sortDescending},
		&ExactnessRule{},
	}
}

// wordGroupBitmap unions every variant's word posting bitmap for one
// query position, intersected with universe.
func wordGroupBitmap(tx *bbolt.Tx, table kv.Table, g WordGroup, universe *roaring.Bitmap) (*roaring.Bitmap, error) {
	out := roaring.New()
	for _, v := range g.Variants {
		bm, err := kv.ReadBitmap(tx, table, kv.WordKey(v.Term))
		if err != nil {
			return nil, err
		}
		if bm != nil {
			out.Or(bm)
		}
	}
	out.And(universe)
	return out, nil
}

// WordsRule buckets documents by how many distinct query positions they
// match, most positions first (§4.4.3's Words rule). A document that
// matches every position lands in the best bucket; partial matches
// trail behind in descending order of match count, which is this
// engine's realization of matching_strategy=Last's intent (prefer full
// matches, fall back to partial ones) without literally re-querying a
// truncated query string.
type WordsRule struct {
	buckets []*roaring.Bitmap
	pos     int
}

func (r *WordsRule) Start(tx *bbolt.Tx, h IndexHandle, q *QueryTree, universe *roaring.Bitmap) error {
	r.pos = 0
	if len(q.Words) == 0 {
		r.buckets = []*roaring.Bitmap{universe}
		return nil
	}

	counts := make(map[uint32]int)
	for _, g := range q.Words {
		bm, err := wordGroupBitmap(tx, kv.TableWordPostings, g, universe)
		if err != nil {
			return err
		}
		it := bm.Iterator()
		for it.HasNext() {
			counts[it.Next()]++
		}
	}

	byCount := make(map[int]*roaring.Bitmap)
	for doc, n := range counts {
		bm, ok := byCount[n]
		if !ok {
			bm = roaring.New()
			byCount[n] = bm
		}
		bm.Add(doc)
	}

	var ns []int
	for n := range byCount {
		ns = append(ns, n)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(ns)))

	r.buckets = r.buckets[:0]
	for _, n := range ns {
		r.buckets = append(r.buckets, byCount[n])
	}
	return nil
}

func (r *WordsRule) NextBucket() (*roaring.Bitmap, bool, error) {
	if r.pos >= len(r.buckets) {
		return nil, false, nil
	}
	b := r.buckets[r.pos]
	r.pos++
	return b, true, nil
}

func (r *WordsRule) End() { r.buckets = nil }

// TypoRule buckets the input by ascending total typo cost: for each
// document, the cheapest variant that matched at each position
// contributes its cost, summed across positions (§4.4.3's Typo rule).
type TypoRule struct {
	buckets []*roaring.Bitmap
	pos     int
}

func (r *TypoRule) Start(tx *bbolt.Tx, h IndexHandle, q *QueryTree, universe *roaring.Bitmap) error {
	r.pos = 0
	costs := make(map[uint32]int)
	it := universe.Iterator()
	for it.HasNext() {
		costs[it.Next()] = 0
	}

	for _, g := range q.Words {
		sorted := append([]Variant(nil), g.Variants...)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].TypoCost < sorted[j].TypoCost })

		assigned := roaring.New()
		for _, v := range sorted {
			bm, err := kv.ReadBitmap(tx, kv.TableWordPostings, kv.WordKey(v.Term))
			if err != nil {
				return err
			}
			if bm == nil {
				continue
			}
			bm = bm.Clone()
			bm.And(universe)
			bm.AndNot(assigned)

			dit := bm.Iterator()
			for dit.HasNext() {
				doc := dit.Next()
				costs[doc] += v.TypoCost
			}
			assigned.Or(bm)
		}
	}

	byCost := make(map[int]*roaring.Bitmap)
	for doc, c := range costs {
		bm, ok := byCost[c]
		if !ok {
			bm = roaring.New()
			byCost[c] = bm
		}
		bm.Add(doc)
	}

	var cs []int
	for c := range byCost {
		cs = append(cs, c)
	}
	sort.Ints(cs)

	r.buckets = r.buckets[:0]
	for _, c := range cs {
		r.buckets = append(r.buckets, byCost[c])
	}
	return nil
}

func (r *TypoRule) NextBucket() (*roaring.Bitmap, bool, error) {
	if r.pos >= len(r.buckets) {
		return nil, false, nil
	}
	b := r.buckets[r.pos]
	r.pos++
	return b, true, nil
}

func (r *TypoRule) End() { r.buckets = nil }

// ProximityRule buckets by ascending summed pair-distance between
// consecutive query positions, reading the word-pair-proximity table
// for the cheapest variant pairing at each adjacency; distances at or
// above ProximityCapDistance collapse into one worst bucket, and
// documents matching at most one position have no pairs to measure and
// sit in the best (zero-cost) bucket (§4.4.3's Proximity rule).
type ProximityRule struct {
	buckets []*roaring.Bitmap
	pos     int
}

func (r *ProximityRule) Start(tx *bbolt.Tx, h IndexHandle, q *QueryTree, universe *roaring.Bitmap) error {
	r.pos = 0
	costs := make(map[uint32]int)
	it := universe.Iterator()
	for it.HasNext() {
		costs[it.Next()] = 0
	}

	for i := 0; i+1 < len(q.Words); i++ {
		left, right := q.Words[i], q.Words[i+1]
		best := make(map[uint32]int)

		for _, lv := range left.Variants {
			for _, rv := range right.Variants {
				for d := uint8(1); d <= ProximityCapDistance; d++ {
					bm, err := kv.ReadBitmap(tx, kv.TableWordPairProximity, kv.WordPairProximityKey(lv.Term, rv.Term, d))
					if err != nil {
						return err
					}
					if bm == nil {
						continue
					}
					bit := bm.Clone()
					bit.And(universe)
					bit2 := bit.Iterator()
					for bit2.HasNext() {
						doc := bit2.Next()
						if cur, ok := best[doc]; !ok || int(d) < cur {
							best[doc] = int(d)
						}
					}
				}
			}
		}

		it2 := universe.Iterator()
		for it2.HasNext() {
			doc := it2.Next()
			d, ok := best[doc]
			if !ok {
				d = ProximityCapDistance
			}
			costs[doc] += d
		}
	}

	byCost := make(map[int]*roaring.Bitmap)
	for doc, c := range costs {
		bm, ok := byCost[c]
		if !ok {
			bm = roaring.New()
			byCost[c] = bm
		}
		bm.Add(doc)
	}
	var cs []int
	for c := range byCost {
		cs = append(cs, c)
	}
	sort.Ints(cs)

	r.buckets = r.buckets[:0]
	for _, c := range cs {
		r.buckets = append(r.buckets, byCost[c])
	}
	return nil
}

func (r *ProximityRule) NextBucket() (*roaring.Bitmap, bool, error) {
	if r.pos >= len(r.buckets) {
		return nil, false, nil
	}
	b := r.buckets[r.pos]
	r.pos++
	return b, true, nil
}

func (r *ProximityRule) End() { r.buckets = nil }

// AttributeRule buckets by which searchable attribute (in the index's
// declared priority order) carries the earliest-matching query term,
// using the word-field posting to test membership per attribute
// (§4.4.3's Attribute/Position rule, attribute component; fine-grained
// position-within-field ordering is left to Exactness/tie-breaking
// rather than a second nested level, a documented simplification).
type AttributeRule struct {
	buckets []*roaring.Bitmap
	pos     int
}

func (r *AttributeRule) Start(tx *bbolt.Tx, h IndexHandle, q *QueryTree, universe *roaring.Bitmap) error {
	r.pos = 0
	settings := h.Settings()
	if len(settings.SearchableAttributes) == 0 || len(q.Words) == 0 {
		r.buckets = []*roaring.Bitmap{universe}
		return nil
	}

	remaining := universe.Clone()
	r.buckets = r.buckets[:0]
	for _, field := range settings.SearchableAttributes {
		if remaining.IsEmpty() {
			break
		}
		fieldID, err := h.Fields.FieldID(tx, field)
		if err != nil {
			return err
		}

		matched := roaring.New()
		for _, g := range q.Words {
			for _, v := range g.Variants {
				bm, err := kv.ReadBitmap(tx, kv.TableWordFieldPostings, kv.WordFieldKey(v.Term, fieldID))
				if err != nil {
					return err
				}
				if bm != nil {
					matched.Or(bm)
				}
			}
		}
		matched.And(remaining)
		if matched.IsEmpty() {
			continue
		}

		r.buckets = append(r.buckets, matched)
		remaining.AndNot(matched)
	}
	if !remaining.IsEmpty() {
		r.buckets = append(r.buckets, remaining)
	}
	return nil
}

func (r *AttributeRule) NextBucket() (*roaring.Bitmap, bool, error) {
	if r.pos >= len(r.buckets) {
		return nil, false, nil
	}
	b := r.buckets[r.pos]
	r.pos++
	return b, true, nil
}

func (r *AttributeRule) End() { r.buckets = nil }

// SortRule partitions by a filterable field's distinct facet values in
// ascending or descending order (§4.4.3's Sort rule); with no Field
// configured it is a no-op, passing the whole universe through as one
// bucket.
type SortRule struct {
	Field      string
	Descending bool

	buckets []*roaring.Bitmap
	pos     int
}

func (r *SortRule) Start(tx *bbolt.Tx, h IndexHandle, q *QueryTree, universe *roaring.Bitmap) error {
	r.pos = 0
	if r.Field == "" {
		r.buckets = []*roaring.Bitmap{universe}
		return nil
	}

	fieldID, err := h.Fields.FieldID(tx, r.Field)
	if err != nil {
		return err
	}
	tree := h.FacetTree(fieldID)
	values, err := tree.Values(tx)
	if err != nil {
		return err
	}
	if r.Descending {
		for i, j := 0, len(values)-1; i < j; i, j = i+1, j-1 {
			values[i], values[j] = values[j], values[i]
		}
	}

	remaining := universe.Clone()
	r.buckets = r.buckets[:0]
	for _, v := range values {
		if remaining.IsEmpty() {
			break
		}
		bm, err := tree.Exact(tx, v)
		if err != nil {
			return err
		}
		bm = bm.Clone()
		bm.And(remaining)
		if bm.IsEmpty() {
			continue
		}
		r.buckets = append(r.buckets, bm)
		remaining.AndNot(bm)
	}
	if !remaining.IsEmpty() {
		r.buckets = append(r.buckets, remaining)
	}
	return nil
}

func (r *SortRule) NextBucket() (*roaring.Bitmap, bool, error) {
	if r.pos >= len(r.buckets) {
		return nil, false, nil
	}
	b := r.buckets[r.pos]
	r.pos++
	return b, true, nil
}

func (r *SortRule) End() { r.buckets = nil }

// ExactnessRule prefers documents where every pair of adjacent query
// positions appears verbatim adjacent (word-pair distance 1) in the
// document, over documents that only matched through typos, synonyms,
// or out-of-order terms (§4.4.3's Exactness rule).
type ExactnessRule struct {
	buckets []*roaring.Bitmap
	pos     int
}

func (r *ExactnessRule) Start(tx *bbolt.Tx, h IndexHandle, q *QueryTree, universe *roaring.Bitmap) error {
	r.pos = 0
	if len(q.Words) < 2 {
		r.buckets = []*roaring.Bitmap{universe}
		return nil
	}

	exact := universe.Clone()
	for i := 0; i+1 < len(q.Words); i++ {
		pair, err := kv.ReadBitmap(tx, kv.TableWordPairProximity,
			kv.WordPairProximityKey(q.Words[i].Original, q.Words[i+1].Original, 1))
		if err != nil {
			return err
		}
		if pair == nil {
			exact = roaring.New()
			break
		}
		exact.And(pair)
	}

	rest := universe.Clone()
	rest.AndNot(exact)

	r.buckets = r.buckets[:0]
	if !exact.IsEmpty() {
		r.buckets = append(r.buckets, exact)
	}
	if !rest.IsEmpty() {
		r.buckets = append(r.buckets, rest)
	}
	return nil
}

func (r *ExactnessRule) NextBucket() (*roaring.Bitmap, bool, error) {
	if r.pos >= len(r.buckets) {
		return nil, false, nil
	}
	b := r.buckets[r.pos]
	r.pos++
	return b, true, nil
}

func (r *ExactnessRule) End() { r.buckets = nil }
