// Package facet implements the per-filterable-field facet tree of
// §3.5/§4.3.2: level-0 maps an exact value to its docid bitmap; level-k
// groups consecutive level-(k-1) entries into ranges of fan-out F,
// rebalanced (split/merge) as values change, and pruned top-down on
// read.
package facet

import (
	"bytes"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
	"go.etcd.io/bbolt"

	"github.com/aman-cerp/scribe/internal/kv"
)

// Tree maintains one filterable field's facet levels inside the shared
// kv.Store's TableFacetLevel bucket. Every key is scoped by fieldID so
// many fields can share the table.
type Tree struct {
	fieldID uint32
	fanout  int
}

// New returns a Tree for fieldID with the configured fan-out F
// (typically 4-32, per §3.5).
func New(fieldID uint32, fanout int) *Tree {
	if fanout < 2 {
		fanout = 8
	}
	return &Tree{fieldID: fieldID, fanout: fanout}
}

type node struct {
	leftBound []byte
	bitmap    *roaring.Bitmap
}

// ApplyDelta updates the level-0 entry for value by del/add and
// rebalances every level above it upward until stable (§4.3.2). tx must
// be a write transaction already holding kv.TableFacetLevel.
func (t *Tree) ApplyDelta(tx *bbolt.Tx, value []byte, del, add *roaring.Bitmap) error {
	key0 := kv.FacetLevelKey(t.fieldID, 0, value)
	if err := kv.ApplyDelta(tx, kv.TableFacetLevel, key0, kv.Delta{Del: del, Add: add}); err != nil {
		return err
	}
	return t.rebalance(tx, 0, value)
}

// rebalance rewrites level level+1 by re-unioning its level-level
// children into fan-out groups (split/merge via groupByFanout), then
// recurses upward until a level holds a single root group, clearing
// the level above the root so topLevel stops there. Every level on the
// way up is re-unioned, so each group's bitmap stays the union of its
// children.
func (t *Tree) rebalance(tx *bbolt.Tx, level uint8, leftBound []byte) error {
	children, err := t.levelNodes(tx, level)
	if err != nil {
		return err
	}
	if len(children) == 0 {
		return t.clearLevel(tx, level+1)
	}

	groups := groupByFanout(children, t.fanout)

	bucket := tx.Bucket(kv.TableFacetLevel)
	if err := clearLevelBucket(bucket, t.fieldID, level+1); err != nil {
		return err
	}
	for _, g := range groups {
		key := kv.FacetLevelKey(t.fieldID, level+1, g.leftBound)
		if err := kv.PutBitmap(tx, kv.TableFacetLevel, key, g.bitmap); err != nil {
			return err
		}
	}

	if len(groups) == 1 {
		return t.clearLevel(tx, level+2)
	}
	return t.rebalance(tx, level+1, leftBound)
}

// levelNodes loads every node at level, in left-bound order.
func (t *Tree) levelNodes(tx *bbolt.Tx, level uint8) ([]node, error) {
	bucket := tx.Bucket(kv.TableFacetLevel)
	prefix := levelPrefix(t.fieldID, level)

	var nodes []node
	c := bucket.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		bm := roaring.New()
		if err := bm.UnmarshalBinary(v); err != nil {
			return nil, err
		}
		leftBound := append([]byte(nil), k[len(prefix):]...)
		nodes = append(nodes, node{leftBound: leftBound, bitmap: bm})
	}
	return nodes, nil
}

func (t *Tree) clearLevel(tx *bbolt.Tx, level uint8) error {
	return clearLevelBucket(tx.Bucket(kv.TableFacetLevel), t.fieldID, level)
}

func clearLevelBucket(bucket *bbolt.Bucket, fieldID uint32, level uint8) error {
	prefix := levelPrefix(fieldID, level)
	c := bucket.Cursor()
	var toDelete [][]byte
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		toDelete = append(toDelete, append([]byte(nil), k...))
	}
	for _, k := range toDelete {
		if err := bucket.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func levelPrefix(fieldID uint32, level uint8) []byte {
	return kv.FacetLevelKey(fieldID, level, nil)
}

// groupByFanout groups consecutive children into ranges of size
// [fanout/2, 2*fanout], splitting oversized runs and merging undersized
// trailing ones per §4.3.2 ("if the group's size exceeds 2F, split it;
// if it falls below F/2 and a sibling permits, merge").
func groupByFanout(children []node, fanout int) []node {
	groups := make([]node, 0, len(children)/fanout+1)
	i := 0
	for i < len(children) {
		end := i + fanout
		if end > len(children) {
			end = len(children)
		}
		// Merge an undersized trailing remainder into the prior group
		// instead of leaving a group smaller than fanout/2.
		if end < len(children) && len(children)-end < fanout/2 {
			end = len(children)
		}
		groups = append(groups, mergeChildren(children[i:end]))
		i = end
	}
	return groups
}

func mergeChildren(children []node) node {
	bm := roaring.New()
	for _, c := range children {
		bm.Or(c.bitmap)
	}
	return node{leftBound: children[0].leftBound, bitmap: bm}
}

// sameBounds reports whether two node slices have identical left
// bounds in the same order; bitmap contents are not compared.
func sameBounds(a, b []node) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !bytes.Equal(a[i].leftBound, b[i].leftBound) {
			return false
		}
	}
	return true
}

// Exact returns the docid bitmap for value's level-0 entry, or an empty
// bitmap if value has no entries, for filter equality clauses and the
// Sort ranking rule's per-value grouping.
func (t *Tree) Exact(tx *bbolt.Tx, value []byte) (*roaring.Bitmap, error) {
	v := tx.Bucket(kv.TableFacetLevel).Get(kv.FacetLevelKey(t.fieldID, 0, value))
	if v == nil {
		return roaring.New(), nil
	}
	bm := roaring.New()
	if err := bm.UnmarshalBinary(v); err != nil {
		return nil, err
	}
	return bm, nil
}

// Values returns every distinct level-0 value currently populated for
// this field, in ascending byte order, for the Sort ranking rule.
func (t *Tree) Values(tx *bbolt.Tx) ([][]byte, error) {
	nodes, err := t.levelNodes(tx, 0)
	if err != nil {
		return nil, err
	}
	values := make([][]byte, len(nodes))
	for i, n := range nodes {
		values[i] = n.leftBound
	}
	return values, nil
}

// RangeQuery returns the union of docids for every level-0 value in
// [lo, hi), traversing top-down and pruning any subtree whose bound
// range does not intersect [lo, hi) (§4.3.2).
func (t *Tree) RangeQuery(tx *bbolt.Tx, lo, hi []byte) (*roaring.Bitmap, error) {
	topLevel, err := t.topLevel(tx)
	if err != nil {
		return nil, err
	}
	result := roaring.New()
	if err := t.visit(tx, topLevel, lo, hi, result); err != nil {
		return nil, err
	}
	return result, nil
}

// topLevel finds the highest populated level for this field, by
// probing upward until a level is empty.
func (t *Tree) topLevel(tx *bbolt.Tx) (uint8, error) {
	var top uint8
	for level := uint8(0); level < 255; level++ {
		nodes, err := t.levelNodes(tx, level)
		if err != nil {
			return 0, err
		}
		if len(nodes) == 0 {
			break
		}
		top = level
	}
	return top, nil
}

func (t *Tree) visit(tx *bbolt.Tx, level uint8, lo, hi []byte, result *roaring.Bitmap) error {
	nodes, err := t.levelNodes(tx, level)
	if err != nil {
		return err
	}
	sort.Slice(nodes, func(i, j int) bool { return bytes.Compare(nodes[i].leftBound, nodes[j].leftBound) < 0 })

	for i, n := range nodes {
		var nextBound []byte
		if i+1 < len(nodes) {
			nextBound = nodes[i+1].leftBound
		}
		if !rangeIntersects(n.leftBound, nextBound, lo, hi) {
			continue
		}
		if rangeContains(lo, hi, n.leftBound, nextBound) {
			result.Or(n.bitmap)
			continue
		}
		if level == 0 {
			result.Or(n.bitmap)
			continue
		}
		if err := t.visit(tx, level-1, lo, hi, result); err != nil {
			return err
		}
	}
	return nil
}

// rangeIntersects reports whether [left, nextSiblingBound) intersects
// [lo, hi). A nil nextSiblingBound or hi means unbounded above.
func rangeIntersects(left, nextSiblingBound, lo, hi []byte) bool {
	if hi != nil && bytes.Compare(left, hi) >= 0 {
		return false
	}
	if nextSiblingBound != nil && bytes.Compare(nextSiblingBound, lo) <= 0 {
		return false
	}
	return true
}

// rangeContains reports whether [left, nextSiblingBound) is fully
// contained within [lo, hi).
func rangeContains(lo, hi, left, nextSiblingBound []byte) bool {
	if bytes.Compare(left, lo) < 0 {
		return false
	}
	if hi == nil {
		return nextSiblingBound == nil
	}
	if nextSiblingBound == nil {
		return false
	}
	return bytes.Compare(nextSiblingBound, hi) <= 0
}
