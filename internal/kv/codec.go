package kv

import "encoding/binary"

// EncodeUint64 is the fixed big-endian codec for integer ids (§4.3.1):
// lexicographic byte order matches numeric order, so range scans over
// these keys visit ids in ascending order.
func EncodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// DecodeUint64 reverses EncodeUint64.
func DecodeUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// EncodeString encodes a variable-length string field for use as the
// trailing component of a composite key (fixed-width fields only sort
// correctly when they precede it, per §4.3.1's tuple-of-fixed-width-
// fields rule).
func EncodeString(s string) []byte {
	return []byte(s)
}

// WordKey builds the key for the word posting table: the word bytes
// themselves, so that TableWordsFST's key set equals TableWordPostings'
// key set as required by §3.5's FST invariant, and so that a bolt
// range scan over a byte prefix enumerates all words sharing it.
func WordKey(word string) []byte {
	return []byte(word)
}

// WordFieldKey builds the composite key for the word×field posting
// table: word bytes followed by the fixed-width field id.
func WordFieldKey(word string, fieldID uint32) []byte {
	k := make([]byte, 0, len(word)+4)
	k = append(k, word...)
	k = binary.BigEndian.AppendUint32(k, fieldID)
	return k
}

// WordPositionKey builds the composite key for the word×position
// posting table. Position is bucketed by the caller before encoding
// (MAX_POSITION_PER_ATTRIBUTE bounds the bucket count per §4.2.1).
func WordPositionKey(word string, bucketedPosition uint16) []byte {
	k := make([]byte, 0, len(word)+2)
	k = append(k, word...)
	k = binary.BigEndian.AppendUint16(k, bucketedPosition)
	return k
}

// WordPairProximityKey builds the composite key for the word-pair
// proximity table: (word_left, word_right, proximity). A fixed-width
// separator (0x00, which cannot appear inside a tokenized word) keeps
// the left/right boundary unambiguous under lexicographic ordering.
func WordPairProximityKey(left, right string, proximity uint8) []byte {
	k := make([]byte, 0, len(left)+1+len(right)+1)
	k = append(k, left...)
	k = append(k, 0x00)
	k = append(k, right...)
	k = append(k, proximity)
	return k
}

// FieldWordCountKey builds the composite key for the field-word-count
// table: (field_id, count), count clamped to [0, 30] by the caller.
func FieldWordCountKey(fieldID uint32, count uint8) []byte {
	k := make([]byte, 0, 5)
	k = binary.BigEndian.AppendUint32(k, fieldID)
	k = append(k, count)
	return k
}

// FacetLevelKey builds the key for one node of a facet tree: the
// filterable field id, the tree level, and the node's left bound
// (encoded so level-0 keys sort by exact value and level-k keys sort
// by range start, matching the top-down pruning traversal of §4.3.2).
func FacetLevelKey(fieldID uint32, level uint8, leftBound []byte) []byte {
	k := make([]byte, 0, 4+1+len(leftBound))
	k = binary.BigEndian.AppendUint32(k, fieldID)
	k = append(k, level)
	k = append(k, leftBound...)
	return k
}

// VectorKey builds the key for the optional vector index table:
// (embedder_id, internal_docid).
func VectorKey(embedderID uint32, docID uint64) []byte {
	k := make([]byte, 0, 12)
	k = binary.BigEndian.AppendUint32(k, embedderID)
	k = binary.BigEndian.AppendUint64(k, docID)
	return k
}
