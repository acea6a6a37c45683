package kv

import (
	"encoding/binary"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
)

// Delta is the in-memory form of a posting update produced by extraction
// (§4.2.1 step 4): a docid set to remove from a key's bitmap and a docid
// set to add. Either side may be nil.
type Delta struct {
	Del *roaring.Bitmap
	Add *roaring.Bitmap
}

// EncodeDelta serializes a Delta as the length-prefixed
// [del_len|del_bytes|add_len|add_bytes] layout of §4.3.1. A nil side is
// encoded as a zero length with no following bytes.
func EncodeDelta(d Delta) ([]byte, error) {
	delBytes, err := marshalBitmap(d.Del)
	if err != nil {
		return nil, fmt.Errorf("kv: encode del bitmap: %w", err)
	}
	addBytes, err := marshalBitmap(d.Add)
	if err != nil {
		return nil, fmt.Errorf("kv: encode add bitmap: %w", err)
	}

	out := make([]byte, 0, 8+len(delBytes)+len(addBytes))
	out = binary.BigEndian.AppendUint32(out, uint32(len(delBytes)))
	out = append(out, delBytes...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(addBytes)))
	out = append(out, addBytes...)
	return out, nil
}

// DecodeDelta reverses EncodeDelta.
func DecodeDelta(b []byte) (Delta, error) {
	var d Delta
	if len(b) < 4 {
		return d, fmt.Errorf("kv: delta too short: %d bytes", len(b))
	}
	delLen := binary.BigEndian.Uint32(b)
	b = b[4:]
	if uint32(len(b)) < delLen {
		return d, fmt.Errorf("kv: delta del_bytes truncated")
	}
	del, err := unmarshalBitmap(b[:delLen])
	if err != nil {
		return d, fmt.Errorf("kv: decode del bitmap: %w", err)
	}
	b = b[delLen:]

	if len(b) < 4 {
		return d, fmt.Errorf("kv: delta missing add_len")
	}
	addLen := binary.BigEndian.Uint32(b)
	b = b[4:]
	if uint32(len(b)) < addLen {
		return d, fmt.Errorf("kv: delta add_bytes truncated")
	}
	add, err := unmarshalBitmap(b[:addLen])
	if err != nil {
		return d, fmt.Errorf("kv: decode add bitmap: %w", err)
	}

	d.Del = del
	d.Add = add
	return d, nil
}

func marshalBitmap(b *roaring.Bitmap) ([]byte, error) {
	if b == nil || b.IsEmpty() {
		return nil, nil
	}
	return b.ToBytes()
}

func unmarshalBitmap(b []byte) (*roaring.Bitmap, error) {
	if len(b) == 0 {
		return nil, nil
	}
	bm := roaring.New()
	if err := bm.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return bm, nil
}

// Apply computes new = (old \ del) ∪ add, the commit-phase rule of
// §4.2.1 step 6. A nil old is treated as empty.
func Apply(old *roaring.Bitmap, d Delta) *roaring.Bitmap {
	var result *roaring.Bitmap
	if old == nil {
		result = roaring.New()
	} else {
		result = old.Clone()
	}
	if d.Del != nil {
		result.AndNot(d.Del)
	}
	if d.Add != nil {
		result.Or(d.Add)
	}
	return result
}
