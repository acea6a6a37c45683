// Package docstore implements the documents table, external-id map,
// and fields-ids map of §3.5: internal_docid -> field-value record,
// external_docid <-> internal_docid, and a stable field_name <-> field_id
// mapping.
package docstore

import (
	"encoding/json"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
	"go.etcd.io/bbolt"

	"github.com/aman-cerp/scribe/internal/errkind"
	"github.com/aman-cerp/scribe/internal/kv"
)

// Document is one stored record: an ordered, typed field-value map
// keyed by field name (the documents table does not itself know about
// field ids; that indirection lives in the fields map).
type Document map[string]any

// Store wraps a kv.Store's documents/external-ids/fields-map tables.
type Store struct {
	kv *kv.Store
}

func New(store *kv.Store) *Store {
	return &Store{kv: store}
}

// PutDocument writes a document under docID within tx.
func PutDocument(tx *bbolt.Tx, docID uint64, doc Document) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return errkind.New(errkind.UserInput, "document_encode_failed", "failed to encode document", err)
	}
	return tx.Bucket(kv.TableDocuments).Put(kv.EncodeUint64(docID), b)
}

// GetDocument reads docID's document, or errkind.NotFound if absent.
func (s *Store) GetDocument(docID uint64) (Document, error) {
	var doc Document
	err := s.kv.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(kv.TableDocuments).Get(kv.EncodeUint64(docID))
		if v == nil {
			return errkind.New(errkind.NotFound, "document_not_found", fmt.Sprintf("document %d not found", docID), nil)
		}
		return json.Unmarshal(v, &doc)
	})
	return doc, err
}

// DecodeDocument decodes a raw documents-table value, as read directly
// off a bolt cursor by a caller already holding a transaction (GetDocument
// covers the common case of a fresh read-only transaction; this is for
// callers composing their own transaction, e.g. pipeline's retract step).
func DecodeDocument(raw []byte, doc *Document) error {
	return json.Unmarshal(raw, doc)
}

// DeleteDocument removes docID's document within tx. Callers are
// responsible for removing it from every posting in the same
// transaction (§3.5's invariant).
func DeleteDocument(tx *bbolt.Tx, docID uint64) error {
	return tx.Bucket(kv.TableDocuments).Delete(kv.EncodeUint64(docID))
}

// LookupOrAssignInternalID resolves externalID to its internal docid,
// assigning nextID and recording the bidirectional mapping if this is
// the first time externalID has been seen (§4.2.1 step 1).
func LookupOrAssignInternalID(tx *bbolt.Tx, externalID string, nextID func() (uint64, error)) (docID uint64, created bool, err error) {
	bucket := tx.Bucket(kv.TableExternalIDs)
	key := kv.EncodeString(externalID)
	if v := bucket.Get(key); v != nil {
		return kv.DecodeUint64(v), false, nil
	}

	id, err := nextID()
	if err != nil {
		return 0, false, err
	}
	if err := bucket.Put(key, kv.EncodeUint64(id)); err != nil {
		return 0, false, err
	}
	if err := bucket.Put(internalIDKey(id), key); err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// ExternalID resolves an internal docid back to its external id.
func (s *Store) ExternalID(docID uint64) (string, error) {
	var external string
	err := s.kv.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(kv.TableExternalIDs).Get(internalIDKey(docID))
		if v == nil {
			return errkind.New(errkind.NotFound, "external_id_not_found", fmt.Sprintf("no external id for docid %d", docID), nil)
		}
		external = string(v)
		return nil
	})
	return external, err
}

// RemoveExternalID deletes both directions of the externalID <-> docID
// mapping within tx.
func RemoveExternalID(tx *bbolt.Tx, externalID string, docID uint64) error {
	bucket := tx.Bucket(kv.TableExternalIDs)
	if err := bucket.Delete(kv.EncodeString(externalID)); err != nil {
		return err
	}
	return bucket.Delete(internalIDKey(docID))
}

// AllDocIDs scans the documents table within tx and returns every live
// internal docid as a bitmap, the universe a search with no filter
// starts from (§4.4.3).
func AllDocIDs(tx *bbolt.Tx) (*roaring.Bitmap, error) {
	bm := roaring.New()
	c := tx.Bucket(kv.TableDocuments).Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		bm.Add(uint32(kv.DecodeUint64(k)))
	}
	return bm, nil
}

// internalIDKey namespaces the reverse (docid -> external id) entries
// inside the same bucket as the forward (external id -> docid) entries,
// since a bolt bucket has one flat keyspace. External ids may not begin
// with byte 0x00; this is enforced at document ingestion.
func internalIDKey(docID uint64) []byte {
	k := make([]byte, 0, 9)
	k = append(k, 0x00)
	k = append(k, kv.EncodeUint64(docID)...)
	return k
}

// FieldsMap is the stable field_name <-> field_id mapping of §3.5:
// identifiers are assigned once and never reassigned within a store's
// lifetime.
type FieldsMap struct {
	kv *kv.Store
}

func NewFieldsMap(store *kv.Store) *FieldsMap {
	return &FieldsMap{kv: store}
}

// FieldID resolves name to its stable id, assigning the next available
// id if name is new.
func (f *FieldsMap) FieldID(tx *bbolt.Tx, name string) (uint32, error) {
	bucket := tx.Bucket(kv.TableFieldsMap)
	key := kv.EncodeString(name)
	if v := bucket.Get(key); v != nil {
		return decodeUint32(v), nil
	}

	id, err := nextFieldID(bucket)
	if err != nil {
		return 0, err
	}
	if err := bucket.Put(key, encodeUint32(id)); err != nil {
		return 0, err
	}
	if err := bucket.Put(reverseFieldKey(id), key); err != nil {
		return 0, err
	}
	return id, nil
}

// FieldName resolves a field id back to its name.
func (f *FieldsMap) FieldName(id uint32) (string, error) {
	var name string
	err := f.kv.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(kv.TableFieldsMap).Get(reverseFieldKey(id))
		if v == nil {
			return errkind.New(errkind.NotFound, "field_id_not_found", fmt.Sprintf("no field name for id %d", id), nil)
		}
		name = string(v)
		return nil
	})
	return name, err
}

var fieldsMapCounterKey = append([]byte{0x01}, []byte("next_field_id")...)

func nextFieldID(bucket *bbolt.Bucket) (uint32, error) {
	var next uint32
	if v := bucket.Get(fieldsMapCounterKey); v != nil {
		next = decodeUint32(v)
	}
	if err := bucket.Put(fieldsMapCounterKey, encodeUint32(next+1)); err != nil {
		return 0, err
	}
	return next, nil
}

func reverseFieldKey(id uint32) []byte {
	k := make([]byte, 0, 5)
	k = append(k, 0x00)
	k = append(k, encodeUint32(id)...)
	return k
}

func encodeUint32(v uint32) []byte {
	b := make([]byte, 4)
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
	return b
}

func decodeUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
