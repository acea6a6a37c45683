package kv

import (
	"errors"
	"fmt"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"go.etcd.io/bbolt"

	"github.com/aman-cerp/scribe/internal/errkind"
)

// Store wraps a single bbolt.DB as the memory-mapped transactional
// key-value store of §4.3.1: every reserved Table is a bucket, created
// up front on Open.
type Store struct {
	db           *bbolt.DB
	path         string
	mapSizeMB    int
	mapSizeCapMB int
}

// Open opens (creating if absent) the store at path with an initial
// mmap size of mapSizeMB, growing up to mapSizeCapMB on MapFull (§4.3.3).
// A mapSizeCapMB of 0 means no cap; growth then continues until the
// filesystem itself refuses.
func Open(path string, mapSizeMB, mapSizeCapMB int) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout:         1 * time.Second,
		InitialMmapSize: mapSizeMB * 1024 * 1024,
	})
	if err != nil {
		return nil, errkind.New(errkind.Transient, "kv_store_open_failed", "failed to open index store", err)
	}

	s := &Store{db: db, path: path, mapSizeMB: mapSizeMB, mapSizeCapMB: mapSizeCapMB}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, table := range AllTables() {
			if _, err := tx.CreateBucketIfNotExists(table); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, errkind.New(errkind.Inconsistency, "kv_store_init_failed", "failed to create index tables", err)
	}

	return s, nil
}

// Close releases the underlying mmap and file handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the store's backing file path.
func (s *Store) Path() string {
	return s.path
}

// isMapFull reports whether err indicates bbolt ran out of mmap space,
// the trigger for the grow-and-retry contract of §4.3.3.
func isMapFull(err error) bool {
	return errors.Is(err, bbolt.ErrDatabaseNotOpen) || (err != nil && err.Error() == "mmap resize error")
}

// Update runs fn inside a single read-write transaction over every
// table, retrying once with a doubled mmap size (capped at
// mapSizeCapMB) if bbolt reports the map is full. A second failure is
// surfaced as errkind.ResourceLimit so the scheduler can abort the
// batch and retry from the queue rather than mid-batch, per §4.3.3.
func (s *Store) Update(fn func(tx *bbolt.Tx) error) error {
	err := s.db.Update(fn)
	if err == nil {
		return nil
	}
	if !isMapFull(err) {
		return errkind.New(errkind.Inconsistency, "kv_write_failed", "index store write failed", err)
	}

	if grewErr := s.grow(); grewErr != nil {
		return errkind.New(errkind.ResourceLimit, "kv_map_full", "index store map size exhausted", err)
	}

	if err := s.db.Update(fn); err != nil {
		return errkind.New(errkind.ResourceLimit, "kv_map_full", "index store map size exhausted after growth", err)
	}
	return nil
}

// View runs fn inside a read-only transaction.
func (s *Store) View(fn func(tx *bbolt.Tx) error) error {
	if err := s.db.View(fn); err != nil {
		return errkind.New(errkind.Inconsistency, "kv_read_failed", "index store read failed", err)
	}
	return nil
}

// grow doubles the configured map size up to the operator cap and
// reopens the database, the manual-doubling contract §4.3.3 still
// promises even though bbolt itself also grows its mmap automatically.
func (s *Store) grow() error {
	next := s.mapSizeMB * 2
	if s.mapSizeCapMB > 0 && next > s.mapSizeCapMB {
		return fmt.Errorf("kv: map size cap of %dMB reached", s.mapSizeCapMB)
	}
	if err := s.db.Close(); err != nil {
		return err
	}
	db, err := bbolt.Open(s.path, 0o600, &bbolt.Options{
		Timeout:         1 * time.Second,
		InitialMmapSize: next * 1024 * 1024,
	})
	if err != nil {
		return err
	}
	s.db = db
	s.mapSizeMB = next
	return nil
}

// GetBitmap reads and decodes a posting bitmap from table/key, returning
// nil (not an error) when the key is absent.
func (s *Store) GetBitmap(table Table, key []byte) (*roaring.Bitmap, error) {
	var out *roaring.Bitmap
	err := s.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(table).Get(key)
		if v == nil {
			return nil
		}
		bm := roaring.New()
		if err := bm.UnmarshalBinary(v); err != nil {
			return err
		}
		out = bm
		return nil
	})
	return out, err
}

// ReadBitmap reads and decodes a posting bitmap from table/key within
// an already-open transaction (read or write), returning nil (not an
// error) when the key is absent. Unlike Store.GetBitmap this does not
// open its own transaction, so callers holding one open already (C4's
// ranking rules, federated search) don't nest transactions.
func ReadBitmap(tx *bbolt.Tx, table Table, key []byte) (*roaring.Bitmap, error) {
	v := tx.Bucket(table).Get(key)
	if v == nil {
		return nil, nil
	}
	bm := roaring.New()
	if err := bm.UnmarshalBinary(v); err != nil {
		return nil, err
	}
	return bm, nil
}

// PutBitmap writes bm under table/key within tx, deleting the key
// instead when bm is empty (§4.2.1 step 6: "when new is empty delete
// the key").
func PutBitmap(tx *bbolt.Tx, table Table, key []byte, bm *roaring.Bitmap) error {
	bucket := tx.Bucket(table)
	if bm == nil || bm.IsEmpty() {
		return bucket.Delete(key)
	}
	b, err := bm.ToBytes()
	if err != nil {
		return err
	}
	return bucket.Put(key, b)
}

// ApplyDelta reads the current bitmap at table/key, applies d, and
// writes the result back (or deletes the key if the result is empty),
// all within tx. This is the per-key step of the commit phase (§4.2.1
// step 6): new = (old \ del) ∪ add.
func ApplyDelta(tx *bbolt.Tx, table Table, key []byte, d Delta) error {
	bucket := tx.Bucket(table)
	var old *roaring.Bitmap
	if v := bucket.Get(key); v != nil {
		old = roaring.New()
		if err := old.UnmarshalBinary(v); err != nil {
			return fmt.Errorf("kv: decode existing bitmap at key: %w", err)
		}
	}
	return PutBitmap(tx, table, key, Apply(old, d))
}
