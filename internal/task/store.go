package task

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/aman-cerp/scribe/internal/errkind"
)

var (
	bucketTasks   = []byte("tasks")
	bucketBatches = []byte("batches")
	bucketCounters = []byte("counters")

	counterKeyNextTaskUID  = []byte("next_task_uid")
	counterKeyNextBatchUID = []byte("next_batch_uid")
)

// Store is the durable, single-writer task/batch table described in
// §4.3.3: one bbolt database, grown automatically. The Scheduler opens
// write transactions directly through db.Update and does not retry an
// aborted one.
type Store struct {
	db *bbolt.DB
}

// OpenStore opens (creating if absent) the task store at path.
func OpenStore(path string, mapSizeMB int) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout:    1 * time.Second,
		InitialMmapSize: mapSizeMB * 1024 * 1024,
	})
	if err != nil {
		return nil, errkind.New(errkind.Transient, "task_store_open_failed", "failed to open task store", err)
	}
	s := &Store{db: db}
	if err := s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketTasks, bucketBatches, bucketCounters} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, errkind.New(errkind.Inconsistency, "task_store_init_failed", "failed to initialize task store buckets", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func uint64Key(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func (s *Store) nextUID(tx *bbolt.Tx, counterKey []byte) (uint64, error) {
	counters := tx.Bucket(bucketCounters)
	var cur uint64
	if v := counters.Get(counterKey); v != nil {
		cur = binary.BigEndian.Uint64(v)
	}
	next := cur + 1
	if err := counters.Put(counterKey, uint64Key(next)); err != nil {
		return 0, err
	}
	return next, nil
}

// putTask inserts or overwrites a task by UID.
func (s *Store) putTask(tx *bbolt.Tx, t *Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task %d: %w", t.UID, err)
	}
	return tx.Bucket(bucketTasks).Put(uint64Key(t.UID), data)
}

// GetTask fetches a single task by UID.
func (s *Store) GetTask(uid uint64) (*Task, error) {
	var t *Task
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketTasks).Get(uint64Key(uid))
		if v == nil {
			return errkind.New(errkind.NotFound, "task_not_found", fmt.Sprintf("task %d not found", uid), nil)
		}
		var loaded Task
		if err := json.Unmarshal(v, &loaded); err != nil {
			return fmt.Errorf("unmarshal task %d: %w", uid, err)
		}
		t = &loaded
		return nil
	})
	return t, err
}

func (s *Store) putBatch(tx *bbolt.Tx, b *Batch) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal batch %d: %w", b.UID, err)
	}
	return tx.Bucket(bucketBatches).Put(uint64Key(b.UID), data)
}

// GetBatch fetches a single batch by UID.
func (s *Store) GetBatch(uid uint64) (*Batch, error) {
	var b *Batch
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketBatches).Get(uint64Key(uid))
		if v == nil {
			return errkind.New(errkind.NotFound, "batch_not_found", fmt.Sprintf("batch %d not found", uid), nil)
		}
		var loaded Batch
		if err := json.Unmarshal(v, &loaded); err != nil {
			return fmt.Errorf("unmarshal batch %d: %w", uid, err)
		}
		b = &loaded
		return nil
	})
	return b, err
}

// allTasks returns every task in ascending UID order. Used by query
// filtering (§4.1.1) and by the autobatch walk, both of which scan the
// enqueued set rather than requiring a secondary index for this
// single-writer, modest-cardinality table.
func (s *Store) allTasks() ([]*Task, error) {
	var out []*Task
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(_, v []byte) error {
			var t Task
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			out = append(out, &t)
			return nil
		})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, err
}

func (s *Store) allBatches() ([]*Batch, error) {
	var out []*Batch
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketBatches).ForEach(func(_, v []byte) error {
			var b Batch
			if err := json.Unmarshal(v, &b); err != nil {
				return err
			}
			out = append(out, &b)
			return nil
		})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, err
}

// countEnqueued is used by Submit to enforce QueueFull (§4.1.1).
func (s *Store) countEnqueued() (int, error) {
	tasks, err := s.allTasks()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range tasks {
		if t.Status == StatusEnqueued {
			n++
		}
	}
	return n, nil
}
