package kv

import (
	"path/filepath"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "index.db"), 8, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_CreatesAllReservedTables(t *testing.T) {
	s := openTestStore(t)
	err := s.View(func(tx *bbolt.Tx) error {
		for _, table := range AllTables() {
			if tx.Bucket(table) == nil {
				t.Fatalf("missing bucket %s", table)
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestPutBitmap_EmptyBitmapDeletesKey(t *testing.T) {
	s := openTestStore(t)
	key := WordKey("hello")

	err := s.Update(func(tx *bbolt.Tx) error {
		return PutBitmap(tx, TableWordPostings, key, roaring.BitmapOf(1, 2, 3))
	})
	require.NoError(t, err)

	got, err := s.GetBitmap(TableWordPostings, key)
	require.NoError(t, err)
	assert.True(t, got.Contains(1))

	err = s.Update(func(tx *bbolt.Tx) error {
		return PutBitmap(tx, TableWordPostings, key, roaring.New())
	})
	require.NoError(t, err)

	got, err = s.GetBitmap(TableWordPostings, key)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestApplyDelta_ComputesOldMinusDelPlusAdd(t *testing.T) {
	s := openTestStore(t)
	key := WordKey("needle")

	err := s.Update(func(tx *bbolt.Tx) error {
		return PutBitmap(tx, TableWordPostings, key, roaring.BitmapOf(1, 2, 3))
	})
	require.NoError(t, err)

	err = s.Update(func(tx *bbolt.Tx) error {
		return ApplyDelta(tx, TableWordPostings, key, Delta{
			Del: roaring.BitmapOf(2),
			Add: roaring.BitmapOf(4),
		})
	})
	require.NoError(t, err)

	got, err := s.GetBitmap(TableWordPostings, key)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 3, 4}, got.ToArray())
}

func TestApplyDelta_ResultEmptyDeletesKey(t *testing.T) {
	s := openTestStore(t)
	key := WordKey("vanishing")

	err := s.Update(func(tx *bbolt.Tx) error {
		return PutBitmap(tx, TableWordPostings, key, roaring.BitmapOf(5))
	})
	require.NoError(t, err)

	err = s.Update(func(tx *bbolt.Tx) error {
		return ApplyDelta(tx, TableWordPostings, key, Delta{Del: roaring.BitmapOf(5)})
	})
	require.NoError(t, err)

	got, err := s.GetBitmap(TableWordPostings, key)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetBitmap_MissingKeyReturnsNilNotError(t *testing.T) {
	s := openTestStore(t)
	got, err := s.GetBitmap(TableWordPostings, WordKey("absent"))
	require.NoError(t, err)
	assert.Nil(t, got)
}
