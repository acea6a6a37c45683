package authstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_PutGet_RoundTrips(t *testing.T) {
	// Given: an empty store
	s := openTestStore(t)
	ctx := context.Background()

	// When: a key is put
	k := Key{UID: "key1", Description: "ci", AuthorizedIndexes: []string{"movies", "books"}, CreatedAt: time.Now()}
	require.NoError(t, s.Put(ctx, k))

	// Then: it can be read back with the same authorized indexes
	got, err := s.Get(ctx, "key1")
	require.NoError(t, err)
	assert.Equal(t, "ci", got.Description)
	assert.ElementsMatch(t, []string{"movies", "books"}, got.AuthorizedIndexes)
}

func TestStore_Put_OverwritesExistingKey(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, Key{UID: "key1", Description: "old", CreatedAt: time.Now()}))
	require.NoError(t, s.Put(ctx, Key{UID: "key1", Description: "new", AuthorizedIndexes: []string{"movies"}, CreatedAt: time.Now()}))

	got, err := s.Get(ctx, "key1")
	require.NoError(t, err)
	assert.Equal(t, "new", got.Description)
	assert.Equal(t, []string{"movies"}, got.AuthorizedIndexes)
}

func TestStore_Get_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), "missing")
	assert.Error(t, err)
}

func TestStore_List_ReturnsAllKeysOrderedByCreation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now()
	require.NoError(t, s.Put(ctx, Key{UID: "a", CreatedAt: base}))
	require.NoError(t, s.Put(ctx, Key{UID: "b", CreatedAt: base.Add(time.Second)}))

	keys, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "a", keys[0].UID)
	assert.Equal(t, "b", keys[1].UID)
}

func TestStore_Delete_IsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, Key{UID: "key1", CreatedAt: time.Now()}))
	require.NoError(t, s.Delete(ctx, "key1"))
	require.NoError(t, s.Delete(ctx, "key1"))

	_, err := s.Get(ctx, "key1")
	assert.Error(t, err)
}

func TestStore_AuthorizedIndexSet_EmptyMeansUnrestricted(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, Key{UID: "key1", CreatedAt: time.Now()}))

	set, err := s.AuthorizedIndexSet(ctx, "key1")
	require.NoError(t, err)
	assert.Nil(t, set)
}

func TestStore_AuthorizedIndexSet_ScopedToNamedIndexes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, Key{UID: "key1", AuthorizedIndexes: []string{"movies"}, CreatedAt: time.Now()}))

	set, err := s.AuthorizedIndexSet(ctx, "key1")
	require.NoError(t, err)
	assert.True(t, set["movies"])
	assert.False(t, set["books"])
}
