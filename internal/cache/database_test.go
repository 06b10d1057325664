package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tranqk/schoolhub/internal/database/testutil"
)

func newDatabaseStore(t *testing.T) *DatabaseStore {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := NewDatabaseStore(db)
	require.NotNil(t, store)
	return store
}

func TestDatabaseStoreSetGetDelete(t *testing.T) {
	store := newDatabaseStore(t)
	ctx := context.Background()

	_, found, err := store.Get(ctx, "cache:absent")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, store.Set(ctx, "cache:greeting", []byte("hello"), time.Minute))

	value, found, err := store.Get(ctx, "cache:greeting")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("hello"), value)

	// Upsert replaces the value in place.
	require.NoError(t, store.Set(ctx, "cache:greeting", []byte("replaced"), time.Minute))
	value, found, err = store.Get(ctx, "cache:greeting")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("replaced"), value)

	require.NoError(t, store.Delete(ctx, "cache:greeting"))
	_, found, err = store.Get(ctx, "cache:greeting")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, store.Delete(ctx))
}

func TestDatabaseStoreExpiry(t *testing.T) {
	store := newDatabaseStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "cache:fleeting", []byte("x"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, expired, expErr := store.Get(ctx, "cache:fleeting")
	require.NoError(t, expErr)
	require.False(t, expired)

	// A zero TTL means no expiry at all.
	require.NoError(t, store.Set(ctx, "cache:pinned", []byte("y"), 0))

	value, found, err := store.Get(ctx, "cache:pinned")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("y"), value)
}

func TestDatabaseStoreIncrementWithTTL(t *testing.T) {
	store := newDatabaseStore(t)
	ctx := context.Background()

	count, ttl, err := store.IncrementWithTTL(ctx, "counter:a", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
	require.Greater(t, ttl, time.Duration(0))

	count, _, err = store.IncrementWithTTL(ctx, "counter:a", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	// Independent keys keep independent counts.
	count, _, err = store.IncrementWithTTL(ctx, "counter:b", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}
