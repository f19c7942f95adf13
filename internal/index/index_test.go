package index

import (
	"context"
	"sort"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupIndex(t *testing.T) (*ReverseIndex, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return New(rdb), mr
}

func TestAddAndLookup(t *testing.T) {
	ix, _ := setupIndex(t)
	ctx := context.Background()

	require.NoError(t, ix.Add(ctx, "card-1", "alice"))
	require.NoError(t, ix.Add(ctx, "card-1", "bob"))
	require.NoError(t, ix.Add(ctx, "card-2", "bob"))

	users, err := ix.UsersWithItem(ctx, "card-1")
	require.NoError(t, err)
	sort.Strings(users)
	assert.Equal(t, []string{"alice", "bob"}, users)

	users, err = ix.UsersWithItem(ctx, "card-2")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, users)
}

func TestAddIsIdempotent(t *testing.T) {
	ix, _ := setupIndex(t)
	ctx := context.Background()

	require.NoError(t, ix.Add(ctx, "card-1", "alice"))
	require.NoError(t, ix.Add(ctx, "card-1", "alice"))

	users, err := ix.UsersWithItem(ctx, "card-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, users)
}

func TestRemove(t *testing.T) {
	ix, _ := setupIndex(t)
	ctx := context.Background()

	require.NoError(t, ix.Add(ctx, "card-1", "alice"))
	require.NoError(t, ix.Remove(ctx, "card-1", "alice"))

	users, err := ix.UsersWithItem(ctx, "card-1")
	require.NoError(t, err)
	assert.Empty(t, users)

	// removing an absent entry is not an error
	require.NoError(t, ix.Remove(ctx, "card-1", "alice"))
}

func TestUsersWithAnyItemDeduplicates(t *testing.T) {
	ix, _ := setupIndex(t)
	ctx := context.Background()

	require.NoError(t, ix.Add(ctx, "card-1", "alice"))
	require.NoError(t, ix.Add(ctx, "card-1", "bob"))
	require.NoError(t, ix.Add(ctx, "card-2", "bob"))
	require.NoError(t, ix.Add(ctx, "card-3", "carol"))

	users, err := ix.UsersWithAnyItem(ctx, []string{"card-1", "card-2", "card-9"})
	require.NoError(t, err)
	sort.Strings(users)
	assert.Equal(t, []string{"alice", "bob"}, users)
}

func TestUsersWithAnyItemEmptyWantSet(t *testing.T) {
	ix, _ := setupIndex(t)

	users, err := ix.UsersWithAnyItem(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestRebuildForUser(t *testing.T) {
	ix, _ := setupIndex(t)
	ctx := context.Background()

	require.NoError(t, ix.Add(ctx, "card-1", "alice"))
	require.NoError(t, ix.Add(ctx, "card-2", "alice"))
	require.NoError(t, ix.Add(ctx, "card-1", "bob"))

	// alice dropped card-2 and picked up card-3
	require.NoError(t, ix.RebuildForUser(ctx, "alice", []string{"card-1", "card-3"}))

	users, err := ix.UsersWithItem(ctx, "card-1")
	require.NoError(t, err)
	sort.Strings(users)
	assert.Equal(t, []string{"alice", "bob"}, users)

	users, err = ix.UsersWithItem(ctx, "card-2")
	require.NoError(t, err)
	assert.Empty(t, users)

	users, err = ix.UsersWithItem(ctx, "card-3")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, users)
}

func TestRebuildForUserToEmpty(t *testing.T) {
	ix, _ := setupIndex(t)
	ctx := context.Background()

	require.NoError(t, ix.Add(ctx, "card-1", "alice"))
	require.NoError(t, ix.RebuildForUser(ctx, "alice", nil))

	users, err := ix.UsersWithItem(ctx, "card-1")
	require.NoError(t, err)
	assert.Empty(t, users)
}
