package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewStore(client, time.Hour, nil), mr
}

func TestSessionLifecycle(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	token, err := store.Create(ctx, &Session{PrincipalID: 5, IPAddress: "10.0.0.1"})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	sess, err := store.Get(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, int64(5), sess.PrincipalID)
	assert.Equal(t, "10.0.0.1", sess.IPAddress)
	assert.False(t, sess.CreatedAt.IsZero())

	require.NoError(t, store.Destroy(ctx, token))
	_, err = store.Get(ctx, token)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetUnknownToken(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Get(context.Background(), "no-such-token")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDestroyIsIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	assert.NoError(t, store.Destroy(context.Background(), "no-such-token"))
}

func TestSessionExpiry(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	token, err := store.Create(ctx, &Session{PrincipalID: 5})
	require.NoError(t, err)

	mr.FastForward(2 * time.Hour)
	_, err = store.Get(ctx, token)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDestroyAllForPrincipal(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	t1, err := store.Create(ctx, &Session{PrincipalID: 5})
	require.NoError(t, err)
	t2, err := store.Create(ctx, &Session{PrincipalID: 5})
	require.NoError(t, err)
	other, err := store.Create(ctx, &Session{PrincipalID: 9})
	require.NoError(t, err)

	require.NoError(t, store.DestroyAllForPrincipal(ctx, 5))

	_, err = store.Get(ctx, t1)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(ctx, t2)
	assert.ErrorIs(t, err, ErrNotFound)

	// Other principals' sessions survive.
	sess, err := store.Get(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, int64(9), sess.PrincipalID)
}

func TestPruneIndexes(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	dead, err := store.Create(ctx, &Session{PrincipalID: 5})
	require.NoError(t, err)
	live, err := store.Create(ctx, &Session{PrincipalID: 5})
	require.NoError(t, err)

	// Simulate the session key expiring out from under its index entry.
	mr.Del(sessionKey(dead))

	pruned, err := store.PruneIndexes(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	// The live session and its index entry are untouched.
	_, err = store.Get(ctx, live)
	require.NoError(t, err)
	require.NoError(t, store.DestroyAllForPrincipal(ctx, 5))
	_, err = store.Get(ctx, live)
	assert.ErrorIs(t, err, ErrNotFound)
}
