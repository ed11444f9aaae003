package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisLockExclusive(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()
	key := RunKey("DB.SCHEMA.CONVERSIONS", "1234567890")

	first := NewRedisLock(client, key, time.Minute)
	second := NewRedisLock(client, key, time.Minute)

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must be refused")

	assert.ErrorIs(t, second.Release(ctx), ErrNotHeld, "non-owner cannot release")

	require.NoError(t, first.Release(ctx))
	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLockExpiresAndExtend(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()

	lock := NewRedisLock(client, "k", time.Second)
	ok, err := lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, lock.Extend(ctx, time.Minute))
	assert.Equal(t, time.Minute, mr.TTL("lock:k"))

	mr.FastForward(2 * time.Minute)
	assert.ErrorIs(t, lock.Extend(ctx, time.Minute), ErrNotHeld)
}

func TestFactoryPrefersRedis(t *testing.T) {
	_, client := newRedis(t)
	f := NewFactory(client, nil, time.Minute)
	_, ok := f("x").(*RedisLock)
	assert.True(t, ok)

	f = NewFactory(nil, nil, time.Minute)
	_, ok = f("x").(*PGAdvisoryLock)
	assert.True(t, ok)
}

func TestPGAdvisoryLock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	lock := NewPGAdvisoryLock(db, RunKey("a", "b"))
	mock.ExpectQuery(`SELECT pg_try_advisory_lock\(\$1\)`).
		WithArgs(lock.lockID).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectQuery(`SELECT pg_advisory_unlock\(\$1\)`).
		WithArgs(lock.lockID).
		WillReturnRows(sqlmock.NewRows([]string{"pg_advisory_unlock"}).AddRow(true))

	ctx := context.Background()
	ok, err := lock.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, lock.Release(ctx))
	assert.ErrorIs(t, lock.Release(ctx), ErrNotHeld)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGAdvisoryLockBusy(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	lock := NewPGAdvisoryLock(db, "busy")
	mock.ExpectQuery(`SELECT pg_try_advisory_lock`).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	ok, err := lock.Acquire(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunKey(t *testing.T) {
	assert.Equal(t, "conversion-sync:run:db.s.t:42", RunKey("db.s.t", "42"))
}

func TestKeepaliveOutlivesTTL(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()
	key := RunKey("DB.SCHEMA.CONVERSIONS", "1234567890")

	lock := NewRedisLock(client, key, time.Minute)
	ok, err := lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	stop := Keepalive(ctx, lock, time.Minute, 5*time.Millisecond)
	for i := 0; i < 4; i++ {
		mr.FastForward(40 * time.Second)
		require.Eventually(t, func() bool { return mr.TTL("lock:"+key) > 40*time.Second },
			time.Second, 5*time.Millisecond, "keepalive should refresh the ttl")
	}

	rival := NewRedisLock(client, key, time.Minute)
	ok, err = rival.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "lock must survive past its original ttl")

	stop()
	stop()
	require.NoError(t, lock.Release(ctx))
}

func TestKeepaliveStopsRefreshing(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()

	lock := NewRedisLock(client, "k", time.Minute)
	ok, err := lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	stop := Keepalive(ctx, lock, time.Minute, 5*time.Millisecond)
	stop()

	mr.FastForward(2 * time.Minute)
	assert.False(t, mr.Exists("lock:k"))
	assert.ErrorIs(t, lock.Release(ctx), ErrNotHeld)
}

func TestKeepaliveIgnoresNonExpiringLocks(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	stop := Keepalive(context.Background(), NewPGAdvisoryLock(db, "k"), time.Minute, time.Millisecond)
	assert.NotPanics(t, stop)
}
