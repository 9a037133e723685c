package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/bookline/reminder-engine/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Mock Redis adapter for testing
type mockRedisAdapter struct {
	data map[string][]byte
	ttls map[string]time.Time
}

func newMockRedisAdapter() *mockRedisAdapter {
	return &mockRedisAdapter{
		data: make(map[string][]byte),
		ttls: make(map[string]time.Time),
	}
}

func (m *mockRedisAdapter) SetNX(key string, value []byte, ttl time.Duration) (bool, error) {
	if _, exists := m.data[key]; exists {
		return false, nil
	}
	m.data[key] = value
	if ttl > 0 {
		m.ttls[key] = time.Now().Add(ttl)
	}
	return true, nil
}

func (m *mockRedisAdapter) Set(key string, value []byte, ttl time.Duration) error {
	m.data[key] = value
	if ttl > 0 {
		m.ttls[key] = time.Now().Add(ttl)
	}
	return nil
}

func (m *mockRedisAdapter) Get(key string) ([]byte, error) {
	if ttl, ok := m.ttls[key]; ok && time.Now().After(ttl) {
		delete(m.data, key)
		delete(m.ttls, key)
		return nil, redis.NilError
	}
	if value, ok := m.data[key]; ok {
		return value, nil
	}
	return nil, redis.NilError
}

func (m *mockRedisAdapter) Del(key string) error {
	delete(m.data, key)
	delete(m.ttls, key)
	return nil
}

func (m *mockRedisAdapter) Exist(key string) (int64, error) {
	if ttl, ok := m.ttls[key]; ok && time.Now().After(ttl) {
		delete(m.data, key)
		delete(m.ttls, key)
		return 0, nil
	}
	if _, ok := m.data[key]; ok {
		return 1, nil
	}
	return 0, nil
}

// Stub implementations for unused methods
func (m *mockRedisAdapter) SMembers(key string) ([]string, error)         { return nil, nil }
func (m *mockRedisAdapter) SAdd(key string, value ...interface{}) error   { return nil }
func (m *mockRedisAdapter) HGet(key string, field string) ([]byte, error) { return nil, nil }
func (m *mockRedisAdapter) HGetAll(key string) (map[string]string, error) { return nil, nil }
func (m *mockRedisAdapter) HScan(key string, cursor uint64, match string, count int64) ([]string, uint64, error) {
	return nil, 0, nil
}
func (m *mockRedisAdapter) SScan(key string, cursor uint64, match string, count int64) ([]string, uint64, error) {
	return nil, 0, nil
}
func (m *mockRedisAdapter) HGetMultiple(keys ...string) (map[string]map[string]string, error) {
	return nil, nil
}
func (m *mockRedisAdapter) HSetIfNotExists(key string, field string, value interface{}) error {
	return nil
}
func (m *mockRedisAdapter) HSet(key string, field string, value interface{}) error { return nil }
func (m *mockRedisAdapter) HIncrement(key string, field string, value int64) error { return nil }
func (m *mockRedisAdapter) HIncrementBatch(coreName, keySuffix string, fieldAndValues map[string]int64, ttl time.Duration) error {
	return nil
}
func (m *mockRedisAdapter) TxPipelined(fn func(goredis.Pipeliner) error) ([]goredis.Cmder, error) {
	return nil, nil
}
func (m *mockRedisAdapter) Client() goredis.UniversalClient { return nil }
func (m *mockRedisAdapter) XAdd(key string, values map[string]interface{}) (string, error) {
	return "", nil
}
func (m *mockRedisAdapter) XAddWithID(key string, id string, values map[string]interface{}) (string, error) {
	return "", nil
}
func (m *mockRedisAdapter) XRead(key string, id string, count int64) ([]redis.StreamMessage, error) {
	return nil, nil
}
func (m *mockRedisAdapter) XReadGroup(group, consumer, key, id string, count int64) ([]redis.StreamMessage, error) {
	return nil, nil
}
func (m *mockRedisAdapter) XAck(key, group string, ids ...string) error           { return nil }
func (m *mockRedisAdapter) XGroupCreate(key, group, start string) error           { return nil }
func (m *mockRedisAdapter) XGroupCreateMkStream(key, group, start string) error   { return nil }
func (m *mockRedisAdapter) XLen(key string) (int64, error)                        { return 0, nil }
func (m *mockRedisAdapter) XDel(key string, ids ...string) error                  { return nil }
func (m *mockRedisAdapter) XTrim(key string, maxLen int64) error                  { return nil }
func (m *mockRedisAdapter) XTrimApprox(key string, maxLen int64) error            { return nil }
func (m *mockRedisAdapter) XPending(key, group string) (*goredis.XPending, error) { return nil, nil }
func (m *mockRedisAdapter) XPendingExt(key, group string, start, end string, count int64) ([]goredis.XPendingExt, error) {
	return nil, nil
}
func (m *mockRedisAdapter) XClaim(key, group, consumer string, minIdle time.Duration, ids ...string) ([]redis.StreamMessage, error) {
	return nil, nil
}

func TestDispatchGuard_AcquireFirst(t *testing.T) {
	guard := NewDispatchGuard(newMockRedisAdapter(), DefaultGuardConfig())

	lease, err := guard.Acquire(context.Background(), 42)
	require.NoError(t, err)
	require.NotNil(t, lease)
	assert.Equal(t, int64(42), lease.ScheduleID)
	assert.True(t, lease.lockAcquired)
}

func TestDispatchGuard_ConcurrentLock(t *testing.T) {
	guard := NewDispatchGuard(newMockRedisAdapter(), DefaultGuardConfig())

	lease1, err := guard.Acquire(context.Background(), 42)
	require.NoError(t, err)

	lease2, err := guard.Acquire(context.Background(), 42)
	assert.ErrorIs(t, err, ErrLockHeld)
	assert.Nil(t, lease2)

	assert.True(t, lease1.lockAcquired)
}

func TestDispatchGuard_MarkDispatched(t *testing.T) {
	guard := NewDispatchGuard(newMockRedisAdapter(), DefaultGuardConfig())
	ctx := context.Background()

	lease, err := guard.Acquire(ctx, 42)
	require.NoError(t, err)
	require.NoError(t, guard.MarkDispatched(ctx, lease))

	done, err := guard.IsDispatched(ctx, 42)
	require.NoError(t, err)
	assert.True(t, done)

	_, err = guard.Acquire(ctx, 42)
	assert.ErrorIs(t, err, ErrAlreadyDispatched)
}

func TestDispatchGuard_Release(t *testing.T) {
	guard := NewDispatchGuard(newMockRedisAdapter(), DefaultGuardConfig())
	ctx := context.Background()

	lease, err := guard.Acquire(ctx, 42)
	require.NoError(t, err)
	require.NoError(t, guard.Release(ctx, lease))
	assert.False(t, lease.lockAcquired)

	// Releasing without the marker leaves the schedule claimable again
	lease2, err := guard.Acquire(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, lease2)
}

func TestDispatchGuard_DistinctSchedules(t *testing.T) {
	guard := NewDispatchGuard(newMockRedisAdapter(), DefaultGuardConfig())
	ctx := context.Background()

	_, err := guard.Acquire(ctx, 1)
	require.NoError(t, err)
	_, err = guard.Acquire(ctx, 2)
	require.NoError(t, err)
}
