package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bookline/reminder-engine/pkg/logger"
	"github.com/bookline/reminder-engine/pkg/redis"
)

var (
	ErrAlreadyDispatched = errors.New("schedule already dispatched")
	ErrLockHeld          = errors.New("schedule lock held by another dispatcher")
)

type GuardConfig struct {
	LockTTL time.Duration

	DispatchedTTL time.Duration

	LockKeyPrefix string

	DispatchedKeyPrefix string
}

func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		LockTTL:             5 * time.Minute,
		DispatchedTTL:       24 * time.Hour,
		LockKeyPrefix:       "dispatch:lock:",
		DispatchedKeyPrefix: "dispatch:done:",
	}
}

// DispatchGuard keeps two dispatcher instances off the same schedule.
// The database claim is the source of truth; the redis lock just stops
// instances from burning provider calls racing each other, and the
// dispatched marker short-circuits replays of already handled schedules.
type DispatchGuard struct {
	redis  redis.RedisAdapter
	config GuardConfig
}

func NewDispatchGuard(redisAdapter redis.RedisAdapter, config GuardConfig) *DispatchGuard {
	return &DispatchGuard{
		redis:  redisAdapter,
		config: config,
	}
}

type DispatchLease struct {
	ScheduleID   int64
	lockAcquired bool
}

func (g *DispatchGuard) Acquire(ctx context.Context, scheduleID int64) (*DispatchLease, error) {
	doneKey := g.doneKey(scheduleID)
	exists, err := g.redis.Exist(doneKey)
	if err != nil {
		logger.Warn("failed to check dispatched marker", "schedule_id", scheduleID, "error", err)
		// Better to risk a duplicate lock round-trip than block dispatch
	} else if exists > 0 {
		return nil, ErrAlreadyDispatched
	}

	lockKey := g.lockKey(scheduleID)
	lockValue := []byte(fmt.Sprintf("%d", time.Now().UnixNano()))

	acquired, err := g.redis.SetNX(lockKey, lockValue, g.config.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire dispatch lock: %w", err)
	}
	if !acquired {
		return nil, ErrLockHeld
	}

	return &DispatchLease{ScheduleID: scheduleID, lockAcquired: true}, nil
}

// MarkDispatched records the terminal outcome so a replayed poll skips
// the schedule, then drops the lock.
func (g *DispatchGuard) MarkDispatched(ctx context.Context, lease *DispatchLease) error {
	doneKey := g.doneKey(lease.ScheduleID)
	if err := g.redis.Set(doneKey, []byte("1"), g.config.DispatchedTTL); err != nil {
		return fmt.Errorf("mark dispatched: %w", err)
	}
	return g.Release(ctx, lease)
}

func (g *DispatchGuard) Release(ctx context.Context, lease *DispatchLease) error {
	if lease == nil || !lease.lockAcquired {
		return nil
	}
	if err := g.redis.Del(g.lockKey(lease.ScheduleID)); err != nil {
		logger.Warn("failed to release dispatch lock", "schedule_id", lease.ScheduleID, "error", err)
		return err
	}
	lease.lockAcquired = false
	return nil
}

func (g *DispatchGuard) IsDispatched(ctx context.Context, scheduleID int64) (bool, error) {
	exists, err := g.redis.Exist(g.doneKey(scheduleID))
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

func (g *DispatchGuard) lockKey(scheduleID int64) string {
	return fmt.Sprintf("%s%d", g.config.LockKeyPrefix, scheduleID)
}

func (g *DispatchGuard) doneKey(scheduleID int64) string {
	return fmt.Sprintf("%s%d", g.config.DispatchedKeyPrefix, scheduleID)
}
