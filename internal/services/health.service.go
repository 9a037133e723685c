package services

import (
	"context"
	"time"

	"github.com/bookline/reminder-engine/pkg/pg"
	"github.com/bookline/reminder-engine/pkg/redis"
)

// HealthService reports whether the backing stores are reachable.
type HealthService struct {
	db    *pg.DB
	redis redis.RedisAdapter
}

func NewHealthService(db *pg.DB, redisAdapter redis.RedisAdapter) *HealthService {
	return &HealthService{
		db:    db,
		redis: redisAdapter,
	}
}

func (s *HealthService) Get() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if s.db != nil {
		sqlDB, err := s.db.Read(ctx).DB()
		if err != nil {
			return err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return err
		}
	}

	if s.redis != nil {
		if _, err := s.redis.Exist("health"); err != nil {
			return err
		}
	}

	return nil
}
