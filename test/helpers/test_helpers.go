package helpers

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bookline/reminder-engine/internal/model"
	"github.com/bookline/reminder-engine/internal/repository"
	"github.com/bookline/reminder-engine/pkg/pg"
	"github.com/bookline/reminder-engine/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func SetupTestDB(t *testing.T) *pg.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&repository.PlanEntity{},
		&repository.TenantEntity{},
		&repository.ScheduleEntity{},
		&repository.AttemptEntity{},
		&repository.UsageRecordEntity{},
		&repository.UsageApplicationEntity{},
		&repository.CycleEntity{},
		&repository.AdjustmentEntity{},
	)
	require.NoError(t, err)

	pgDB := &pg.DB{}
	pgDBValue := reflect.ValueOf(pgDB).Elem()

	readField := pgDBValue.FieldByName("read")
	writeField := pgDBValue.FieldByName("write")

	readField = reflect.NewAt(readField.Type(), readField.Addr().UnsafePointer()).Elem()
	writeField = reflect.NewAt(writeField.Type(), writeField.Addr().UnsafePointer()).Elem()

	readField.Set(reflect.ValueOf(db))
	writeField.Set(reflect.ValueOf(db))

	return pgDB
}

func SetupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	adapter, err := redis.NewRedisAdapter("test", "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	return mr, adapter
}

func CreateTestPlan(t *testing.T, db *pg.DB, tierName string, includedSMS, overageSMSCents int64) *repository.PlanEntity {
	ctx := context.Background()
	plan := &repository.PlanEntity{
		TierName:          tierName,
		IncludedSMS:       includedSMS,
		IncludedEmail:     100,
		OverageSMSCents:   overageSMSCents,
		OverageEmailCents: 1,
		CycleDays:         30,
	}
	err := db.Write(ctx).Create(plan).Error
	require.NoError(t, err)
	return plan
}

func CreateTestTenant(t *testing.T, db *pg.DB, name string, planID int64) *repository.TenantEntity {
	ctx := context.Background()
	tenant := &repository.TenantEntity{
		Name:   name,
		PlanID: planID,
	}
	err := db.Write(ctx).Create(tenant).Error
	require.NoError(t, err)
	return tenant
}

func CreateTestSchedule(t *testing.T, db *pg.DB, tenantID int64, appointmentID string, channel model.Channel, sendAt time.Time) *repository.ScheduleEntity {
	ctx := context.Background()
	schedule := &repository.ScheduleEntity{
		AppointmentID:     appointmentID,
		TenantID:          tenantID,
		Channel:           string(channel),
		Recipient:         "+15550001111",
		OffsetSeconds:     int64((2 * time.Hour) / time.Second),
		AppointmentStart:  sendAt.Add(2 * time.Hour),
		ScheduledSendTime: sendAt,
		Status:            string(model.ScheduleStatusPending),
	}
	err := db.Write(ctx).Create(schedule).Error
	require.NoError(t, err)
	return schedule
}

func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}
