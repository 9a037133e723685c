package repository

import (
	"time"

	"github.com/bookline/reminder-engine/internal/model"
)

type UsageRecordEntity struct {
	TenantID int64  `db:"tenant_id" gorm:"primaryKey;autoIncrement:false;column:tenant_id"`
	CycleID  int64  `db:"cycle_id"  gorm:"primaryKey;autoIncrement:false;column:cycle_id"`
	Channel  string `db:"channel"   gorm:"primaryKey;column:channel"`
	Count    int64  `db:"count"     gorm:"column:count;not null;default:0"`
}

func (UsageRecordEntity) TableName() string { return "usage_records" }

// UsageApplicationEntity is the durable set of schedule ids already
// counted. The primary key on schedule_id is the idempotency guard.
type UsageApplicationEntity struct {
	ScheduleID int64     `db:"schedule_id" gorm:"primaryKey;autoIncrement:false;column:schedule_id"`
	TenantID   int64     `db:"tenant_id"   gorm:"column:tenant_id;not null;index"`
	CycleID    int64     `db:"cycle_id"    gorm:"column:cycle_id;not null;index"`
	Channel    string    `db:"channel"     gorm:"column:channel;not null"`
	CreatedAt  time.Time `db:"created_at"  gorm:"column:created_at;autoCreateTime"`
}

func (UsageApplicationEntity) TableName() string { return "usage_applications" }

func toUsageRecordModel(e *UsageRecordEntity) *model.UsageRecord {
	if e == nil {
		return nil
	}
	return &model.UsageRecord{
		TenantID: e.TenantID,
		CycleID:  e.CycleID,
		Channel:  model.Channel(e.Channel),
		Count:    e.Count,
	}
}
