package repository

import (
	"time"

	"github.com/bookline/reminder-engine/internal/model"
)

type AttemptEntity struct {
	ID             int64     `db:"id"              gorm:"primaryKey;autoIncrement;column:id"`
	ScheduleID     int64     `db:"schedule_id"     gorm:"column:schedule_id;not null;index"`
	TenantID       int64     `db:"tenant_id"       gorm:"column:tenant_id;not null;index"`
	Channel        string    `db:"channel"         gorm:"column:channel;not null"`
	AttemptNumber  int       `db:"attempt_number"  gorm:"column:attempt_number;not null"`
	Result         string    `db:"result"          gorm:"column:result;not null;index"`
	ProviderRef    string    `db:"provider_ref"    gorm:"column:provider_ref;index"`
	ProviderStatus string    `db:"provider_status" gorm:"column:provider_status"`
	ErrorMessage   string    `db:"error_message"   gorm:"column:error_message"`
	CreatedAt      time.Time `db:"created_at"      gorm:"column:created_at;autoCreateTime"`
}

func (AttemptEntity) TableName() string { return "reminder_attempts" }

func toAttemptEntity(a *model.ReminderAttempt) *AttemptEntity {
	if a == nil {
		return nil
	}
	return &AttemptEntity{
		ID:             a.ID,
		ScheduleID:     a.ScheduleID,
		TenantID:       a.TenantID,
		Channel:        string(a.Channel),
		AttemptNumber:  a.AttemptNumber,
		Result:         string(a.Result),
		ProviderRef:    a.ProviderRef,
		ProviderStatus: a.ProviderStatus,
		ErrorMessage:   a.ErrorMessage,
		CreatedAt:      a.CreatedAt,
	}
}

func toAttemptModel(e *AttemptEntity) *model.ReminderAttempt {
	if e == nil {
		return nil
	}
	return &model.ReminderAttempt{
		ID:             e.ID,
		ScheduleID:     e.ScheduleID,
		TenantID:       e.TenantID,
		Channel:        model.Channel(e.Channel),
		AttemptNumber:  e.AttemptNumber,
		Result:         model.AttemptResult(e.Result),
		ProviderRef:    e.ProviderRef,
		ProviderStatus: e.ProviderStatus,
		ErrorMessage:   e.ErrorMessage,
		CreatedAt:      e.CreatedAt,
	}
}

func toAttemptModels(entities []*AttemptEntity) []*model.ReminderAttempt {
	if entities == nil {
		return nil
	}
	models := make([]*model.ReminderAttempt, len(entities))
	for i, e := range entities {
		models[i] = toAttemptModel(e)
	}
	return models
}
