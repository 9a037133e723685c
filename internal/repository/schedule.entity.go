package repository

import (
	"time"

	"github.com/bookline/reminder-engine/internal/model"
)

type ScheduleEntity struct {
	ID                int64     `db:"id"                  gorm:"primaryKey;autoIncrement;column:id"`
	AppointmentID     string    `db:"appointment_id"      gorm:"column:appointment_id;not null;index"`
	TenantID          int64     `db:"tenant_id"           gorm:"column:tenant_id;not null;index"`
	Channel           string    `db:"channel"             gorm:"column:channel;not null"`
	Recipient         string    `db:"recipient"           gorm:"column:recipient;not null"`
	OffsetSeconds     int64     `db:"offset_seconds"      gorm:"column:offset_seconds;not null"`
	ClientName        string    `db:"client_name"         gorm:"column:client_name"`
	ServiceName       string    `db:"service_name"        gorm:"column:service_name"`
	AppointmentStart  time.Time `db:"appointment_start"   gorm:"column:appointment_start;not null"`
	ScheduledSendTime time.Time `db:"scheduled_send_time" gorm:"column:scheduled_send_time;not null;index"`
	Status            string    `db:"status"              gorm:"column:status;not null;index"`
	CreatedAt         time.Time `db:"created_at"          gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time `db:"updated_at"          gorm:"column:updated_at;autoUpdateTime"`
}

func (ScheduleEntity) TableName() string { return "reminder_schedules" }

func toScheduleEntity(s *model.ReminderSchedule) *ScheduleEntity {
	if s == nil {
		return nil
	}
	return &ScheduleEntity{
		ID:                s.ID,
		AppointmentID:     s.AppointmentID,
		TenantID:          s.TenantID,
		Channel:           string(s.Channel),
		Recipient:         s.Recipient,
		OffsetSeconds:     int64(s.Offset / time.Second),
		ClientName:        s.ClientName,
		ServiceName:       s.ServiceName,
		AppointmentStart:  s.AppointmentStart,
		ScheduledSendTime: s.ScheduledSendTime,
		Status:            string(s.Status),
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}

func toScheduleModel(e *ScheduleEntity) *model.ReminderSchedule {
	if e == nil {
		return nil
	}
	return &model.ReminderSchedule{
		ID:                e.ID,
		AppointmentID:     e.AppointmentID,
		TenantID:          e.TenantID,
		Channel:           model.Channel(e.Channel),
		Recipient:         e.Recipient,
		Offset:            time.Duration(e.OffsetSeconds) * time.Second,
		ClientName:        e.ClientName,
		ServiceName:       e.ServiceName,
		AppointmentStart:  e.AppointmentStart,
		ScheduledSendTime: e.ScheduledSendTime,
		Status:            model.ScheduleStatus(e.Status),
		CreatedAt:         e.CreatedAt,
		UpdatedAt:         e.UpdatedAt,
	}
}

func toScheduleModels(entities []*ScheduleEntity) []*model.ReminderSchedule {
	if entities == nil {
		return nil
	}
	models := make([]*model.ReminderSchedule, len(entities))
	for i, e := range entities {
		models[i] = toScheduleModel(e)
	}
	return models
}
