package model

import "time"

// ScheduleStatus is the lifecycle state of a reminder schedule.
type ScheduleStatus string

const (
	ScheduleStatusPending  ScheduleStatus = "pending"
	ScheduleStatusInFlight ScheduleStatus = "in_flight"
	ScheduleStatusSent     ScheduleStatus = "sent"
	ScheduleStatusCanceled ScheduleStatus = "canceled"
	ScheduleStatusFailed   ScheduleStatus = "failed"
)

// ReminderSchedule is one planned reminder send for an appointment on a
// single channel. Canceled and sent are terminal; a rescheduled
// appointment gets fresh rows, old ones are never mutated back to pending.
type ReminderSchedule struct {
	ID               int64          `json:"id"`
	AppointmentID    string         `json:"appointment_id"`
	TenantID         int64          `json:"tenant_id"`
	Channel          Channel        `json:"channel"`
	Recipient        string         `json:"recipient"`
	Offset           time.Duration  `json:"offset"`
	ClientName       string         `json:"client_name"`
	ServiceName      string         `json:"service_name"`
	AppointmentStart time.Time      `json:"appointment_start"`
	ScheduledSendTime time.Time     `json:"scheduled_send_time"`
	Status           ScheduleStatus `json:"status"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// ScheduleFilter controls schedule listing queries.
type ScheduleFilter struct {
	TenantID      *int64
	AppointmentID *string
	Statuses      []ScheduleStatus
	From          *time.Time
	To            *time.Time
	Limit         int // default 50
	Offset        int
	Desc          bool // order by scheduled_send_time
}
