package model

import "time"

type AttemptResult string

const (
	AttemptResultSuccess          AttemptResult = "success"
	AttemptResultTransientFailure AttemptResult = "transient_failure"
	AttemptResultPermanentFailure AttemptResult = "permanent_failure"
)

// ReminderAttempt is one delivery attempt for a schedule. Rows are
// append-only; the provider status may be updated later by the
// delivery-status webhook, which is analytics-only.
type ReminderAttempt struct {
	ID             int64         `json:"id"`
	ScheduleID     int64         `json:"schedule_id"`
	TenantID       int64         `json:"tenant_id"`
	Channel        Channel       `json:"channel"`
	AttemptNumber  int           `json:"attempt_number"`
	Result         AttemptResult `json:"result"`
	ProviderRef    string        `json:"provider_ref,omitempty"`
	ProviderStatus string        `json:"provider_status,omitempty"`
	ErrorMessage   string        `json:"error_message,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// DeadLetterFilter controls dead-letter listing queries. Dead-letter rows
// are attempts whose result is permanent_failure.
type DeadLetterFilter struct {
	TenantID *int64
	Channel  *Channel
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
	Desc     bool
}
