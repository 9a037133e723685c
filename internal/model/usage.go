package model

import "time"

// UsageRecord is the billed send count for one (tenant, cycle, channel).
// Counts are monotonic within a cycle; corrections happen as billing
// adjustments, never by mutating historical counts.
type UsageRecord struct {
	TenantID int64   `json:"tenant_id"`
	CycleID  int64   `json:"cycle_id"`
	Channel  Channel `json:"channel"`
	Count    int64   `json:"count"`
}

// UsageApplication marks a schedule as already counted toward usage.
// The unique schedule id is what makes the increment idempotent under
// crash-and-retry of the record-success step.
type UsageApplication struct {
	ScheduleID int64     `json:"schedule_id"`
	TenantID   int64     `json:"tenant_id"`
	CycleID    int64     `json:"cycle_id"`
	Channel    Channel   `json:"channel"`
	CreatedAt  time.Time `json:"created_at"`
}
