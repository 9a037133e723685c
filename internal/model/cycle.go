package model

import "time"

// BillingCycle is a fixed usage window for a tenant. PlanSnapshot is a
// copy of the plan active at cycle start; billing always reads the
// snapshot so later plan edits cannot change a closed cycle.
//
// Closed and Billed are separate flags: a cycle can be closed (usage
// frozen, adjustment computed) while billing submission is still pending
// after a processor outage.
type BillingCycle struct {
	ID           int64             `json:"id"`
	TenantID     int64             `json:"tenant_id"`
	Start        time.Time         `json:"start"`
	End          time.Time         `json:"end"`
	PlanSnapshot CommunicationPlan `json:"plan_snapshot"`
	Closed       bool              `json:"closed"`
	Billed       bool              `json:"billed"`
	ClosedAt     *time.Time        `json:"closed_at,omitempty"`
	BilledAt     *time.Time        `json:"billed_at,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Contains reports whether t falls inside the cycle window.
func (c *BillingCycle) Contains(t time.Time) bool {
	return !t.Before(c.Start) && t.Before(c.End)
}

// AdjustmentLine is the per-channel breakdown of an invoice adjustment.
type AdjustmentLine struct {
	Channel        Channel `json:"channel"`
	UsageCount     int64   `json:"usage_count"`
	IncludedCount  int64   `json:"included_count"`
	OverageUnits   int64   `json:"overage_units"`
	UnitPriceCents int64   `json:"unit_price_cents"`
	AmountCents    int64   `json:"amount_cents"`
}

// InvoiceAdjustment is the immutable overage charge produced when a cycle
// closes. Exactly one exists per cycle.
type InvoiceAdjustment struct {
	ID             int64            `json:"id"`
	CycleID        int64            `json:"cycle_id"`
	TenantID       int64            `json:"tenant_id"`
	TotalCents     int64            `json:"total_cents"`
	LineItems      []AdjustmentLine `json:"line_items"`
	ConfirmationID string           `json:"confirmation_id,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}
