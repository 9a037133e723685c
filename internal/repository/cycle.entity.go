package repository

import (
	"encoding/json"
	"time"

	"github.com/bookline/reminder-engine/internal/model"
)

type CycleEntity struct {
	ID           int64      `db:"id"            gorm:"primaryKey;autoIncrement;column:id"`
	TenantID     int64      `db:"tenant_id"     gorm:"column:tenant_id;not null;uniqueIndex:idx_cycle_tenant_start"`
	Start        time.Time  `db:"start"         gorm:"column:start;not null;uniqueIndex:idx_cycle_tenant_start"`
	End          time.Time  `db:"end"           gorm:"column:end;not null;index"`
	PlanSnapshot string     `db:"plan_snapshot" gorm:"column:plan_snapshot;not null"`
	Closed       bool       `db:"closed"        gorm:"column:closed;not null;default:false;index"`
	Billed       bool       `db:"billed"        gorm:"column:billed;not null;default:false"`
	ClosedAt     *time.Time `db:"closed_at"     gorm:"column:closed_at"`
	BilledAt     *time.Time `db:"billed_at"     gorm:"column:billed_at"`
	CreatedAt    time.Time  `db:"created_at"    gorm:"column:created_at;autoCreateTime"`
}

func (CycleEntity) TableName() string { return "billing_cycles" }

type AdjustmentEntity struct {
	ID             int64     `db:"id"              gorm:"primaryKey;autoIncrement;column:id"`
	CycleID        int64     `db:"cycle_id"        gorm:"column:cycle_id;not null;uniqueIndex"`
	TenantID       int64     `db:"tenant_id"       gorm:"column:tenant_id;not null;index"`
	TotalCents     int64     `db:"total_cents"     gorm:"column:total_cents;not null"`
	LineItems      string    `db:"line_items"      gorm:"column:line_items;not null"`
	ConfirmationID string    `db:"confirmation_id" gorm:"column:confirmation_id"`
	CreatedAt      time.Time `db:"created_at"      gorm:"column:created_at;autoCreateTime"`
}

func (AdjustmentEntity) TableName() string { return "invoice_adjustments" }

func toCycleEntity(c *model.BillingCycle) (*CycleEntity, error) {
	if c == nil {
		return nil, nil
	}
	snapshot, err := json.Marshal(c.PlanSnapshot)
	if err != nil {
		return nil, err
	}
	return &CycleEntity{
		ID:           c.ID,
		TenantID:     c.TenantID,
		Start:        c.Start,
		End:          c.End,
		PlanSnapshot: string(snapshot),
		Closed:       c.Closed,
		Billed:       c.Billed,
		ClosedAt:     c.ClosedAt,
		BilledAt:     c.BilledAt,
		CreatedAt:    c.CreatedAt,
	}, nil
}

func toCycleModel(e *CycleEntity) (*model.BillingCycle, error) {
	if e == nil {
		return nil, nil
	}
	var snapshot model.CommunicationPlan
	if err := json.Unmarshal([]byte(e.PlanSnapshot), &snapshot); err != nil {
		return nil, err
	}
	return &model.BillingCycle{
		ID:           e.ID,
		TenantID:     e.TenantID,
		Start:        e.Start,
		End:          e.End,
		PlanSnapshot: snapshot,
		Closed:       e.Closed,
		Billed:       e.Billed,
		ClosedAt:     e.ClosedAt,
		BilledAt:     e.BilledAt,
		CreatedAt:    e.CreatedAt,
	}, nil
}

func toAdjustmentEntity(a *model.InvoiceAdjustment) (*AdjustmentEntity, error) {
	if a == nil {
		return nil, nil
	}
	lines, err := json.Marshal(a.LineItems)
	if err != nil {
		return nil, err
	}
	return &AdjustmentEntity{
		ID:             a.ID,
		CycleID:        a.CycleID,
		TenantID:       a.TenantID,
		TotalCents:     a.TotalCents,
		LineItems:      string(lines),
		ConfirmationID: a.ConfirmationID,
		CreatedAt:      a.CreatedAt,
	}, nil
}

func toAdjustmentModel(e *AdjustmentEntity) (*model.InvoiceAdjustment, error) {
	if e == nil {
		return nil, nil
	}
	var lines []model.AdjustmentLine
	if err := json.Unmarshal([]byte(e.LineItems), &lines); err != nil {
		return nil, err
	}
	return &model.InvoiceAdjustment{
		ID:             e.ID,
		CycleID:        e.CycleID,
		TenantID:       e.TenantID,
		TotalCents:     e.TotalCents,
		LineItems:      lines,
		ConfirmationID: e.ConfirmationID,
		CreatedAt:      e.CreatedAt,
	}, nil
}
