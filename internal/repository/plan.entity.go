package repository

import (
	"github.com/bookline/reminder-engine/internal/model"
)

type PlanEntity struct {
	ID                int64  `db:"id"                  gorm:"primaryKey;autoIncrement;column:id"`
	TierName          string `db:"tier_name"           gorm:"column:tier_name;not null;uniqueIndex"`
	IncludedSMS       int64  `db:"included_sms"        gorm:"column:included_sms;not null"`
	IncludedEmail     int64  `db:"included_email"      gorm:"column:included_email;not null"`
	OverageSMSCents   int64  `db:"overage_sms_cents"   gorm:"column:overage_sms_cents;not null"`
	OverageEmailCents int64  `db:"overage_email_cents" gorm:"column:overage_email_cents;not null"`
	CycleDays         int    `db:"cycle_days"          gorm:"column:cycle_days;not null"`
}

func (PlanEntity) TableName() string { return "communication_plans" }

type TenantEntity struct {
	ID     int64  `db:"id"      gorm:"primaryKey;autoIncrement;column:id"`
	Name   string `db:"name"    gorm:"column:name;not null"`
	PlanID int64  `db:"plan_id" gorm:"column:plan_id;not null;index"`
}

func (TenantEntity) TableName() string { return "tenants" }

func toPlanEntity(p *model.CommunicationPlan) *PlanEntity {
	if p == nil {
		return nil
	}
	return &PlanEntity{
		ID:                p.ID,
		TierName:          p.TierName,
		IncludedSMS:       p.IncludedSMS,
		IncludedEmail:     p.IncludedEmail,
		OverageSMSCents:   p.OverageSMSCents,
		OverageEmailCents: p.OverageEmailCents,
		CycleDays:         p.CycleDays,
	}
}

func toPlanModel(e *PlanEntity) *model.CommunicationPlan {
	if e == nil {
		return nil
	}
	return &model.CommunicationPlan{
		ID:                e.ID,
		TierName:          e.TierName,
		IncludedSMS:       e.IncludedSMS,
		IncludedEmail:     e.IncludedEmail,
		OverageSMSCents:   e.OverageSMSCents,
		OverageEmailCents: e.OverageEmailCents,
		CycleDays:         e.CycleDays,
	}
}

func toTenantEntity(t *model.Tenant) *TenantEntity {
	if t == nil {
		return nil
	}
	return &TenantEntity{ID: t.ID, Name: t.Name, PlanID: t.PlanID}
}

func toTenantModel(e *TenantEntity) *model.Tenant {
	if e == nil {
		return nil
	}
	return &model.Tenant{ID: e.ID, Name: e.Name, PlanID: e.PlanID}
}
