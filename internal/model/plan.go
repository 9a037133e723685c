package model

import "errors"

// CommunicationPlan is a subscription tier with included send quotas and
// per-unit overage prices in cents. Plans are immutable for cycles that
// already snapshotted them; edits take effect at the next cycle start.
type CommunicationPlan struct {
	ID                int64  `json:"id"`
	TierName          string `json:"tier_name"`
	IncludedSMS       int64  `json:"included_sms"`
	IncludedEmail     int64  `json:"included_email"`
	OverageSMSCents   int64  `json:"overage_sms_cents"`
	OverageEmailCents int64  `json:"overage_email_cents"`
	CycleDays         int    `json:"cycle_days"`
}

func (p *CommunicationPlan) Validate() error {
	if p.TierName == "" {
		return errors.New("tier_name is required")
	}
	if p.CycleDays <= 0 {
		return errors.New("cycle_days must be positive")
	}
	if p.IncludedSMS < 0 || p.IncludedEmail < 0 {
		return errors.New("included counts cannot be negative")
	}
	if p.OverageSMSCents < 0 || p.OverageEmailCents < 0 {
		return errors.New("overage prices cannot be negative")
	}
	return nil
}

// Included returns the quota for a channel. Push sends are metered but
// carry no quota or overage price, so they bill as unlimited.
func (p *CommunicationPlan) Included(c Channel) (count int64, metered bool) {
	switch c {
	case ChannelSMS:
		return p.IncludedSMS, true
	case ChannelEmail:
		return p.IncludedEmail, true
	}
	return 0, false
}

func (p *CommunicationPlan) OverageCents(c Channel) int64 {
	switch c {
	case ChannelSMS:
		return p.OverageSMSCents
	case ChannelEmail:
		return p.OverageEmailCents
	}
	return 0
}

// Tenant is the business account being billed for reminder usage.
type Tenant struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	PlanID int64  `json:"plan_id"`
}
