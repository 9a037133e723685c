package meter

import (
	"context"
	"time"

	"github.com/bookline/reminder-engine/internal/model"
	"github.com/bookline/reminder-engine/internal/repository"
	"github.com/bookline/reminder-engine/pkg/logger"
	"github.com/bookline/reminder-engine/pkg/prom"
	"github.com/pkg/errors"
)

type UsageRepository interface {
	Apply(ctx context.Context, app *model.UsageApplication) error
	IsApplied(ctx context.Context, scheduleID int64) (bool, error)
	GetUsage(ctx context.Context, tenantID, cycleID int64) (map[model.Channel]int64, error)
}

type ScheduleMarker interface {
	MarkSent(ctx context.Context, id int64) error
}

type PlanResolver interface {
	GetPlanForTenant(ctx context.Context, tenantID int64) (*model.CommunicationPlan, error)
}

type CycleResolver interface {
	GetOrOpenCurrent(ctx context.Context, tenantID int64, plan *model.CommunicationPlan, now time.Time) (*model.BillingCycle, error)
}

// Transactor runs fn within a single database transaction.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Meter records one usage unit per successfully delivered reminder.
// The schedule ID doubles as the idempotency key, so replaying a
// delivery after a crash never double-counts.
type Meter struct {
	usage     UsageRepository
	schedules ScheduleMarker
	plans     PlanResolver
	cycles    CycleResolver
	tx        Transactor
	now       func() time.Time
}

func New(usage UsageRepository, schedules ScheduleMarker, plans PlanResolver, cycles CycleResolver, tx Transactor) *Meter {
	return &Meter{
		usage:     usage,
		schedules: schedules,
		plans:     plans,
		cycles:    cycles,
		tx:        tx,
		now:       time.Now,
	}
}

// RecordSuccess increments the tenant's usage counter for the schedule's
// channel and marks the schedule sent, atomically. Replays are no-ops:
// if the usage application already exists the counter is untouched and
// the sent mark is reconciled if the first run died between the two writes.
func (m *Meter) RecordSuccess(ctx context.Context, schedule *model.ReminderSchedule) error {
	plan, err := m.plans.GetPlanForTenant(ctx, schedule.TenantID)
	if err != nil {
		return errors.Wrap(err, "meter: resolve plan")
	}

	cycle, err := m.cycles.GetOrOpenCurrent(ctx, schedule.TenantID, plan, m.now())
	if err != nil {
		return errors.Wrap(err, "meter: resolve cycle")
	}

	return m.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		err := m.usage.Apply(ctx, &model.UsageApplication{
			ScheduleID: schedule.ID,
			TenantID:   schedule.TenantID,
			CycleID:    cycle.ID,
			Channel:    schedule.Channel,
		})
		if errors.Is(err, repository.ErrAlreadyApplied) {
			logger.Debug("usage already applied, reconciling sent mark",
				"schedule_id", schedule.ID,
				"tenant_id", schedule.TenantID)
			if err := m.schedules.MarkSent(ctx, schedule.ID); err != nil &&
				!errors.Is(err, repository.ErrInvalidTransition) {
				return err
			}
			return nil
		}
		if err != nil {
			return err
		}
		if err := m.schedules.MarkSent(ctx, schedule.ID); err != nil {
			return err
		}
		prom.IncUsageApplied(string(schedule.Channel))
		return nil
	})
}

// Usage returns the tenant's per-channel counters for a cycle.
func (m *Meter) Usage(ctx context.Context, tenantID, cycleID int64) (map[model.Channel]int64, error) {
	return m.usage.GetUsage(ctx, tenantID, cycleID)
}

// CurrentCycle resolves (opening if needed) the tenant's active cycle.
func (m *Meter) CurrentCycle(ctx context.Context, tenantID int64) (*model.BillingCycle, error) {
	plan, err := m.plans.GetPlanForTenant(ctx, tenantID)
	if err != nil {
		return nil, errors.Wrap(err, "meter: resolve plan")
	}
	return m.cycles.GetOrOpenCurrent(ctx, tenantID, plan, m.now())
}
