package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/bookline/reminder-engine/internal/billing"
	"github.com/bookline/reminder-engine/internal/model"
	"github.com/bookline/reminder-engine/internal/queue"
	"github.com/bookline/reminder-engine/internal/repository"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidEvent   = fmt.Errorf("invalid appointment event")
	ErrCycleStillOpen = errors.New("cycle still open")
)

type ScheduleRepository interface {
	GetByID(ctx context.Context, id int64) (*model.ReminderSchedule, error)
	List(ctx context.Context, f model.ScheduleFilter) ([]*model.ReminderSchedule, int64, error)
}

type AttemptRepository interface {
	ListBySchedule(ctx context.Context, scheduleID int64) ([]*model.ReminderAttempt, error)
	ListDeadLetter(ctx context.Context, f model.DeadLetterFilter) ([]*model.ReminderAttempt, int64, error)
	UpdateProviderStatus(ctx context.Context, providerRef, status string) error
}

type TenantRepository interface {
	GetTenant(ctx context.Context, id int64) (*model.Tenant, error)
}

type UsageMeter interface {
	Usage(ctx context.Context, tenantID, cycleID int64) (map[model.Channel]int64, error)
	CurrentCycle(ctx context.Context, tenantID int64) (*model.BillingCycle, error)
}

type CycleCloser interface {
	CloseCycle(ctx context.Context, cycleID int64) (*model.InvoiceAdjustment, error)
}

// AdminService backs the operator API: usage views, dead-letter
// inspection, manual cycle close and event intake.
type AdminService struct {
	schedules ScheduleRepository
	attempts  AttemptRepository
	tenants   TenantRepository
	meter     UsageMeter
	closer    CycleCloser
	events    *queue.Queue
}

func NewAdminService(schedules ScheduleRepository, attempts AttemptRepository, tenants TenantRepository,
	meter UsageMeter, closer CycleCloser, events *queue.Queue) *AdminService {
	return &AdminService{
		schedules: schedules,
		attempts:  attempts,
		tenants:   tenants,
		meter:     meter,
		closer:    closer,
		events:    events,
	}
}

// TenantUsageView is the current-cycle usage snapshot for one tenant.
type TenantUsageView struct {
	Tenant   *model.Tenant           `json:"tenant"`
	Cycle    *model.BillingCycle     `json:"cycle"`
	Usage    []ChannelUsage          `json:"usage"`
	RawUsage map[model.Channel]int64 `json:"-"`
}

type ChannelUsage struct {
	Channel  model.Channel `json:"channel"`
	Used     int64         `json:"used"`
	Included int64         `json:"included"`
	Metered  bool          `json:"metered"`
}

// TenantUsage reports the tenant's consumption against the quota of the
// cycle's plan snapshot.
func (s *AdminService) TenantUsage(ctx context.Context, tenantID int64) (*TenantUsageView, error) {
	tenant, err := s.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, repository.ErrTenantNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	cycle, err := s.meter.CurrentCycle(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	usage, err := s.meter.Usage(ctx, tenantID, cycle.ID)
	if err != nil {
		return nil, err
	}

	view := &TenantUsageView{Tenant: tenant, Cycle: cycle, RawUsage: usage}
	for _, channel := range model.AllChannels {
		included, metered := cycle.PlanSnapshot.Included(channel)
		view.Usage = append(view.Usage, ChannelUsage{
			Channel:  channel,
			Used:     usage[channel],
			Included: included,
			Metered:  metered,
		})
	}
	return view, nil
}

func (s *AdminService) ListSchedules(ctx context.Context, f model.ScheduleFilter) ([]*model.ReminderSchedule, int64, error) {
	return s.schedules.List(ctx, f)
}

func (s *AdminService) GetSchedule(ctx context.Context, id int64) (*model.ReminderSchedule, []*model.ReminderAttempt, error) {
	schedule, err := s.schedules.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	attempts, err := s.attempts.ListBySchedule(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return schedule, attempts, nil
}

// ListDeadLetter returns reminders that exhausted delivery, newest first
// unless the filter says otherwise.
func (s *AdminService) ListDeadLetter(ctx context.Context, f model.DeadLetterFilter) ([]*model.ReminderAttempt, int64, error) {
	return s.attempts.ListDeadLetter(ctx, f)
}

// CloseCycle manually closes a cycle ahead of (or instead of) the
// scheduled reconciliation pass. Safe to call repeatedly; a cycle
// whose window has not ended yet is refused.
func (s *AdminService) CloseCycle(ctx context.Context, cycleID int64) (*model.InvoiceAdjustment, error) {
	adjustment, err := s.closer.CloseCycle(ctx, cycleID)
	if err != nil {
		if errors.Is(err, repository.ErrCycleNotFound) {
			return nil, ErrNotFound
		}
		if errors.Is(err, billing.ErrCycleStillOpen) {
			return nil, ErrCycleStillOpen
		}
		return nil, err
	}
	return adjustment, nil
}

// PublishEvent validates and enqueues an appointment lifecycle event for
// asynchronous processing.
func (s *AdminService) PublishEvent(ctx context.Context, event *model.AppointmentEvent) (string, error) {
	if err := event.Validate(); err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidEvent, err)
	}
	return s.events.PublishJSON(ctx, event, map[string]string{"type": string(event.Type)})
}

// RecordProviderStatus stores a delivery-status callback against the
// attempt that carries the provider reference. Analytics only; it never
// changes schedule state or usage.
func (s *AdminService) RecordProviderStatus(ctx context.Context, providerRef, status string) error {
	if providerRef == "" || status == "" {
		return fmt.Errorf("provider_ref and status are required")
	}
	err := s.attempts.UpdateProviderStatus(ctx, providerRef, status)
	if errors.Is(err, repository.ErrAttemptNotFound) {
		return ErrNotFound
	}
	return err
}
