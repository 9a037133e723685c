package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bookline/reminder-engine/internal/model"
	"github.com/bookline/reminder-engine/pkg/pg"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a schedule does not exist.
	ErrNotFound = errors.New("schedule not found")
	// ErrNotClaimed is returned when the conditional pending -> in_flight
	// transition matched no row, meaning another worker claimed it first
	// or the schedule was canceled in the meantime.
	ErrNotClaimed = errors.New("schedule not claimable")
	// ErrInvalidTransition is returned when a terminal transition is
	// attempted on a schedule that is not in_flight.
	ErrInvalidTransition = errors.New("invalid schedule status transition")
)

type ScheduleRepository struct {
	*pg.DB
}

func NewScheduleRepository(db *pg.DB) *ScheduleRepository {
	return &ScheduleRepository{
		db,
	}
}

func (r *ScheduleRepository) Create(ctx context.Context, s *model.ReminderSchedule) (*model.ReminderSchedule, error) {
	entity := toScheduleEntity(s)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toScheduleModel(entity), nil
}

func (r *ScheduleRepository) GetByID(ctx context.Context, id int64) (*model.ReminderSchedule, error) {
	var entity ScheduleEntity
	err := r.Read(ctx).WithContext(ctx).Where("id = ?", id).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return toScheduleModel(&entity), nil
}

// HasActive reports whether a non-canceled schedule already exists for
// the (appointment, offset, channel) triple. Used to make duplicate
// confirmed events a no-op.
func (r *ScheduleRepository) HasActive(ctx context.Context, appointmentID string, offset time.Duration, channel model.Channel) (bool, error) {
	var count int64
	err := r.Read(ctx).WithContext(ctx).
		Model(&ScheduleEntity{}).
		Where("appointment_id = ?", appointmentID).
		Where("offset_seconds = ?", int64(offset/time.Second)).
		Where("channel = ?", string(channel)).
		Where("status <> ?", string(model.ScheduleStatusCanceled)).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListDue returns pending schedules whose send time has passed, earliest
// first with id as tie-breaker so polling is deterministic.
func (r *ScheduleRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.ReminderSchedule, error) {
	if limit <= 0 {
		limit = 100
	}

	var entities []*ScheduleEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("status = ?", string(model.ScheduleStatusPending)).
		Where("scheduled_send_time <= ?", now).
		Order("scheduled_send_time ASC, id ASC").
		Limit(limit).
		Find(&entities).Error
	if err != nil {
		return nil, err
	}

	return toScheduleModels(entities), nil
}

// Claim atomically transitions pending -> in_flight. The conditional
// update is the claim: only one worker can win, everyone else gets
// ErrNotClaimed and moves on.
func (r *ScheduleRepository) Claim(ctx context.Context, id int64) error {
	result := r.Write(ctx).WithContext(ctx).
		Model(&ScheduleEntity{}).
		Where("id = ? AND status = ?", id, string(model.ScheduleStatusPending)).
		Update("status", string(model.ScheduleStatusInFlight))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotClaimed
	}
	return nil
}

// MarkSent transitions in_flight -> sent. Called inside the same
// transaction as the usage increment so the two cannot diverge.
func (r *ScheduleRepository) MarkSent(ctx context.Context, id int64) error {
	return r.terminalTransition(ctx, id, model.ScheduleStatusSent)
}

// MarkFailed transitions in_flight -> failed after retries exhaust or a
// permanent delivery failure.
func (r *ScheduleRepository) MarkFailed(ctx context.Context, id int64) error {
	return r.terminalTransition(ctx, id, model.ScheduleStatusFailed)
}

func (r *ScheduleRepository) terminalTransition(ctx context.Context, id int64, to model.ScheduleStatus) error {
	result := r.Write(ctx).WithContext(ctx).
		Model(&ScheduleEntity{}).
		Where("id = ? AND status = ?", id, string(model.ScheduleStatusInFlight)).
		Update("status", string(to))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// CancelPending transitions every pending schedule of an appointment to
// canceled and returns how many rows changed. Schedules already
// in_flight are left alone: the send in progress completes and is billed.
func (r *ScheduleRepository) CancelPending(ctx context.Context, appointmentID string) (int64, error) {
	result := r.Write(ctx).WithContext(ctx).
		Model(&ScheduleEntity{}).
		Where("appointment_id = ? AND status = ?", appointmentID, string(model.ScheduleStatusPending)).
		Update("status", string(model.ScheduleStatusCanceled))
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// ReleaseStale returns in_flight schedules older than cutoff to pending.
// A worker crash between claim and record-success leaves the row stuck
// in_flight; the usage application marker guarantees a re-dispatched
// send cannot double count.
func (r *ScheduleRepository) ReleaseStale(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.Write(ctx).WithContext(ctx).
		Model(&ScheduleEntity{}).
		Where("status = ? AND updated_at < ?", string(model.ScheduleStatusInFlight), cutoff).
		Update("status", string(model.ScheduleStatusPending))
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *ScheduleRepository) List(ctx context.Context, f model.ScheduleFilter) ([]*model.ReminderSchedule, int64, error) {
	q := r.Read(ctx).WithContext(ctx).Model(&ScheduleEntity{})

	if f.TenantID != nil {
		q = q.Where("tenant_id = ?", *f.TenantID)
	}
	if f.AppointmentID != nil && *f.AppointmentID != "" {
		q = q.Where("appointment_id = ?", *f.AppointmentID)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		q = q.Where("status IN ?", statuses)
	}
	if f.From != nil {
		q = q.Where("scheduled_send_time >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("scheduled_send_time < ?", *f.To)
	}

	// Count before pagination
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := "scheduled_send_time"
	if f.Desc {
		order += " DESC"
	} else {
		order += " ASC"
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var entities []*ScheduleEntity
	if err := q.Order(order).Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	return toScheduleModels(entities), total, nil
}
