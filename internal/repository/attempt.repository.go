package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bookline/reminder-engine/internal/model"
	"github.com/bookline/reminder-engine/pkg/pg"
)

var (
	// ErrAttemptNotFound is returned when no attempt matches a lookup.
	ErrAttemptNotFound = errors.New("attempt not found")
)

type AttemptRepository struct {
	*pg.DB
}

func NewAttemptRepository(db *pg.DB) *AttemptRepository {
	return &AttemptRepository{
		db,
	}
}

// Create appends one attempt row. Attempts are never updated except for
// the provider status field, and never deleted.
func (r *AttemptRepository) Create(ctx context.Context, a *model.ReminderAttempt) (*model.ReminderAttempt, error) {
	entity := toAttemptEntity(a)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toAttemptModel(entity), nil
}

func (r *AttemptRepository) ListBySchedule(ctx context.Context, scheduleID int64) ([]*model.ReminderAttempt, error) {
	var entities []*AttemptEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("schedule_id = ?", scheduleID).
		Order("attempt_number ASC").
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toAttemptModels(entities), nil
}

// CountSuccessful counts success attempts for a tenant and channel in a
// time window. Used to verify the usage invariant against metered counts.
func (r *AttemptRepository) CountSuccessful(ctx context.Context, tenantID int64, channel model.Channel, from, to time.Time) (int64, error) {
	var count int64
	err := r.Read(ctx).WithContext(ctx).
		Model(&AttemptEntity{}).
		Where("tenant_id = ?", tenantID).
		Where("channel = ?", string(channel)).
		Where("result = ?", string(model.AttemptResultSuccess)).
		Where("created_at >= ? AND created_at < ?", from, to).
		Count(&count).Error
	return count, err
}

// ListDeadLetter returns permanently failed attempts for operator
// follow-up, newest first by default.
func (r *AttemptRepository) ListDeadLetter(ctx context.Context, f model.DeadLetterFilter) ([]*model.ReminderAttempt, int64, error) {
	q := r.Read(ctx).WithContext(ctx).
		Model(&AttemptEntity{}).
		Where("result = ?", string(model.AttemptResultPermanentFailure))

	if f.TenantID != nil {
		q = q.Where("tenant_id = ?", *f.TenantID)
	}
	if f.Channel != nil {
		q = q.Where("channel = ?", string(*f.Channel))
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at < ?", *f.To)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := "created_at"
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

	var entities []*AttemptEntity
	if err := q.Order(order).Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	return toAttemptModels(entities), total, nil
}

// UpdateProviderStatus records the asynchronous delivery status callback
// from a provider. Analytics only; never changes the attempt result.
func (r *AttemptRepository) UpdateProviderStatus(ctx context.Context, providerRef, status string) error {
	result := r.Write(ctx).WithContext(ctx).
		Model(&AttemptEntity{}).
		Where("provider_ref = ?", providerRef).
		Update("provider_status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAttemptNotFound
	}
	return nil
}
