package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bookline/reminder-engine/internal/model"
	"github.com/bookline/reminder-engine/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrCycleNotFound = errors.New("billing cycle not found")
	// ErrAlreadyClosed is returned by the conditional close when the
	// cycle was closed by an earlier pass. Callers treat it as a no-op.
	ErrAlreadyClosed = errors.New("cycle already closed")
	// ErrAdjustmentExists guards the one-adjustment-per-cycle invariant.
	ErrAdjustmentExists   = errors.New("invoice adjustment already exists for cycle")
	ErrAdjustmentNotFound = errors.New("invoice adjustment not found")
)

type CycleRepository struct {
	*pg.DB
}

func NewCycleRepository(db *pg.DB) *CycleRepository {
	return &CycleRepository{
		db,
	}
}

func (r *CycleRepository) GetByID(ctx context.Context, id int64) (*model.BillingCycle, error) {
	var entity CycleEntity
	err := r.Read(ctx).WithContext(ctx).Where("id = ?", id).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCycleNotFound
		}
		return nil, err
	}
	return toCycleModel(&entity)
}

// GetOrOpenCurrent finds the cycle containing now for a tenant, opening
// one with a snapshot of the given plan when none exists. The unique
// (tenant_id, start) index resolves concurrent opens: the loser of the
// race re-reads the winner's row.
//
// Cycle windows are anchored at UTC midnight of the open day and run for
// the plan's cycle length.
func (r *CycleRepository) GetOrOpenCurrent(ctx context.Context, tenantID int64, plan *model.CommunicationPlan, now time.Time) (*model.BillingCycle, error) {
	if current, err := r.getCurrent(ctx, tenantID, now); err == nil {
		return current, nil
	} else if !errors.Is(err, ErrCycleNotFound) {
		return nil, err
	}

	start := now.UTC().Truncate(24 * time.Hour)
	cycle := &model.BillingCycle{
		TenantID:     tenantID,
		Start:        start,
		End:          start.AddDate(0, 0, plan.CycleDays),
		PlanSnapshot: *plan,
	}

	entity, err := toCycleEntity(cycle)
	if err != nil {
		return nil, err
	}

	result := r.Write(ctx).WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(entity)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		// Lost the open race; the winner's cycle contains now.
		return r.getCurrent(ctx, tenantID, now)
	}

	return toCycleModel(entity)
}

func (r *CycleRepository) getCurrent(ctx context.Context, tenantID int64, now time.Time) (*model.BillingCycle, error) {
	var entity CycleEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Where("start <= ? AND \"end\" > ?", now, now).
		Order("start DESC").
		First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCycleNotFound
		}
		return nil, err
	}
	return toCycleModel(&entity)
}

// ListDueForClose returns open cycles whose end passed at least grace
// ago. The grace window lets in-flight sends land before the reconciler
// reads usage.
func (r *CycleRepository) ListDueForClose(ctx context.Context, now time.Time, grace time.Duration) ([]*model.BillingCycle, error) {
	var entities []*CycleEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("closed = ?", false).
		Where("\"end\" <= ?", now.Add(-grace)).
		Order("\"end\" ASC").
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toCycleModels(entities)
}

// ListUnbilled returns closed cycles whose billing submission has not
// succeeded yet, oldest first; cutoff limits to cycles ended before it.
func (r *CycleRepository) ListUnbilled(ctx context.Context, cutoff time.Time) ([]*model.BillingCycle, error) {
	var entities []*CycleEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("closed = ? AND billed = ?", true, false).
		Where("\"end\" <= ?", cutoff).
		Order("\"end\" ASC").
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toCycleModels(entities)
}

// MarkClosed is the idempotency guard for cycle close: the conditional
// update succeeds exactly once per cycle.
func (r *CycleRepository) MarkClosed(ctx context.Context, id int64, now time.Time) error {
	result := r.Write(ctx).WithContext(ctx).
		Model(&CycleEntity{}).
		Where("id = ? AND closed = ?", id, false).
		Updates(map[string]interface{}{"closed": true, "closed_at": now})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAlreadyClosed
	}
	return nil
}

func (r *CycleRepository) MarkBilled(ctx context.Context, id int64, now time.Time) error {
	result := r.Write(ctx).WithContext(ctx).
		Model(&CycleEntity{}).
		Where("id = ? AND closed = ?", id, true).
		Updates(map[string]interface{}{"billed": true, "billed_at": now})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCycleNotFound
	}
	return nil
}

// CreateAdjustment writes the immutable overage record. The unique
// cycle_id index enforces exactly one adjustment per cycle.
func (r *CycleRepository) CreateAdjustment(ctx context.Context, a *model.InvoiceAdjustment) (*model.InvoiceAdjustment, error) {
	entity, err := toAdjustmentEntity(a)
	if err != nil {
		return nil, err
	}

	result := r.Write(ctx).WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(entity)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrAdjustmentExists
	}

	return toAdjustmentModel(entity)
}

func (r *CycleRepository) GetAdjustmentByCycle(ctx context.Context, cycleID int64) (*model.InvoiceAdjustment, error) {
	var entity AdjustmentEntity
	err := r.Read(ctx).WithContext(ctx).Where("cycle_id = ?", cycleID).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAdjustmentNotFound
		}
		return nil, err
	}
	return toAdjustmentModel(&entity)
}

// SetAdjustmentConfirmation records the processor's confirmation id after
// a successful billing submission.
func (r *CycleRepository) SetAdjustmentConfirmation(ctx context.Context, adjustmentID int64, confirmationID string) error {
	result := r.Write(ctx).WithContext(ctx).
		Model(&AdjustmentEntity{}).
		Where("id = ?", adjustmentID).
		Update("confirmation_id", confirmationID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAdjustmentNotFound
	}
	return nil
}

func toCycleModels(entities []*CycleEntity) ([]*model.BillingCycle, error) {
	cycles := make([]*model.BillingCycle, len(entities))
	for i, e := range entities {
		c, err := toCycleModel(e)
		if err != nil {
			return nil, err
		}
		cycles[i] = c
	}
	return cycles, nil
}
