package repository

import (
	"context"
	"errors"

	"github.com/bookline/reminder-engine/internal/model"
	"github.com/bookline/reminder-engine/pkg/pg"
	"gorm.io/gorm/clause"
)

var (
	// ErrAlreadyApplied is returned when a schedule id was already
	// counted toward usage. Callers treat it as success: the increment
	// happened on an earlier pass of the record-success step.
	ErrAlreadyApplied = errors.New("schedule already applied to usage")
)

type UsageRepository struct {
	*pg.DB
}

func NewUsageRepository(db *pg.DB) *UsageRepository {
	return &UsageRepository{
		db,
	}
}

// Apply inserts the applied-schedule marker and increments the usage
// counter for (tenant, cycle, channel). Run it inside WithinTransaction
// together with the schedule sent transition.
//
// The insert uses ON CONFLICT DO NOTHING on the schedule_id primary key:
// zero rows affected means a previous pass already counted this schedule
// and the caller gets ErrAlreadyApplied instead of a double count.
func (r *UsageRepository) Apply(ctx context.Context, app *model.UsageApplication) error {
	marker := &UsageApplicationEntity{
		ScheduleID: app.ScheduleID,
		TenantID:   app.TenantID,
		CycleID:    app.CycleID,
		Channel:    string(app.Channel),
	}

	result := r.Write(ctx).WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(marker)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAlreadyApplied
	}

	counter := &UsageRecordEntity{
		TenantID: app.TenantID,
		CycleID:  app.CycleID,
		Channel:  string(app.Channel),
		Count:    1,
	}
	return r.Write(ctx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "tenant_id"}, {Name: "cycle_id"}, {Name: "channel"},
			},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"count": clause.Expr{SQL: "count + 1"},
			}),
		}).
		Create(counter).Error
}

// IsApplied reports whether a schedule has already been counted.
func (r *UsageRepository) IsApplied(ctx context.Context, scheduleID int64) (bool, error) {
	var count int64
	err := r.Read(ctx).WithContext(ctx).
		Model(&UsageApplicationEntity{}).
		Where("schedule_id = ?", scheduleID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUsage returns the finalized per-channel counts for a cycle. Only
// committed increments are visible, so the reconciler never sees a
// half-recorded send.
func (r *UsageRepository) GetUsage(ctx context.Context, tenantID, cycleID int64) (map[model.Channel]int64, error) {
	var entities []*UsageRecordEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("tenant_id = ? AND cycle_id = ?", tenantID, cycleID).
		Find(&entities).Error
	if err != nil {
		return nil, err
	}

	usage := make(map[model.Channel]int64, len(entities))
	for _, e := range entities {
		usage[model.Channel(e.Channel)] = e.Count
	}
	return usage, nil
}
