package repository

import (
	"context"
	"errors"

	"github.com/bookline/reminder-engine/internal/model"
	"github.com/bookline/reminder-engine/pkg/pg"
	"gorm.io/gorm"
)

var (
	ErrPlanNotFound   = errors.New("communication plan not found")
	ErrTenantNotFound = errors.New("tenant not found")
)

type PlanRepository struct {
	*pg.DB
}

func NewPlanRepository(db *pg.DB) *PlanRepository {
	return &PlanRepository{
		db,
	}
}

func (r *PlanRepository) CreatePlan(ctx context.Context, p *model.CommunicationPlan) (*model.CommunicationPlan, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	entity := toPlanEntity(p)
	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}
	return toPlanModel(entity), nil
}

func (r *PlanRepository) GetPlan(ctx context.Context, id int64) (*model.CommunicationPlan, error) {
	var entity PlanEntity
	err := r.Read(ctx).WithContext(ctx).Where("id = ?", id).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}
	return toPlanModel(&entity), nil
}

func (r *PlanRepository) ListPlans(ctx context.Context) ([]*model.CommunicationPlan, error) {
	var entities []*PlanEntity
	if err := r.Read(ctx).WithContext(ctx).Order("id ASC").Find(&entities).Error; err != nil {
		return nil, err
	}
	plans := make([]*model.CommunicationPlan, len(entities))
	for i, e := range entities {
		plans[i] = toPlanModel(e)
	}
	return plans, nil
}

func (r *PlanRepository) CreateTenant(ctx context.Context, t *model.Tenant) (*model.Tenant, error) {
	entity := toTenantEntity(t)
	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}
	return toTenantModel(entity), nil
}

func (r *PlanRepository) GetTenant(ctx context.Context, id int64) (*model.Tenant, error) {
	var entity TenantEntity
	err := r.Read(ctx).WithContext(ctx).Where("id = ?", id).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTenantNotFound
		}
		return nil, err
	}
	return toTenantModel(&entity), nil
}

// GetPlanForTenant resolves the live plan a tenant is subscribed to.
// Cycle billing never reads this directly, only the snapshot taken at
// cycle start.
func (r *PlanRepository) GetPlanForTenant(ctx context.Context, tenantID int64) (*model.CommunicationPlan, error) {
	tenant, err := r.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return r.GetPlan(ctx, tenant.PlanID)
}
