package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bookline/reminder-engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func basicPlan() *model.CommunicationPlan {
	return &model.CommunicationPlan{
		ID:                1,
		TierName:          "basic",
		IncludedSMS:       100,
		IncludedEmail:     200,
		OverageSMSCents:   2,
		OverageEmailCents: 1,
		CycleDays:         30,
	}
}

func TestCycleRepository_GetOrOpenCurrent(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewCycleRepository(db)
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)

	cycle, err := repo.GetOrOpenCurrent(ctx, 1, basicPlan(), now)
	require.NoError(t, err)
	assert.NotZero(t, cycle.ID)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), cycle.Start)
	assert.Equal(t, time.Date(2025, 4, 9, 0, 0, 0, 0, time.UTC), cycle.End)
	assert.Equal(t, "basic", cycle.PlanSnapshot.TierName)
	assert.False(t, cycle.Closed)

	t.Run("same window returns same cycle", func(t *testing.T) {
		again, err := repo.GetOrOpenCurrent(ctx, 1, basicPlan(), now.Add(48*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, cycle.ID, again.ID)
	})

	t.Run("snapshot is immune to later plan edits", func(t *testing.T) {
		changed := basicPlan()
		changed.OverageSMSCents = 50

		got, err := repo.GetOrOpenCurrent(ctx, 1, changed, now.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, cycle.ID, got.ID)
		assert.Equal(t, int64(2), got.PlanSnapshot.OverageSMSCents)
	})

	t.Run("after the window a new cycle opens", func(t *testing.T) {
		next, err := repo.GetOrOpenCurrent(ctx, 1, basicPlan(), cycle.End.Add(time.Hour))
		require.NoError(t, err)
		assert.NotEqual(t, cycle.ID, next.ID)
	})

	t.Run("tenants have independent cycles", func(t *testing.T) {
		other, err := repo.GetOrOpenCurrent(ctx, 2, basicPlan(), now)
		require.NoError(t, err)
		assert.NotEqual(t, cycle.ID, other.ID)
	})
}

func TestCycleRepository_MarkClosed(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewCycleRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	cycle, err := repo.GetOrOpenCurrent(ctx, 1, basicPlan(), now)
	require.NoError(t, err)

	require.NoError(t, repo.MarkClosed(ctx, cycle.ID, now))

	t.Run("second close is rejected", func(t *testing.T) {
		assert.ErrorIs(t, repo.MarkClosed(ctx, cycle.ID, now), ErrAlreadyClosed)
	})

	t.Run("billed only after close", func(t *testing.T) {
		require.NoError(t, repo.MarkBilled(ctx, cycle.ID, now))

		got, err := repo.GetByID(ctx, cycle.ID)
		require.NoError(t, err)
		assert.True(t, got.Closed)
		assert.True(t, got.Billed)
		require.NotNil(t, got.ClosedAt)
		require.NotNil(t, got.BilledAt)
	})
}

func TestCycleRepository_ListDueForClose(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewCycleRepository(db)
	ctx := context.Background()

	plan := basicPlan()
	plan.CycleDays = 1
	opened := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	cycle, err := repo.GetOrOpenCurrent(ctx, 1, plan, opened)
	require.NoError(t, err)

	grace := 5 * time.Minute

	t.Run("not due before end", func(t *testing.T) {
		due, err := repo.ListDueForClose(ctx, cycle.End.Add(-time.Hour), grace)
		require.NoError(t, err)
		assert.Empty(t, due)
	})

	t.Run("not due inside grace window", func(t *testing.T) {
		due, err := repo.ListDueForClose(ctx, cycle.End.Add(time.Minute), grace)
		require.NoError(t, err)
		assert.Empty(t, due)
	})

	t.Run("due after grace", func(t *testing.T) {
		due, err := repo.ListDueForClose(ctx, cycle.End.Add(grace+time.Second), grace)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, cycle.ID, due[0].ID)
	})

	t.Run("closed cycles excluded", func(t *testing.T) {
		require.NoError(t, repo.MarkClosed(ctx, cycle.ID, cycle.End.Add(grace)))

		due, err := repo.ListDueForClose(ctx, cycle.End.Add(time.Hour), grace)
		require.NoError(t, err)
		assert.Empty(t, due)
	})
}

func TestCycleRepository_ListUnbilled(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewCycleRepository(db)
	ctx := context.Background()

	plan := basicPlan()
	plan.CycleDays = 1
	cycle, err := repo.GetOrOpenCurrent(ctx, 1, plan, time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NoError(t, repo.MarkClosed(ctx, cycle.ID, cycle.End))

	unbilled, err := repo.ListUnbilled(ctx, cycle.End.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, unbilled, 1)
	assert.Equal(t, cycle.ID, unbilled[0].ID)

	t.Run("billed cycles drop out", func(t *testing.T) {
		require.NoError(t, repo.MarkBilled(ctx, cycle.ID, cycle.End))

		unbilled, err := repo.ListUnbilled(ctx, cycle.End.Add(time.Hour))
		require.NoError(t, err)
		assert.Empty(t, unbilled)
	})
}

func TestCycleRepository_Adjustments(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewCycleRepository(db)
	ctx := context.Background()

	adj := &model.InvoiceAdjustment{
		CycleID:    1,
		TenantID:   1,
		TotalCents: 74,
		LineItems: []model.AdjustmentLine{
			{
				Channel:        model.ChannelSMS,
				UsageCount:     137,
				IncludedCount:  100,
				OverageUnits:   37,
				UnitPriceCents: 2,
				AmountCents:    74,
			},
		},
	}

	created, err := repo.CreateAdjustment(ctx, adj)
	require.NoError(t, err)
	assert.NotZero(t, created.ID)

	t.Run("one adjustment per cycle", func(t *testing.T) {
		_, err := repo.CreateAdjustment(ctx, adj)
		assert.ErrorIs(t, err, ErrAdjustmentExists)
	})

	t.Run("round trips line items", func(t *testing.T) {
		got, err := repo.GetAdjustmentByCycle(ctx, 1)
		require.NoError(t, err)
		require.Len(t, got.LineItems, 1)
		assert.Equal(t, int64(37), got.LineItems[0].OverageUnits)
		assert.Equal(t, int64(74), got.TotalCents)
	})

	t.Run("confirmation recorded", func(t *testing.T) {
		require.NoError(t, repo.SetAdjustmentConfirmation(ctx, created.ID, "conf-abc"))

		got, err := repo.GetAdjustmentByCycle(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "conf-abc", got.ConfirmationID)
	})
}
