package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bookline/reminder-engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttemptRepository_CreateAndList(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewAttemptRepository(db)
	ctx := context.Background()

	results := []model.AttemptResult{
		model.AttemptResultTransientFailure,
		model.AttemptResultSuccess,
	}
	for i, result := range results {
		_, err := repo.Create(ctx, &model.ReminderAttempt{
			ScheduleID:    1,
			TenantID:      1,
			Channel:       model.ChannelSMS,
			AttemptNumber: i + 1,
			Result:        result,
			ProviderRef:   "ref-" + string(result),
		})
		require.NoError(t, err)
	}

	attempts, err := repo.ListBySchedule(ctx, 1)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, model.AttemptResultTransientFailure, attempts[0].Result)
	assert.Equal(t, model.AttemptResultSuccess, attempts[1].Result)
}

func TestAttemptRepository_ListDeadLetter(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewAttemptRepository(db)
	ctx := context.Background()

	_, err := repo.Create(ctx, &model.ReminderAttempt{
		ScheduleID:    1,
		TenantID:      1,
		Channel:       model.ChannelSMS,
		AttemptNumber: 3,
		Result:        model.AttemptResultPermanentFailure,
		ErrorMessage:  "invalid recipient",
	})
	require.NoError(t, err)
	_, err = repo.Create(ctx, &model.ReminderAttempt{
		ScheduleID:    2,
		TenantID:      2,
		Channel:       model.ChannelEmail,
		AttemptNumber: 1,
		Result:        model.AttemptResultSuccess,
	})
	require.NoError(t, err)

	items, total, err := repo.ListDeadLetter(ctx, model.DeadLetterFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, items, 1)
	assert.Equal(t, model.AttemptResultPermanentFailure, items[0].Result)

	t.Run("tenant filter", func(t *testing.T) {
		tenantID := int64(2)
		_, total, err := repo.ListDeadLetter(ctx, model.DeadLetterFilter{TenantID: &tenantID})
		require.NoError(t, err)
		assert.Zero(t, total)
	})
}

func TestAttemptRepository_CountSuccessful(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewAttemptRepository(db)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := repo.Create(ctx, &model.ReminderAttempt{
			ScheduleID:    int64(i + 1),
			TenantID:      1,
			Channel:       model.ChannelSMS,
			AttemptNumber: 1,
			Result:        model.AttemptResultSuccess,
		})
		require.NoError(t, err)
	}
	_, err := repo.Create(ctx, &model.ReminderAttempt{
		ScheduleID:    4,
		TenantID:      1,
		Channel:       model.ChannelSMS,
		AttemptNumber: 1,
		Result:        model.AttemptResultTransientFailure,
	})
	require.NoError(t, err)

	from := time.Now().Add(-time.Hour)
	to := time.Now().Add(time.Hour)
	count, err := repo.CountSuccessful(ctx, 1, model.ChannelSMS, from, to)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestAttemptRepository_UpdateProviderStatus(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewAttemptRepository(db)
	ctx := context.Background()

	created, err := repo.Create(ctx, &model.ReminderAttempt{
		ScheduleID:    1,
		TenantID:      1,
		Channel:       model.ChannelSMS,
		AttemptNumber: 1,
		Result:        model.AttemptResultSuccess,
		ProviderRef:   "prov-123",
	})
	require.NoError(t, err)

	require.NoError(t, repo.UpdateProviderStatus(ctx, "prov-123", "DELIVERED"))

	attempts, err := repo.ListBySchedule(ctx, created.ScheduleID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, "DELIVERED", attempts[0].ProviderStatus)

	t.Run("unknown ref", func(t *testing.T) {
		err := repo.UpdateProviderStatus(ctx, "missing", "DELIVERED")
		assert.ErrorIs(t, err, ErrAttemptNotFound)
	})
}
