package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bookline/reminder-engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPendingSchedule(appointmentID string, sendAt time.Time) *model.ReminderSchedule {
	return &model.ReminderSchedule{
		AppointmentID:     appointmentID,
		TenantID:          1,
		Channel:           model.ChannelSMS,
		Recipient:         "+15551230000",
		Offset:            24 * time.Hour,
		ClientName:        "Dana",
		ServiceName:       "Haircut",
		AppointmentStart:  sendAt.Add(24 * time.Hour),
		ScheduledSendTime: sendAt,
		Status:            model.ScheduleStatusPending,
	}
}

func TestScheduleRepository_Create(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewScheduleRepository(db)
	ctx := context.Background()

	created, err := repo.Create(ctx, newPendingSchedule("appt-1", time.Now().Add(time.Hour)))
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, model.ScheduleStatusPending, created.Status)
	assert.Equal(t, 24*time.Hour, created.Offset)
}

func TestScheduleRepository_ListDue(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewScheduleRepository(db)
	ctx := context.Background()
	now := time.Now()

	// Two due, one future, one due but canceled.
	later, err := repo.Create(ctx, newPendingSchedule("appt-1", now.Add(-time.Minute)))
	require.NoError(t, err)
	earlier, err := repo.Create(ctx, newPendingSchedule("appt-2", now.Add(-time.Hour)))
	require.NoError(t, err)
	_, err = repo.Create(ctx, newPendingSchedule("appt-3", now.Add(time.Hour)))
	require.NoError(t, err)
	canceled, err := repo.Create(ctx, newPendingSchedule("appt-4", now.Add(-time.Hour)))
	require.NoError(t, err)
	_, err = repo.CancelPending(ctx, canceled.AppointmentID)
	require.NoError(t, err)

	due, err := repo.ListDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, earlier.ID, due[0].ID)
	assert.Equal(t, later.ID, due[1].ID)

	t.Run("ties broken by id", func(t *testing.T) {
		sameTime := now.Add(-30 * time.Minute)
		a, err := repo.Create(ctx, newPendingSchedule("appt-5", sameTime))
		require.NoError(t, err)
		b, err := repo.Create(ctx, newPendingSchedule("appt-6", sameTime))
		require.NoError(t, err)

		due, err := repo.ListDue(ctx, now, 10)
		require.NoError(t, err)

		var ids []int64
		for _, s := range due {
			if s.ID == a.ID || s.ID == b.ID {
				ids = append(ids, s.ID)
			}
		}
		require.Len(t, ids, 2)
		assert.Less(t, ids[0], ids[1])
	})
}

func TestScheduleRepository_Claim(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewScheduleRepository(db)
	ctx := context.Background()

	s, err := repo.Create(ctx, newPendingSchedule("appt-1", time.Now().Add(-time.Minute)))
	require.NoError(t, err)

	require.NoError(t, repo.Claim(ctx, s.ID))

	t.Run("second claim loses", func(t *testing.T) {
		err := repo.Claim(ctx, s.ID)
		assert.ErrorIs(t, err, ErrNotClaimed)
	})

	t.Run("claimed schedule no longer due", func(t *testing.T) {
		due, err := repo.ListDue(ctx, time.Now(), 10)
		require.NoError(t, err)
		assert.Empty(t, due)
	})

	t.Run("canceled schedule not claimable", func(t *testing.T) {
		c, err := repo.Create(ctx, newPendingSchedule("appt-2", time.Now().Add(-time.Minute)))
		require.NoError(t, err)
		_, err = repo.CancelPending(ctx, c.AppointmentID)
		require.NoError(t, err)

		assert.ErrorIs(t, repo.Claim(ctx, c.ID), ErrNotClaimed)
	})
}

func TestScheduleRepository_TerminalTransitions(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewScheduleRepository(db)
	ctx := context.Background()

	t.Run("in_flight to sent", func(t *testing.T) {
		s, err := repo.Create(ctx, newPendingSchedule("appt-1", time.Now()))
		require.NoError(t, err)
		require.NoError(t, repo.Claim(ctx, s.ID))
		require.NoError(t, repo.MarkSent(ctx, s.ID))

		got, err := repo.GetByID(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ScheduleStatusSent, got.Status)
	})

	t.Run("in_flight to failed", func(t *testing.T) {
		s, err := repo.Create(ctx, newPendingSchedule("appt-2", time.Now()))
		require.NoError(t, err)
		require.NoError(t, repo.Claim(ctx, s.ID))
		require.NoError(t, repo.MarkFailed(ctx, s.ID))

		got, err := repo.GetByID(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ScheduleStatusFailed, got.Status)
	})

	t.Run("sent is terminal", func(t *testing.T) {
		s, err := repo.Create(ctx, newPendingSchedule("appt-3", time.Now()))
		require.NoError(t, err)
		require.NoError(t, repo.Claim(ctx, s.ID))
		require.NoError(t, repo.MarkSent(ctx, s.ID))

		assert.ErrorIs(t, repo.MarkFailed(ctx, s.ID), ErrInvalidTransition)
	})

	t.Run("pending cannot jump to sent", func(t *testing.T) {
		s, err := repo.Create(ctx, newPendingSchedule("appt-4", time.Now()))
		require.NoError(t, err)
		assert.ErrorIs(t, repo.MarkSent(ctx, s.ID), ErrInvalidTransition)
	})
}

func TestScheduleRepository_CancelPending(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewScheduleRepository(db)
	ctx := context.Background()

	// Two pending and one in_flight for the same appointment.
	_, err := repo.Create(ctx, newPendingSchedule("appt-1", time.Now().Add(time.Hour)))
	require.NoError(t, err)
	_, err = repo.Create(ctx, newPendingSchedule("appt-1", time.Now().Add(2*time.Hour)))
	require.NoError(t, err)
	inFlight, err := repo.Create(ctx, newPendingSchedule("appt-1", time.Now().Add(-time.Minute)))
	require.NoError(t, err)
	require.NoError(t, repo.Claim(ctx, inFlight.ID))

	n, err := repo.CancelPending(ctx, "appt-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// The in-flight send is not aborted.
	got, err := repo.GetByID(ctx, inFlight.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ScheduleStatusInFlight, got.Status)

	t.Run("cancel again is a no-op", func(t *testing.T) {
		n, err := repo.CancelPending(ctx, "appt-1")
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestScheduleRepository_HasActive(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewScheduleRepository(db)
	ctx := context.Background()

	s, err := repo.Create(ctx, newPendingSchedule("appt-1", time.Now().Add(time.Hour)))
	require.NoError(t, err)

	active, err := repo.HasActive(ctx, "appt-1", 24*time.Hour, model.ChannelSMS)
	require.NoError(t, err)
	assert.True(t, active)

	t.Run("different offset not active", func(t *testing.T) {
		active, err := repo.HasActive(ctx, "appt-1", 2*time.Hour, model.ChannelSMS)
		require.NoError(t, err)
		assert.False(t, active)
	})

	t.Run("different channel not active", func(t *testing.T) {
		active, err := repo.HasActive(ctx, "appt-1", 24*time.Hour, model.ChannelEmail)
		require.NoError(t, err)
		assert.False(t, active)
	})

	t.Run("canceled no longer active", func(t *testing.T) {
		_, err := repo.CancelPending(ctx, s.AppointmentID)
		require.NoError(t, err)

		active, err := repo.HasActive(ctx, "appt-1", 24*time.Hour, model.ChannelSMS)
		require.NoError(t, err)
		assert.False(t, active)
	})
}

func TestScheduleRepository_List(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewScheduleRepository(db)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := repo.Create(ctx, newPendingSchedule("appt-1", time.Now().Add(time.Duration(i)*time.Hour)))
		require.NoError(t, err)
	}

	tenantID := int64(1)
	items, total, err := repo.List(ctx, model.ScheduleFilter{TenantID: &tenantID, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, items, 2)

	t.Run("status filter", func(t *testing.T) {
		items, total, err := repo.List(ctx, model.ScheduleFilter{
			Statuses: []model.ScheduleStatus{model.ScheduleStatusCanceled},
		})
		require.NoError(t, err)
		assert.Zero(t, total)
		assert.Empty(t, items)
	})
}
