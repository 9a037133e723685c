package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bookline/reminder-engine/internal/gateway"
	"github.com/bookline/reminder-engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	due      []*model.ReminderSchedule
	claimed  map[int64]bool
	claimErr error
}

func (f *fakeSource) PollDue(ctx context.Context, now time.Time, limit int) ([]*model.ReminderSchedule, error) {
	return f.due, nil
}

func (f *fakeSource) Claim(ctx context.Context, id int64) error {
	if f.claimErr != nil {
		return f.claimErr
	}
	if f.claimed == nil {
		f.claimed = make(map[int64]bool)
	}
	if f.claimed[id] {
		return errors.New("already claimed")
	}
	f.claimed[id] = true
	return nil
}

type fakeStore struct {
	failed   []int64
	released int64
}

func (f *fakeStore) MarkFailed(ctx context.Context, id int64) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeStore) ReleaseStale(ctx context.Context, cutoff time.Time) (int64, error) {
	return f.released, nil
}

type fakeAttempts struct {
	rows []*model.ReminderAttempt
}

func (f *fakeAttempts) Create(ctx context.Context, a *model.ReminderAttempt) (*model.ReminderAttempt, error) {
	copied := *a
	copied.ID = int64(len(f.rows) + 1)
	f.rows = append(f.rows, &copied)
	return &copied, nil
}

func (f *fakeAttempts) ListBySchedule(ctx context.Context, scheduleID int64) ([]*model.ReminderAttempt, error) {
	var out []*model.ReminderAttempt
	for _, a := range f.rows {
		if a.ScheduleID == scheduleID {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeUsage struct {
	recorded []int64
	err      error
}

func (f *fakeUsage) RecordSuccess(ctx context.Context, schedule *model.ReminderSchedule) error {
	if f.err != nil {
		return f.err
	}
	f.recorded = append(f.recorded, schedule.ID)
	return nil
}

// scriptedChannel returns the queued errors in order, then succeeds.
type scriptedChannel struct {
	name  model.Channel
	errs  []error
	calls int
}

func (c *scriptedChannel) Name() model.Channel { return c.name }

func (c *scriptedChannel) Send(ctx context.Context, req *gateway.SendRequest) (*gateway.SendResponse, error) {
	c.calls++
	if len(c.errs) > 0 {
		err := c.errs[0]
		c.errs = c.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &gateway.SendResponse{
		ProviderRef: "ref-1",
		Provider:    "test",
		AcceptedAt:  time.Now(),
	}, nil
}

type dispatcherFixture struct {
	dispatcher *Dispatcher
	source     *fakeSource
	store      *fakeStore
	attempts   *fakeAttempts
	usage      *fakeUsage
	channel    *scriptedChannel
	slept      []time.Duration
}

func newDispatcherFixture(t *testing.T, sendErrs ...error) *dispatcherFixture {
	t.Helper()

	renderer, err := gateway.NewRenderer()
	require.NoError(t, err)

	f := &dispatcherFixture{
		source:   &fakeSource{},
		store:    &fakeStore{},
		attempts: &fakeAttempts{},
		usage:    &fakeUsage{},
		channel:  &scriptedChannel{name: model.ChannelSMS, errs: sendErrs},
	}
	guard := NewDispatchGuard(newMockRedisAdapter(), DefaultGuardConfig())
	f.dispatcher = New(f.source, f.store, f.attempts, f.usage,
		gateway.NewRegistry(f.channel), renderer, guard, DefaultConfig())
	f.dispatcher.sleep = func(ctx context.Context, d time.Duration) error {
		f.slept = append(f.slept, d)
		return nil
	}
	return f
}

func testDueSchedule(id int64) *model.ReminderSchedule {
	return &model.ReminderSchedule{
		ID:                id,
		AppointmentID:     "appt-1",
		TenantID:          1,
		Channel:           model.ChannelSMS,
		Recipient:         "+15551230000",
		ClientName:        "Dana",
		ServiceName:       "Checkup",
		AppointmentStart:  time.Now().Add(2 * time.Hour),
		ScheduledSendTime: time.Now().Add(-time.Minute),
		Status:            model.ScheduleStatusPending,
	}
}

func TestDispatcher_Dispatch(t *testing.T) {
	t.Run("first try success", func(t *testing.T) {
		f := newDispatcherFixture(t)

		require.NoError(t, f.dispatcher.Dispatch(context.Background(), testDueSchedule(1)))

		assert.Equal(t, 1, f.channel.calls)
		require.Len(t, f.attempts.rows, 1)
		assert.Equal(t, model.AttemptResultSuccess, f.attempts.rows[0].Result)
		assert.Equal(t, 1, f.attempts.rows[0].AttemptNumber)
		assert.Equal(t, "ref-1", f.attempts.rows[0].ProviderRef)
		assert.Equal(t, []int64{1}, f.usage.recorded)
		assert.Empty(t, f.store.failed)
	})

	t.Run("transient then success", func(t *testing.T) {
		f := newDispatcherFixture(t, errors.New("gateway timeout"))

		require.NoError(t, f.dispatcher.Dispatch(context.Background(), testDueSchedule(1)))

		assert.Equal(t, 2, f.channel.calls)
		require.Len(t, f.attempts.rows, 2)
		assert.Equal(t, model.AttemptResultTransientFailure, f.attempts.rows[0].Result)
		assert.Equal(t, "gateway timeout", f.attempts.rows[0].ErrorMessage)
		assert.Equal(t, model.AttemptResultSuccess, f.attempts.rows[1].Result)
		assert.Equal(t, 2, f.attempts.rows[1].AttemptNumber)

		// Usage counted exactly once despite the retry
		assert.Equal(t, []int64{1}, f.usage.recorded)
		assert.Empty(t, f.store.failed)
		assert.Equal(t, []time.Duration{2 * time.Second}, f.slept)
	})

	t.Run("three transient failures dead-letter the schedule", func(t *testing.T) {
		f := newDispatcherFixture(t,
			errors.New("timeout"), errors.New("timeout"), errors.New("timeout"))

		require.NoError(t, f.dispatcher.Dispatch(context.Background(), testDueSchedule(1)))

		assert.Equal(t, 3, f.channel.calls)
		require.Len(t, f.attempts.rows, 3)
		for i, row := range f.attempts.rows {
			assert.Equal(t, model.AttemptResultTransientFailure, row.Result)
			assert.Equal(t, i+1, row.AttemptNumber)
		}
		assert.Empty(t, f.usage.recorded)
		assert.Equal(t, []int64{1}, f.store.failed)
		assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, f.slept)
	})

	t.Run("permanent failure stops retries", func(t *testing.T) {
		f := newDispatcherFixture(t, gateway.Permanent(errors.New("invalid recipient")))

		require.NoError(t, f.dispatcher.Dispatch(context.Background(), testDueSchedule(1)))

		assert.Equal(t, 1, f.channel.calls)
		require.Len(t, f.attempts.rows, 1)
		assert.Equal(t, model.AttemptResultPermanentFailure, f.attempts.rows[0].Result)
		assert.Empty(t, f.usage.recorded)
		assert.Equal(t, []int64{1}, f.store.failed)
		assert.Empty(t, f.slept)
	})

	t.Run("already dispatched marker skips provider", func(t *testing.T) {
		f := newDispatcherFixture(t)
		ctx := context.Background()

		require.NoError(t, f.dispatcher.Dispatch(ctx, testDueSchedule(1)))
		calls := f.channel.calls

		// Second delivery of the same due schedule is a no-op
		require.NoError(t, f.dispatcher.Dispatch(ctx, testDueSchedule(1)))
		assert.Equal(t, calls, f.channel.calls)
		assert.Equal(t, []int64{1}, f.usage.recorded)
	})

	t.Run("lost claim skips provider", func(t *testing.T) {
		f := newDispatcherFixture(t)
		f.source.claimErr = errors.New("not claimed")

		require.NoError(t, f.dispatcher.Dispatch(context.Background(), testDueSchedule(1)))

		assert.Zero(t, f.channel.calls)
		assert.Empty(t, f.attempts.rows)
	})

	t.Run("unknown channel fails permanently", func(t *testing.T) {
		f := newDispatcherFixture(t)
		s := testDueSchedule(1)
		s.Channel = model.ChannelEmail

		require.NoError(t, f.dispatcher.Dispatch(context.Background(), s))

		assert.Equal(t, []int64{1}, f.store.failed)
		require.Len(t, f.attempts.rows, 1)
		assert.Equal(t, model.AttemptResultPermanentFailure, f.attempts.rows[0].Result)
	})

	t.Run("usage record failure leaves schedule replayable", func(t *testing.T) {
		f := newDispatcherFixture(t)
		f.usage.err = errors.New("db down")

		err := f.dispatcher.Dispatch(context.Background(), testDueSchedule(1))
		assert.Error(t, err)

		done, gerr := f.dispatcher.guard.IsDispatched(context.Background(), 1)
		require.NoError(t, gerr)
		assert.False(t, done)
	})

	t.Run("attempt numbers continue after requeue", func(t *testing.T) {
		f := newDispatcherFixture(t)
		// A previous dispatch round left one transient attempt behind
		_, err := f.attempts.Create(context.Background(), &model.ReminderAttempt{
			ScheduleID:    1,
			TenantID:      1,
			Channel:       model.ChannelSMS,
			AttemptNumber: 1,
			Result:        model.AttemptResultTransientFailure,
		})
		require.NoError(t, err)

		require.NoError(t, f.dispatcher.Dispatch(context.Background(), testDueSchedule(1)))

		require.Len(t, f.attempts.rows, 2)
		assert.Equal(t, 2, f.attempts.rows[1].AttemptNumber)
	})
}

func TestDispatcher_PollOnce(t *testing.T) {
	f := newDispatcherFixture(t)
	f.source.due = []*model.ReminderSchedule{testDueSchedule(1), testDueSchedule(2)}

	require.NoError(t, f.dispatcher.PollOnce(context.Background()))
	assert.Equal(t, int64(2), f.dispatcher.worker.GetUnreadCount())
}
