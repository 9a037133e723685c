package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bookline/reminder-engine/internal/model"
	"github.com/bookline/reminder-engine/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCycleStore struct {
	cycles      map[int64]*model.BillingCycle
	adjustments map[int64]*model.InvoiceAdjustment // keyed by cycle id
	nextAdjID   int64
	closeCalls  int
}

func newFakeCycleStore(cycles ...*model.BillingCycle) *fakeCycleStore {
	s := &fakeCycleStore{
		cycles:      make(map[int64]*model.BillingCycle),
		adjustments: make(map[int64]*model.InvoiceAdjustment),
	}
	for _, c := range cycles {
		s.cycles[c.ID] = c
	}
	return s
}

func (s *fakeCycleStore) GetByID(ctx context.Context, id int64) (*model.BillingCycle, error) {
	c, ok := s.cycles[id]
	if !ok {
		return nil, repository.ErrCycleNotFound
	}
	copied := *c
	return &copied, nil
}

func (s *fakeCycleStore) ListDueForClose(ctx context.Context, now time.Time, grace time.Duration) ([]*model.BillingCycle, error) {
	var out []*model.BillingCycle
	for _, c := range s.cycles {
		if !c.Closed && !c.End.After(now.Add(-grace)) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *fakeCycleStore) ListUnbilled(ctx context.Context, cutoff time.Time) ([]*model.BillingCycle, error) {
	var out []*model.BillingCycle
	for _, c := range s.cycles {
		if c.Closed && !c.Billed && !c.End.After(cutoff) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *fakeCycleStore) MarkClosed(ctx context.Context, id int64, now time.Time) error {
	c, ok := s.cycles[id]
	if !ok {
		return repository.ErrCycleNotFound
	}
	if c.Closed {
		return repository.ErrAlreadyClosed
	}
	s.closeCalls++
	c.Closed = true
	c.ClosedAt = &now
	return nil
}

func (s *fakeCycleStore) MarkBilled(ctx context.Context, id int64, now time.Time) error {
	c, ok := s.cycles[id]
	if !ok || !c.Closed {
		return repository.ErrCycleNotFound
	}
	c.Billed = true
	c.BilledAt = &now
	return nil
}

func (s *fakeCycleStore) CreateAdjustment(ctx context.Context, a *model.InvoiceAdjustment) (*model.InvoiceAdjustment, error) {
	if _, ok := s.adjustments[a.CycleID]; ok {
		return nil, repository.ErrAdjustmentExists
	}
	s.nextAdjID++
	copied := *a
	copied.ID = s.nextAdjID
	s.adjustments[a.CycleID] = &copied
	return &copied, nil
}

func (s *fakeCycleStore) GetAdjustmentByCycle(ctx context.Context, cycleID int64) (*model.InvoiceAdjustment, error) {
	a, ok := s.adjustments[cycleID]
	if !ok {
		return nil, repository.ErrAdjustmentNotFound
	}
	copied := *a
	return &copied, nil
}

func (s *fakeCycleStore) SetAdjustmentConfirmation(ctx context.Context, adjustmentID int64, confirmationID string) error {
	for _, a := range s.adjustments {
		if a.ID == adjustmentID {
			a.ConfirmationID = confirmationID
			return nil
		}
	}
	return repository.ErrAdjustmentNotFound
}

type fakeUsageReader struct {
	usage map[model.Channel]int64
}

func (f *fakeUsageReader) GetUsage(ctx context.Context, tenantID, cycleID int64) (map[model.Channel]int64, error) {
	return f.usage, nil
}

type fakeProcessor struct {
	calls int
	err   error
	keys  []int64
}

func (f *fakeProcessor) SubmitAdjustment(ctx context.Context, adjustment *model.InvoiceAdjustment) (string, error) {
	f.calls++
	f.keys = append(f.keys, adjustment.CycleID)
	if f.err != nil {
		return "", f.err
	}
	return "conf-1", nil
}

func basicPlan() model.CommunicationPlan {
	return model.CommunicationPlan{
		ID:              1,
		TierName:        "basic",
		IncludedSMS:     100,
		IncludedEmail:   500,
		OverageSMSCents: 2,
		CycleDays:       30,
	}
}

func endedCycle(id int64) *model.BillingCycle {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	return &model.BillingCycle{
		ID:           id,
		TenantID:     1,
		Start:        start,
		End:          start.AddDate(0, 0, 30),
		PlanSnapshot: basicPlan(),
	}
}

func TestComputeAdjustment(t *testing.T) {
	t.Run("overage charged per unit", func(t *testing.T) {
		cycle := endedCycle(1)
		adj := ComputeAdjustment(cycle, map[model.Channel]int64{model.ChannelSMS: 137})

		// 137 sent, 100 included, 37 over at 2 cents each
		assert.Equal(t, int64(74), adj.TotalCents)

		require.Len(t, adj.LineItems, 2)
		sms := adj.LineItems[0]
		assert.Equal(t, model.ChannelSMS, sms.Channel)
		assert.Equal(t, int64(137), sms.UsageCount)
		assert.Equal(t, int64(100), sms.IncludedCount)
		assert.Equal(t, int64(37), sms.OverageUnits)
		assert.Equal(t, int64(2), sms.UnitPriceCents)
		assert.Equal(t, int64(74), sms.AmountCents)
	})

	t.Run("usage under quota is free", func(t *testing.T) {
		adj := ComputeAdjustment(endedCycle(1), map[model.Channel]int64{model.ChannelSMS: 99})
		assert.Zero(t, adj.TotalCents)
		assert.Zero(t, adj.LineItems[0].OverageUnits)
	})

	t.Run("usage exactly at quota is free", func(t *testing.T) {
		adj := ComputeAdjustment(endedCycle(1), map[model.Channel]int64{model.ChannelSMS: 100})
		assert.Zero(t, adj.TotalCents)
	})

	t.Run("unmetered channel never bills", func(t *testing.T) {
		adj := ComputeAdjustment(endedCycle(1), map[model.Channel]int64{model.ChannelPush: 5000})
		assert.Zero(t, adj.TotalCents)
		for _, line := range adj.LineItems {
			assert.NotEqual(t, model.ChannelPush, line.Channel)
		}
	})

	t.Run("multiple channels sum", func(t *testing.T) {
		cycle := endedCycle(1)
		cycle.PlanSnapshot.OverageEmailCents = 1
		adj := ComputeAdjustment(cycle, map[model.Channel]int64{
			model.ChannelSMS:   110, // 10 * 2
			model.ChannelEmail: 505, // 5 * 1
		})
		assert.Equal(t, int64(25), adj.TotalCents)
	})
}

func TestReconciler_CloseCycle(t *testing.T) {
	t.Run("closes computes and bills", func(t *testing.T) {
		store := newFakeCycleStore(endedCycle(1))
		proc := &fakeProcessor{}
		r := New(store, &fakeUsageReader{usage: map[model.Channel]int64{model.ChannelSMS: 137}}, proc, DefaultConfig())

		adj, err := r.CloseCycle(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, int64(74), adj.TotalCents)

		cycle := store.cycles[1]
		assert.True(t, cycle.Closed)
		assert.True(t, cycle.Billed)
		assert.Equal(t, 1, proc.calls)
		assert.Equal(t, "conf-1", store.adjustments[1].ConfirmationID)
	})

	t.Run("second close returns existing adjustment", func(t *testing.T) {
		store := newFakeCycleStore(endedCycle(1))
		proc := &fakeProcessor{}
		usage := &fakeUsageReader{usage: map[model.Channel]int64{model.ChannelSMS: 137}}
		r := New(store, usage, proc, DefaultConfig())

		first, err := r.CloseCycle(context.Background(), 1)
		require.NoError(t, err)

		// Usage that sneaks in after close must not change the charge
		usage.usage[model.ChannelSMS] = 500

		second, err := r.CloseCycle(context.Background(), 1)
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, int64(74), second.TotalCents)
		assert.Equal(t, 1, store.closeCalls)
		assert.Equal(t, 1, proc.calls)
	})

	t.Run("live cycle is refused", func(t *testing.T) {
		cycle := endedCycle(1)
		store := newFakeCycleStore(cycle)
		proc := &fakeProcessor{}
		r := New(store, &fakeUsageReader{usage: map[model.Channel]int64{model.ChannelSMS: 137}}, proc, DefaultConfig())
		// halfway through the cycle window
		r.now = func() time.Time { return cycle.Start.AddDate(0, 0, 15) }

		adj, err := r.CloseCycle(context.Background(), 1)
		assert.ErrorIs(t, err, ErrCycleStillOpen)
		assert.Nil(t, adj)

		// nothing frozen, nothing billed; usage keeps accruing here
		assert.False(t, store.cycles[1].Closed)
		assert.Zero(t, store.closeCalls)
		assert.Empty(t, store.adjustments)
		assert.Zero(t, proc.calls)
	})

	t.Run("close inside grace window is refused", func(t *testing.T) {
		cycle := endedCycle(1)
		store := newFakeCycleStore(cycle)
		proc := &fakeProcessor{}
		conf := DefaultConfig()
		r := New(store, &fakeUsageReader{usage: map[model.Channel]int64{model.ChannelSMS: 137}}, proc, conf)
		r.now = func() time.Time { return cycle.End.Add(conf.Grace / 2) }

		_, err := r.CloseCycle(context.Background(), 1)
		assert.ErrorIs(t, err, ErrCycleStillOpen)
		assert.False(t, store.cycles[1].Closed)

		// past the grace period the very same call succeeds
		r.now = func() time.Time { return cycle.End.Add(conf.Grace) }
		adj, err := r.CloseCycle(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, int64(74), adj.TotalCents)
		assert.True(t, store.cycles[1].Closed)
	})

	t.Run("processor outage leaves cycle pending billing", func(t *testing.T) {
		store := newFakeCycleStore(endedCycle(1))
		proc := &fakeProcessor{err: errors.New("processor down")}
		r := New(store, &fakeUsageReader{usage: map[model.Channel]int64{model.ChannelSMS: 137}}, proc, DefaultConfig())

		adj, err := r.CloseCycle(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, int64(74), adj.TotalCents)

		cycle := store.cycles[1]
		assert.True(t, cycle.Closed)
		assert.False(t, cycle.Billed)
	})

	t.Run("retry pass bills a pending cycle once", func(t *testing.T) {
		store := newFakeCycleStore(endedCycle(1))
		proc := &fakeProcessor{err: errors.New("processor down")}
		r := New(store, &fakeUsageReader{usage: map[model.Channel]int64{model.ChannelSMS: 137}}, proc, DefaultConfig())
		r.now = func() time.Time { return time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC) }

		_, err := r.CloseCycle(context.Background(), 1)
		require.NoError(t, err)

		proc.err = nil
		require.NoError(t, r.RunOnce(context.Background()))

		assert.True(t, store.cycles[1].Billed)
		assert.Equal(t, "conf-1", store.adjustments[1].ConfirmationID)

		// Another pass finds nothing to do
		require.NoError(t, r.RunOnce(context.Background()))
		assert.Equal(t, 2, proc.calls)
	})

	t.Run("zero overage bills locally", func(t *testing.T) {
		store := newFakeCycleStore(endedCycle(1))
		proc := &fakeProcessor{}
		r := New(store, &fakeUsageReader{usage: map[model.Channel]int64{model.ChannelSMS: 50}}, proc, DefaultConfig())

		adj, err := r.CloseCycle(context.Background(), 1)
		require.NoError(t, err)
		assert.Zero(t, adj.TotalCents)
		assert.True(t, store.cycles[1].Billed)
		assert.Zero(t, proc.calls)
	})

	t.Run("unknown cycle errors", func(t *testing.T) {
		r := New(newFakeCycleStore(), &fakeUsageReader{}, &fakeProcessor{}, DefaultConfig())
		_, err := r.CloseCycle(context.Background(), 99)
		assert.ErrorIs(t, err, repository.ErrCycleNotFound)
	})
}

func TestReconciler_RunOnce_ClosesDueCycles(t *testing.T) {
	cycle := endedCycle(1)
	store := newFakeCycleStore(cycle)
	proc := &fakeProcessor{}
	r := New(store, &fakeUsageReader{usage: map[model.Channel]int64{model.ChannelSMS: 137}}, proc, DefaultConfig())

	t.Run("before grace expires nothing closes", func(t *testing.T) {
		r.now = func() time.Time { return cycle.End.Add(time.Minute) }
		require.NoError(t, r.RunOnce(context.Background()))
		assert.False(t, store.cycles[1].Closed)
	})

	t.Run("after grace the cycle closes", func(t *testing.T) {
		r.now = func() time.Time { return cycle.End.Add(10 * time.Minute) }
		require.NoError(t, r.RunOnce(context.Background()))
		assert.True(t, store.cycles[1].Closed)
		assert.True(t, store.cycles[1].Billed)
	})
}
