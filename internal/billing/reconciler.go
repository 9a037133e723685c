package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/bookline/reminder-engine/internal/model"
	"github.com/bookline/reminder-engine/internal/repository"
	"github.com/bookline/reminder-engine/pkg/logger"
	"github.com/bookline/reminder-engine/pkg/prom"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

// ErrCycleStillOpen rejects a close on a cycle whose window, plus the
// grace period, has not elapsed yet. Live cycles stay open so usage
// keeps landing in them.
var ErrCycleStillOpen = errors.New("cycle still open")

type CycleStore interface {
	GetByID(ctx context.Context, id int64) (*model.BillingCycle, error)
	ListDueForClose(ctx context.Context, now time.Time, grace time.Duration) ([]*model.BillingCycle, error)
	ListUnbilled(ctx context.Context, cutoff time.Time) ([]*model.BillingCycle, error)
	MarkClosed(ctx context.Context, id int64, now time.Time) error
	MarkBilled(ctx context.Context, id int64, now time.Time) error
	CreateAdjustment(ctx context.Context, a *model.InvoiceAdjustment) (*model.InvoiceAdjustment, error)
	GetAdjustmentByCycle(ctx context.Context, cycleID int64) (*model.InvoiceAdjustment, error)
	SetAdjustmentConfirmation(ctx context.Context, adjustmentID int64, confirmationID string) error
}

type UsageReader interface {
	GetUsage(ctx context.Context, tenantID, cycleID int64) (map[model.Channel]int64, error)
}

// Processor is the external billing system that turns adjustments into
// invoice charges. Submissions are idempotent on the cycle id.
type Processor interface {
	SubmitAdjustment(ctx context.Context, adjustment *model.InvoiceAdjustment) (confirmationID string, err error)
}

type Config struct {
	// Grace is how long past a cycle's end the reconciler waits before
	// closing it, so in-flight sends land in the right cycle.
	Grace time.Duration

	// RunInterval is how often the close and retry passes run.
	RunInterval time.Duration

	// UnbilledAlertAfter is how long a closed cycle may sit unbilled
	// before the sweep raises an alert.
	UnbilledAlertAfter time.Duration
}

func DefaultConfig() Config {
	return Config{
		Grace:              5 * time.Minute,
		RunInterval:        time.Hour,
		UnbilledAlertAfter: 24 * time.Hour,
	}
}

// Reconciler closes ended billing cycles, computes overage adjustments
// from the frozen usage counters and submits them to the billing
// processor. Every step is idempotent, so a crashed pass just reruns.
type Reconciler struct {
	cycles    CycleStore
	usage     UsageReader
	processor Processor
	config    Config

	cron *cron.Cron
	now  func() time.Time
}

func New(cycles CycleStore, usage UsageReader, processor Processor, config Config) *Reconciler {
	return &Reconciler{
		cycles:    cycles,
		usage:     usage,
		processor: processor,
		config:    config,
		cron:      cron.New(),
		now:       time.Now,
	}
}

func (r *Reconciler) Start() error {
	spec := fmt.Sprintf("@every %s", r.config.RunInterval)
	if _, err := r.cron.AddFunc(spec, func() {
		if err := r.RunOnce(context.Background()); err != nil {
			logger.Error("Reconciliation pass failed", "error", err)
		}
	}); err != nil {
		return errors.Wrap(err, "schedule reconciliation job")
	}
	r.cron.Start()
	logger.Info("Billing reconciler started",
		"interval", r.config.RunInterval,
		"grace", r.config.Grace)
	return nil
}

func (r *Reconciler) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	logger.Info("Billing reconciler stopped")
}

// RunOnce executes one full reconciliation pass: close ended cycles,
// retry pending billing submissions, alert on ones stuck too long.
func (r *Reconciler) RunOnce(ctx context.Context) error {
	now := r.now()

	due, err := r.cycles.ListDueForClose(ctx, now, r.config.Grace)
	if err != nil {
		return errors.Wrap(err, "list cycles due for close")
	}
	for _, cycle := range due {
		if _, err := r.CloseCycle(ctx, cycle.ID); err != nil {
			logger.Error("Failed to close cycle",
				"cycle_id", cycle.ID,
				"tenant_id", cycle.TenantID,
				"error", err)
		}
	}

	r.retryUnbilled(ctx, now)
	return nil
}

// CloseCycle drives one cycle to closed and billed. A cycle still
// inside its window plus grace is refused with ErrCycleStillOpen.
// Calling it again for an already closed cycle returns the existing
// adjustment without recomputing anything; the cycle id is the
// idempotency key end to end.
func (r *Reconciler) CloseCycle(ctx context.Context, cycleID int64) (*model.InvoiceAdjustment, error) {
	cycle, err := r.cycles.GetByID(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	if !cycle.Closed && r.now().Before(cycle.End.Add(r.config.Grace)) {
		return nil, errors.Wrapf(ErrCycleStillOpen,
			"cycle %d ends %s", cycle.ID, cycle.End.Format(time.RFC3339))
	}

	err = r.cycles.MarkClosed(ctx, cycleID, r.now())
	if err != nil && !errors.Is(err, repository.ErrAlreadyClosed) {
		return nil, errors.Wrap(err, "mark cycle closed")
	}
	firstClose := err == nil
	if firstClose {
		prom.IncCycleClosed()
	}

	adjustment, err := r.cycles.GetAdjustmentByCycle(ctx, cycleID)
	if err == nil {
		// A previous pass already froze the adjustment. Only billing
		// submission may still be outstanding.
		if !cycle.Billed {
			r.submit(ctx, cycle, adjustment)
		}
		return adjustment, nil
	}
	if !errors.Is(err, repository.ErrAdjustmentNotFound) {
		return nil, err
	}

	usage, err := r.usage.GetUsage(ctx, cycle.TenantID, cycle.ID)
	if err != nil {
		return nil, errors.Wrap(err, "read cycle usage")
	}

	adjustment = ComputeAdjustment(cycle, usage)
	created, err := r.cycles.CreateAdjustment(ctx, adjustment)
	if errors.Is(err, repository.ErrAdjustmentExists) {
		// Concurrent close pass won the write; adopt its adjustment.
		return r.cycles.GetAdjustmentByCycle(ctx, cycleID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "create adjustment")
	}

	logger.Info("Cycle closed",
		"cycle_id", cycle.ID,
		"tenant_id", cycle.TenantID,
		"total_cents", created.TotalCents)
	prom.AddAdjustmentCents(float64(created.TotalCents))

	r.submit(ctx, cycle, created)
	return created, nil
}

// submit pushes the adjustment to the billing processor and flips the
// billed flag. Failures leave the cycle closed but unbilled; the retry
// pass picks it up later.
func (r *Reconciler) submit(ctx context.Context, cycle *model.BillingCycle, adjustment *model.InvoiceAdjustment) {
	if adjustment.TotalCents == 0 {
		// Nothing to charge; settle the cycle locally.
		if err := r.cycles.MarkBilled(ctx, cycle.ID, r.now()); err != nil {
			logger.Error("Failed to mark zero-overage cycle billed", "cycle_id", cycle.ID, "error", err)
		}
		return
	}

	confirmationID, err := r.processor.SubmitAdjustment(ctx, adjustment)
	if err != nil {
		logger.Warn("Billing submission failed, cycle stays pending",
			"cycle_id", cycle.ID,
			"tenant_id", cycle.TenantID,
			"error", err)
		return
	}

	if err := r.cycles.SetAdjustmentConfirmation(ctx, adjustment.ID, confirmationID); err != nil {
		logger.Error("Failed to record billing confirmation",
			"cycle_id", cycle.ID,
			"confirmation_id", confirmationID,
			"error", err)
		return
	}
	if err := r.cycles.MarkBilled(ctx, cycle.ID, r.now()); err != nil {
		logger.Error("Failed to mark cycle billed", "cycle_id", cycle.ID, "error", err)
		return
	}

	logger.Info("Cycle billed",
		"cycle_id", cycle.ID,
		"tenant_id", cycle.TenantID,
		"confirmation_id", confirmationID)
}

func (r *Reconciler) retryUnbilled(ctx context.Context, now time.Time) {
	unbilled, err := r.cycles.ListUnbilled(ctx, now)
	if err != nil {
		logger.Error("Failed to list unbilled cycles", "error", err)
		return
	}

	for _, cycle := range unbilled {
		if now.Sub(cycle.End) > r.config.UnbilledAlertAfter {
			logger.Error("ALERT: cycle unbilled past threshold",
				"cycle_id", cycle.ID,
				"tenant_id", cycle.TenantID,
				"ended_at", cycle.End,
				"threshold", r.config.UnbilledAlertAfter)
		}

		adjustment, err := r.cycles.GetAdjustmentByCycle(ctx, cycle.ID)
		if err != nil {
			logger.Error("Unbilled cycle has no adjustment", "cycle_id", cycle.ID, "error", err)
			continue
		}
		r.submit(ctx, cycle, adjustment)
	}
}

// ComputeAdjustment derives the overage charge for a closed cycle from
// its usage counters and the plan snapshot taken at cycle start. Usage
// within the included quota costs nothing; each unit past it is charged
// at the snapshot's per-unit price. Unmetered channels never bill.
func ComputeAdjustment(cycle *model.BillingCycle, usage map[model.Channel]int64) *model.InvoiceAdjustment {
	adjustment := &model.InvoiceAdjustment{
		CycleID:  cycle.ID,
		TenantID: cycle.TenantID,
	}

	for _, channel := range model.AllChannels {
		included, metered := cycle.PlanSnapshot.Included(channel)
		if !metered {
			continue
		}

		used := usage[channel]
		overage := used - included
		if overage < 0 {
			overage = 0
		}
		price := cycle.PlanSnapshot.OverageCents(channel)
		amount := overage * price

		adjustment.LineItems = append(adjustment.LineItems, model.AdjustmentLine{
			Channel:        channel,
			UsageCount:     used,
			IncludedCount:  included,
			OverageUnits:   overage,
			UnitPriceCents: price,
			AmountCents:    amount,
		})
		adjustment.TotalCents += amount
	}

	return adjustment
}
