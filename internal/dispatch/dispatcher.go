package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bookline/reminder-engine/internal/gateway"
	"github.com/bookline/reminder-engine/internal/model"
	"github.com/bookline/reminder-engine/pkg/logger"
	"github.com/bookline/reminder-engine/pkg/prom"
	"github.com/bookline/reminder-engine/pkg/worker"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

// ScheduleSource surfaces due schedules and claims them for dispatch.
type ScheduleSource interface {
	PollDue(ctx context.Context, now time.Time, limit int) ([]*model.ReminderSchedule, error)
	Claim(ctx context.Context, id int64) error
}

// ScheduleStore covers the terminal and recovery transitions.
type ScheduleStore interface {
	MarkFailed(ctx context.Context, id int64) error
	ReleaseStale(ctx context.Context, cutoff time.Time) (int64, error)
}

type AttemptStore interface {
	Create(ctx context.Context, a *model.ReminderAttempt) (*model.ReminderAttempt, error)
	ListBySchedule(ctx context.Context, scheduleID int64) ([]*model.ReminderAttempt, error)
}

// UsageRecorder finalizes a delivered reminder: usage counter plus the
// sent mark, atomically and idempotently.
type UsageRecorder interface {
	RecordSuccess(ctx context.Context, schedule *model.ReminderSchedule) error
}

type Config struct {
	PollInterval time.Duration
	BatchSize    int
	Workers      int
	QueueSize    int

	MaxAttempts int
	RetryBase   time.Duration
	RetryCap    time.Duration

	// StaleAfter is how long a schedule may sit in_flight before the
	// sweep hands it back to pending. Must exceed the worst-case retry
	// chain or a live dispatch gets double-sent.
	StaleAfter time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval: time.Minute,
		BatchSize:    100,
		Workers:      20,
		QueueSize:    10_000,
		MaxAttempts:  3,
		RetryBase:    2 * time.Second,
		RetryCap:     60 * time.Second,
		StaleAfter:   10 * time.Minute,
	}
}

// Dispatcher polls for due reminder schedules, claims them one at a
// time and pushes each through its channel provider with retries.
type Dispatcher struct {
	source   ScheduleSource
	store    ScheduleStore
	attempts AttemptStore
	usage    UsageRecorder
	registry *gateway.Registry
	renderer *gateway.Renderer
	guard    *DispatchGuard
	config   Config

	worker *worker.WorkerManager
	cron   *cron.Cron
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(source ScheduleSource, store ScheduleStore, attempts AttemptStore, usage UsageRecorder,
	registry *gateway.Registry, renderer *gateway.Renderer, guard *DispatchGuard, config Config) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		source:   source,
		store:    store,
		attempts: attempts,
		usage:    usage,
		registry: registry,
		renderer: renderer,
		guard:    guard,
		config:   config,
		worker:   worker.NewWorkerManager(config.QueueSize, config.Workers, nil),
		cron:     cron.New(),
		ctx:      ctx,
		cancel:   cancel,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start wires the poll and recovery jobs onto the cron and spins up the
// worker pool. It returns once everything is running.
func (d *Dispatcher) Start() error {
	logger.Info("Starting Dispatcher...")

	d.worker.SetWorker(d.workerHandler)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.worker.Start(); err != nil {
			logger.Error("Worker manager stopped", "error", err)
		}
	}()

	pollSpec := fmt.Sprintf("@every %s", d.config.PollInterval)
	if _, err := d.cron.AddFunc(pollSpec, func() {
		if err := d.PollOnce(d.ctx); err != nil {
			logger.Error("Poll pass failed", "error", err)
		}
	}); err != nil {
		return errors.Wrap(err, "schedule poll job")
	}

	sweepSpec := fmt.Sprintf("@every %s", d.config.StaleAfter/2)
	if _, err := d.cron.AddFunc(sweepSpec, func() {
		d.releaseStale(d.ctx)
	}); err != nil {
		return errors.Wrap(err, "schedule sweep job")
	}

	d.cron.Start()
	logger.Info("Dispatcher started",
		"poll_interval", d.config.PollInterval,
		"workers", d.config.Workers,
		"max_attempts", d.config.MaxAttempts)
	return nil
}

// Stop drains the cron and worker pool.
func (d *Dispatcher) Stop() {
	logger.Info("Shutting down Dispatcher...")
	cronCtx := d.cron.Stop()
	<-cronCtx.Done()
	d.cancel()
	d.worker.Exit()
	d.wg.Wait()
	logger.Info("Dispatcher stopped")
}

// PollOnce runs one poll pass: list due schedules and hand each to the
// worker pool.
func (d *Dispatcher) PollOnce(ctx context.Context) error {
	due, err := d.source.PollDue(ctx, d.now(), d.config.BatchSize)
	if err != nil {
		return errors.Wrap(err, "poll due schedules")
	}
	if len(due) == 0 {
		return nil
	}

	logger.Info("Found due schedules", "count", len(due))
	for _, schedule := range due {
		d.worker.Enqueue(schedule)
	}
	return nil
}

func (d *Dispatcher) releaseStale(ctx context.Context) {
	cutoff := d.now().Add(-d.config.StaleAfter)
	released, err := d.store.ReleaseStale(ctx, cutoff)
	if err != nil {
		logger.Error("Stale release sweep failed", "error", err)
		return
	}
	if released > 0 {
		logger.Warn("Released stale in-flight schedules", "count", released)
	}
}

func (d *Dispatcher) workerHandler(workerIndex int, job interface{}) {
	schedule, ok := job.(*model.ReminderSchedule)
	if !ok {
		logger.Error("Invalid job type in worker", "worker", workerIndex)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic while dispatching schedule",
				"worker", workerIndex,
				"schedule_id", schedule.ID,
				"panic", r)
		}
	}()

	if err := d.Dispatch(d.ctx, schedule); err != nil {
		logger.Error("Failed to dispatch schedule",
			"worker", workerIndex,
			"schedule_id", schedule.ID,
			"error", err)
	}
}

// Dispatch claims one due schedule and drives it to a terminal state:
// sent after a successful provider send, failed after a permanent
// rejection or when the retry budget is spent. Every provider call
// leaves an attempt row regardless of outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, schedule *model.ReminderSchedule) error {
	lease, err := d.guard.Acquire(ctx, schedule.ID)
	if err != nil {
		if errors.Is(err, ErrAlreadyDispatched) || errors.Is(err, ErrLockHeld) {
			logger.Debug("Skipping schedule", "schedule_id", schedule.ID, "reason", err)
			return nil
		}
		return err
	}
	defer d.guard.Release(ctx, lease)

	if err := d.source.Claim(ctx, schedule.ID); err != nil {
		// Claimed elsewhere or no longer pending, nothing to do here
		logger.Debug("Claim lost", "schedule_id", schedule.ID, "error", err)
		return nil
	}

	channel, err := d.registry.Channel(schedule.Channel)
	if err != nil {
		return d.failPermanently(ctx, schedule, lease, 1, err)
	}

	subject, body, err := d.renderer.Render(schedule)
	if err != nil {
		return d.failPermanently(ctx, schedule, lease, 1, err)
	}

	prior, err := d.attempts.ListBySchedule(ctx, schedule.ID)
	if err != nil {
		return errors.Wrap(err, "list prior attempts")
	}
	base := len(prior)

	req := &gateway.SendRequest{
		ScheduleID: schedule.ID,
		TenantID:   schedule.TenantID,
		Recipient:  schedule.Recipient,
		Subject:    subject,
		Body:       body,
	}

	for try := 1; try <= d.config.MaxAttempts; try++ {
		res, sendErr := channel.Send(ctx, req)
		result := gateway.Classify(sendErr)
		d.recordAttempt(ctx, schedule, base+try, result, res, sendErr)

		switch result {
		case model.AttemptResultSuccess:
			if err := d.usage.RecordSuccess(ctx, schedule); err != nil {
				// Leave the lock aside so a later poll replays this
				// schedule; RecordSuccess is idempotent on replay.
				return errors.Wrap(err, "record delivery")
			}
			prom.AddReminderDeliveryDuration(d.now().Sub(schedule.ScheduledSendTime).Seconds(), string(schedule.Channel))
			prom.IncReminderDispatched(string(schedule.Channel), string(model.ScheduleStatusSent))
			logger.Info("Reminder delivered",
				"schedule_id", schedule.ID,
				"channel", schedule.Channel,
				"attempt", base+try,
				"provider_ref", res.ProviderRef)
			return d.guard.MarkDispatched(ctx, lease)

		case model.AttemptResultPermanentFailure:
			logger.Warn("Reminder permanently rejected",
				"schedule_id", schedule.ID,
				"channel", schedule.Channel,
				"attempt", base+try,
				"error", sendErr)
			return d.markFailed(ctx, schedule, lease)

		case model.AttemptResultTransientFailure:
			if try == d.config.MaxAttempts {
				break
			}
			delay := gateway.Backoff(d.config.RetryBase, d.config.RetryCap, try)
			logger.Warn("Transient send failure, retrying",
				"schedule_id", schedule.ID,
				"attempt", base+try,
				"retry_in", delay,
				"error", sendErr)
			if err := d.sleep(ctx, delay); err != nil {
				return err
			}
		}
	}

	logger.Error("Retry budget exhausted", "schedule_id", schedule.ID, "attempts", d.config.MaxAttempts)
	return d.markFailed(ctx, schedule, lease)
}

func (d *Dispatcher) failPermanently(ctx context.Context, schedule *model.ReminderSchedule, lease *DispatchLease, attemptNumber int, cause error) error {
	logger.Error("Schedule cannot be delivered",
		"schedule_id", schedule.ID,
		"channel", schedule.Channel,
		"error", cause)
	d.recordAttempt(ctx, schedule, attemptNumber, model.AttemptResultPermanentFailure, nil, cause)
	return d.markFailed(ctx, schedule, lease)
}

func (d *Dispatcher) markFailed(ctx context.Context, schedule *model.ReminderSchedule, lease *DispatchLease) error {
	if err := d.store.MarkFailed(ctx, schedule.ID); err != nil {
		return errors.Wrap(err, "mark schedule failed")
	}
	prom.IncReminderDispatched(string(schedule.Channel), string(model.ScheduleStatusFailed))
	return d.guard.MarkDispatched(ctx, lease)
}

func (d *Dispatcher) recordAttempt(ctx context.Context, schedule *model.ReminderSchedule, number int, result model.AttemptResult, res *gateway.SendResponse, sendErr error) {
	attempt := &model.ReminderAttempt{
		ScheduleID:    schedule.ID,
		TenantID:      schedule.TenantID,
		Channel:       schedule.Channel,
		AttemptNumber: number,
		Result:        result,
	}
	if res != nil {
		attempt.ProviderRef = res.ProviderRef
	}
	if sendErr != nil {
		attempt.ErrorMessage = sendErr.Error()
	}

	if _, err := d.attempts.Create(ctx, attempt); err != nil {
		logger.Error("Failed to record attempt",
			"schedule_id", schedule.ID,
			"attempt", number,
			"error", err)
	}
	prom.IncReminderAttempt(string(schedule.Channel), string(result))
}
