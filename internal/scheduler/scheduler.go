package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/bookline/reminder-engine/internal/model"
	"github.com/bookline/reminder-engine/pkg/logger"
)

var (
	ErrNoOffsets = errors.New("at least one reminder offset is required")
)

// ScheduleRepository is the persistence surface the scheduler needs.
type ScheduleRepository interface {
	Create(ctx context.Context, s *model.ReminderSchedule) (*model.ReminderSchedule, error)
	HasActive(ctx context.Context, appointmentID string, offset time.Duration, channel model.Channel) (bool, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*model.ReminderSchedule, error)
	Claim(ctx context.Context, id int64) error
	CancelPending(ctx context.Context, appointmentID string) (int64, error)
}

// Config holds the reminder timing knobs. Offsets are how long before
// the appointment start each reminder goes out.
type Config struct {
	Offsets []time.Duration
}

func DefaultConfig() Config {
	return Config{
		Offsets: []time.Duration{24 * time.Hour, 2 * time.Hour},
	}
}

// Scheduler turns appointment lifecycle events into reminder schedules
// and surfaces due ones to the dispatcher.
type Scheduler struct {
	schedules ScheduleRepository
	config    Config
	now       func() time.Time
}

func New(schedules ScheduleRepository, config Config) (*Scheduler, error) {
	if len(config.Offsets) == 0 {
		return nil, ErrNoOffsets
	}
	return &Scheduler{
		schedules: schedules,
		config:    config,
		now:       time.Now,
	}, nil
}

// OnAppointmentConfirmed creates one pending schedule per (offset,
// eligible channel). Offsets that already passed are skipped, never
// scheduled in the past. Channels without a contact method are skipped
// silently. A replayed confirmed event is a no-op for schedules that
// already exist.
func (s *Scheduler) OnAppointmentConfirmed(ctx context.Context, appt *model.Appointment) error {
	if err := appt.Validate(); err != nil {
		return err
	}

	now := s.now()
	created := 0

	for _, offset := range s.config.Offsets {
		sendAt := appt.StartTime.Add(-offset)
		if !sendAt.After(now) {
			logger.Debug("Skipping past reminder offset",
				"appointment_id", appt.ID, "offset", offset.String(), "send_at", sendAt)
			continue
		}

		for _, channel := range model.AllChannels {
			recipient := appt.Recipient(channel)
			if recipient == "" {
				continue
			}

			exists, err := s.schedules.HasActive(ctx, appt.ID, offset, channel)
			if err != nil {
				return err
			}
			if exists {
				// Duplicate confirmed event; the schedule is already there.
				continue
			}

			_, err = s.schedules.Create(ctx, &model.ReminderSchedule{
				AppointmentID:     appt.ID,
				TenantID:          appt.TenantID,
				Channel:           channel,
				Recipient:         recipient,
				Offset:            offset,
				ClientName:        appt.ClientName,
				ServiceName:       appt.ServiceName,
				AppointmentStart:  appt.StartTime,
				ScheduledSendTime: sendAt,
				Status:            model.ScheduleStatusPending,
			})
			if err != nil {
				return err
			}
			created++
		}
	}

	logger.Info("Appointment confirmed",
		"appointment_id", appt.ID, "tenant_id", appt.TenantID, "schedules_created", created)
	return nil
}

// OnAppointmentCanceled cancels every pending schedule of the
// appointment. Schedules already in flight complete their send; the
// cancellation only stops future dispatches.
func (s *Scheduler) OnAppointmentCanceled(ctx context.Context, appointmentID string) error {
	n, err := s.schedules.CancelPending(ctx, appointmentID)
	if err != nil {
		return err
	}
	logger.Info("Appointment canceled", "appointment_id", appointmentID, "schedules_canceled", n)
	return nil
}

// OnAppointmentRescheduled invalidates the old appointment's schedules
// and creates fresh ones for the new time. Old rows are never reused.
func (s *Scheduler) OnAppointmentRescheduled(ctx context.Context, old, updated *model.Appointment) error {
	if err := s.OnAppointmentCanceled(ctx, old.ID); err != nil {
		return err
	}
	return s.OnAppointmentConfirmed(ctx, updated)
}

// PollDue returns pending schedules whose send time has passed, earliest
// first. This is the dispatcher's only read path; polling rather than
// push means a restart loses no work.
func (s *Scheduler) PollDue(ctx context.Context, now time.Time, limit int) ([]*model.ReminderSchedule, error) {
	return s.schedules.ListDue(ctx, now, limit)
}

// Claim atomically moves a due schedule to in_flight so exactly one
// worker dispatches it.
func (s *Scheduler) Claim(ctx context.Context, scheduleID int64) error {
	return s.schedules.Claim(ctx, scheduleID)
}
