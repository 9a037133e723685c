package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bookline/reminder-engine/internal/model"
	"github.com/bookline/reminder-engine/internal/queue"
	"github.com/bookline/reminder-engine/pkg/logger"
)

// EventScheduler reacts to appointment lifecycle changes. All handlers
// are idempotent because the event stream delivers at least once.
type EventScheduler interface {
	OnAppointmentConfirmed(ctx context.Context, appt *model.Appointment) error
	OnAppointmentCanceled(ctx context.Context, appointmentID string) error
	OnAppointmentRescheduled(ctx context.Context, old, updated *model.Appointment) error
}

// AppointmentEventProcessor consumes appointment lifecycle events from
// the queue and hands them to the reminder scheduler.
type AppointmentEventProcessor struct {
	scheduler EventScheduler
}

func NewAppointmentEventProcessor(scheduler EventScheduler) *AppointmentEventProcessor {
	return &AppointmentEventProcessor{scheduler: scheduler}
}

func (p *AppointmentEventProcessor) GetType() string {
	return "appointment_event"
}

// Process handles one queued lifecycle event. Malformed or invalid
// payloads are NACKed so the queue dead-letters them after its retry
// budget; handler errors are NACKed for redelivery.
func (p *AppointmentEventProcessor) Process(ctx context.Context, queueMessage *queue.Message) error {
	var event model.AppointmentEvent
	if err := json.Unmarshal(queueMessage.Data, &event); err != nil {
		logger.Error("Failed to unmarshal appointment event", "message_id", queueMessage.ID, "error", err)
		return err
	}

	if err := event.Validate(); err != nil {
		logger.Error("Invalid appointment event", "message_id", queueMessage.ID, "type", event.Type, "error", err)
		return err
	}

	logger.Info("Processing appointment event",
		"message_id", queueMessage.ID,
		"type", event.Type,
		"occurred_at", event.OccurredAt)

	switch event.Type {
	case model.EventConfirmed:
		return p.scheduler.OnAppointmentConfirmed(ctx, event.Appointment)
	case model.EventCanceled:
		return p.scheduler.OnAppointmentCanceled(ctx, event.Appointment.ID)
	case model.EventRescheduled:
		return p.scheduler.OnAppointmentRescheduled(ctx, event.Old, event.New)
	}
	return fmt.Errorf("unhandled event type: %s", event.Type)
}
