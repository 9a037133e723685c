package model

import (
	"errors"
	"time"
)

// Appointment is the external appointment record, consumed by reference
// from the booking subsystem lifecycle events. It is never persisted here.
type Appointment struct {
	ID          string    `json:"id"`
	TenantID    int64     `json:"tenant_id"`
	StartTime   time.Time `json:"start_time"`
	ClientName  string    `json:"client_name"`
	ServiceName string    `json:"service_name"`
	Phone       string    `json:"phone,omitempty"`
	Email       string    `json:"email,omitempty"`
	PushToken   string    `json:"push_token,omitempty"`
}

func (a *Appointment) Validate() error {
	if a.ID == "" {
		return errors.New("appointment id is required")
	}
	if a.TenantID == 0 {
		return errors.New("tenant_id is required")
	}
	if a.StartTime.IsZero() {
		return errors.New("start_time is required")
	}
	return nil
}

// Recipient returns the contact address for a channel, empty when the
// client has no contact method for it.
func (a *Appointment) Recipient(c Channel) string {
	switch c {
	case ChannelSMS:
		return a.Phone
	case ChannelEmail:
		return a.Email
	case ChannelPush:
		return a.PushToken
	}
	return ""
}

type AppointmentEventType string

const (
	EventConfirmed   AppointmentEventType = "confirmed"
	EventCanceled    AppointmentEventType = "canceled"
	EventRescheduled AppointmentEventType = "rescheduled"
)

// AppointmentEvent is the lifecycle envelope published by the booking
// subsystem. Delivery is at-least-once; handlers must be idempotent.
type AppointmentEvent struct {
	Type        AppointmentEventType `json:"type"`
	Appointment *Appointment         `json:"appointment,omitempty"`
	Old         *Appointment         `json:"old,omitempty"`
	New         *Appointment         `json:"new,omitempty"`
	OccurredAt  time.Time            `json:"occurred_at"`
}

func (e *AppointmentEvent) Validate() error {
	switch e.Type {
	case EventConfirmed, EventCanceled:
		if e.Appointment == nil {
			return errors.New("appointment payload is required")
		}
		return e.Appointment.Validate()
	case EventRescheduled:
		if e.Old == nil || e.New == nil {
			return errors.New("rescheduled event requires old and new appointments")
		}
		if err := e.Old.Validate(); err != nil {
			return err
		}
		return e.New.Validate()
	}
	return errors.New("unknown event type: " + string(e.Type))
}
