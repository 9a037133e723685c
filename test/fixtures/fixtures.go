package fixtures

import (
	"time"

	"github.com/bookline/reminder-engine/internal/model"
)

var (
	TestPlanStarter = model.CommunicationPlan{
		ID:                1,
		TierName:          "starter",
		IncludedSMS:       100,
		IncludedEmail:     200,
		OverageSMSCents:   2,
		OverageEmailCents: 1,
		CycleDays:         30,
	}

	TestPlanPro = model.CommunicationPlan{
		ID:                2,
		TierName:          "pro",
		IncludedSMS:       1000,
		IncludedEmail:     2000,
		OverageSMSCents:   1,
		OverageEmailCents: 1,
		CycleDays:         30,
	}

	TestTenant1 = model.Tenant{
		ID:     1,
		Name:   "Downtown Salon",
		PlanID: 1,
	}

	TestTenant2 = model.Tenant{
		ID:     2,
		Name:   "Harbor Dental",
		PlanID: 2,
	}
)

func NewTestAppointment(tenantID int64, id string, start time.Time) *model.Appointment {
	return &model.Appointment{
		ID:          id,
		TenantID:    tenantID,
		StartTime:   start,
		ClientName:  "Jordan Reed",
		ServiceName: "Checkup",
		Phone:       "+15550001111",
	}
}

func NewTestConfirmedEvent(appt *model.Appointment) *model.AppointmentEvent {
	return &model.AppointmentEvent{
		Type:        model.EventConfirmed,
		Appointment: appt,
		OccurredAt:  time.Now(),
	}
}

func NewTestCanceledEvent(appt *model.Appointment) *model.AppointmentEvent {
	return &model.AppointmentEvent{
		Type:        model.EventCanceled,
		Appointment: appt,
		OccurredAt:  time.Now(),
	}
}

func NewTestRescheduledEvent(old, updated *model.Appointment) *model.AppointmentEvent {
	return &model.AppointmentEvent{
		Type:       model.EventRescheduled,
		Old:        old,
		New:        updated,
		OccurredAt: time.Now(),
	}
}

var (
	ValidPhoneNumbers = []string{
		"+15550001111",
		"+15550002222",
		"+442071234567",
	}

	ValidEmailAddresses = []string{
		"client@example.com",
		"second@example.org",
	}
)

func ScheduleFilterByAppointment(appointmentID string) model.ScheduleFilter {
	return model.ScheduleFilter{
		AppointmentID: &appointmentID,
		Limit:         50,
		Offset:        0,
	}
}

func ScheduleFilterByStatus(tenantID int64, statuses ...model.ScheduleStatus) model.ScheduleFilter {
	return model.ScheduleFilter{
		TenantID: &tenantID,
		Statuses: statuses,
		Limit:    50,
		Offset:   0,
	}
}
