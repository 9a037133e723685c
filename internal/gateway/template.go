package gateway

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/bookline/reminder-engine/internal/model"
)

const defaultSMSTemplate = `Hi {{.ClientName}}, a reminder for your {{.ServiceName}} appointment on {{.StartTime}}. See you then!`

const defaultEmailSubjectTemplate = `Reminder: {{.ServiceName}} on {{.StartTime}}`

const defaultEmailBodyTemplate = `Hi {{.ClientName}},

This is a reminder for your upcoming {{.ServiceName}} appointment on {{.StartTime}}.

If you need to reschedule, please contact us as soon as possible.
`

const defaultPushTemplate = `{{.ServiceName}} appointment on {{.StartTime}}`

// TemplateContext is what reminder templates may reference.
type TemplateContext struct {
	ClientName  string
	ServiceName string
	StartTime   string
}

// Renderer renders per-channel reminder messages from a schedule.
type Renderer struct {
	sms          *template.Template
	emailSubject *template.Template
	emailBody    *template.Template
	push         *template.Template
	timeFormat   string
}

func NewRenderer() (*Renderer, error) {
	r := &Renderer{timeFormat: "Mon, Jan 2 at 3:04 PM"}

	var err error
	if r.sms, err = template.New("sms").Parse(defaultSMSTemplate); err != nil {
		return nil, err
	}
	if r.emailSubject, err = template.New("email_subject").Parse(defaultEmailSubjectTemplate); err != nil {
		return nil, err
	}
	if r.emailBody, err = template.New("email_body").Parse(defaultEmailBodyTemplate); err != nil {
		return nil, err
	}
	if r.push, err = template.New("push").Parse(defaultPushTemplate); err != nil {
		return nil, err
	}
	return r, nil
}

// Render produces the subject (email only) and body for a schedule.
func (r *Renderer) Render(s *model.ReminderSchedule) (subject, body string, err error) {
	tc := TemplateContext{
		ClientName:  s.ClientName,
		ServiceName: s.ServiceName,
		StartTime:   s.AppointmentStart.Format(r.timeFormat),
	}
	if tc.ClientName == "" {
		tc.ClientName = "there"
	}
	if tc.ServiceName == "" {
		tc.ServiceName = "appointment"
	}

	switch s.Channel {
	case model.ChannelSMS:
		body, err = render(r.sms, tc)
	case model.ChannelEmail:
		if subject, err = render(r.emailSubject, tc); err != nil {
			return "", "", err
		}
		body, err = render(r.emailBody, tc)
	case model.ChannelPush:
		body, err = render(r.push, tc)
	default:
		err = fmt.Errorf("no template for channel %q", s.Channel)
	}
	return subject, body, err
}

func render(t *template.Template, tc TemplateContext) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, tc); err != nil {
		return "", err
	}
	return buf.String(), nil
}
