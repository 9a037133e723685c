package gateway

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/bookline/reminder-engine/internal/model"
	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

// EmailConfig configures the SMTP-backed email channel.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type smtpSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailChannel delivers reminders over SMTP.
type EmailChannel struct {
	config EmailConfig
	sender smtpSender
}

func NewEmailChannel(config EmailConfig) (*EmailChannel, error) {
	if config.Host == "" {
		return nil, fmt.Errorf("email channel: smtp host is required")
	}
	if config.From == "" {
		return nil, fmt.Errorf("email channel: from address is required")
	}
	if config.Port == 0 {
		config.Port = 587
	}
	return &EmailChannel{
		config: config,
		sender: gomail.NewDialer(config.Host, config.Port, config.Username, config.Password),
	}, nil
}

func (c *EmailChannel) Name() model.Channel { return model.ChannelEmail }

func (c *EmailChannel) Send(ctx context.Context, req *SendRequest) (*SendResponse, error) {
	if _, err := mail.ParseAddress(req.Recipient); err != nil {
		return nil, Permanent(fmt.Errorf("invalid email recipient %q: %w", req.Recipient, err))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", c.config.From)
	m.SetHeader("To", req.Recipient)
	m.SetHeader("Subject", req.Subject)
	ref := uuid.NewString()
	m.SetHeader("Message-ID", fmt.Sprintf("<%s@reminder-engine>", ref))
	m.SetBody("text/plain", req.Body)

	// SMTP failures are transient: connection refused, auth throttling,
	// greylisting. The dispatcher retries with backoff.
	if err := c.sender.DialAndSend(m); err != nil {
		return nil, fmt.Errorf("smtp send: %w", err)
	}

	return &SendResponse{
		ProviderRef: ref,
		Provider:    c.config.Host,
		AcceptedAt:  time.Now(),
	}, nil
}
