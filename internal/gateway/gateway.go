package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bookline/reminder-engine/internal/model"
)

var (
	ErrNoAvailableProviders = errors.New("no available providers")
	ErrUnknownChannel       = errors.New("no provider registered for channel")
)

// SendRequest is a single delivery attempt for one reminder.
type SendRequest struct {
	ScheduleID int64  `json:"schedule_id"`
	TenantID   int64  `json:"tenant_id"`
	Recipient  string `json:"recipient"`
	Subject    string `json:"subject,omitempty"`
	Body       string `json:"body"`
}

// SendResponse is the provider acknowledgement of an accepted send.
type SendResponse struct {
	ProviderRef string    `json:"provider_ref"`
	Provider    string    `json:"provider"`
	AcceptedAt  time.Time `json:"accepted_at"`
}

// Channel delivers one reminder through one communication medium. The
// scheduler and usage meter only ever see this interface, never a
// provider-specific type.
type Channel interface {
	Name() model.Channel
	Send(ctx context.Context, req *SendRequest) (*SendResponse, error)
}

// permanentError marks failures that will not succeed on retry: invalid
// recipients, provider 4xx rejections. Everything else is transient.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Classify reports it as a permanent failure.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Classify maps a send error to an attempt result. A nil error is a
// success; wrapped permanent errors are permanent; network errors,
// timeouts and provider 5xx responses are transient and retryable.
func Classify(err error) model.AttemptResult {
	if err == nil {
		return model.AttemptResultSuccess
	}
	var pe *permanentError
	if errors.As(err, &pe) {
		return model.AttemptResultPermanentFailure
	}
	return model.AttemptResultTransientFailure
}

// Registry maps channels to their provider adapters.
type Registry struct {
	channels map[model.Channel]Channel
}

func NewRegistry(channels ...Channel) *Registry {
	r := &Registry{channels: make(map[model.Channel]Channel, len(channels))}
	for _, c := range channels {
		r.channels[c.Name()] = c
	}
	return r
}

func (r *Registry) Channel(name model.Channel) (Channel, error) {
	c, ok := r.channels[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, name)
	}
	return c, nil
}

func (r *Registry) Channels() []model.Channel {
	names := make([]model.Channel, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	return names
}

// Backoff returns the delay before retry attempt n (1-based), doubling
// from base and capped.
func Backoff(base, cap time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	if d > cap {
		return cap
	}
	return d
}
