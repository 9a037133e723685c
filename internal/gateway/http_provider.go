package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/bookline/reminder-engine/internal/model"
	"github.com/bookline/reminder-engine/pkg/logger"
	"github.com/valyala/fasthttp"
)

// ProviderConfig describes one HTTP provider endpoint for a channel.
type ProviderConfig struct {
	Name   string
	URL    string
	Weight int // selection priority, higher wins
}

// HTTPChannelConfig configures an HTTP-backed channel (SMS, push).
type HTTPChannelConfig struct {
	Channel                 model.Channel
	Providers               []ProviderConfig
	Timeout                 time.Duration
	MaxConns                int
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
}

type provider struct {
	name   string
	url    string
	weight int
	client *fasthttp.Client

	consecutiveFails atomic.Int32
	circuitOpenUntil atomic.Int64
}

func (p *provider) available() bool {
	openUntil := p.circuitOpenUntil.Load()
	return openUntil == 0 || time.Now().Unix() > openUntil
}

// HTTPChannel delivers reminders through provider HTTP APIs with
// failover across providers of the same channel. There is no failover
// across channel types; a reminder uses exactly the channel it was
// scheduled for.
type HTTPChannel struct {
	channel   model.Channel
	providers []*provider
	config    HTTPChannelConfig
}

func NewHTTPChannel(config HTTPChannelConfig) (*HTTPChannel, error) {
	if len(config.Providers) == 0 {
		return nil, fmt.Errorf("channel %s: at least one provider is required", config.Channel)
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}
	if config.CircuitBreakerThreshold == 0 {
		config.CircuitBreakerThreshold = 5
	}
	if config.CircuitBreakerTimeout == 0 {
		config.CircuitBreakerTimeout = 60 * time.Second
	}

	c := &HTTPChannel{
		channel:   config.Channel,
		providers: make([]*provider, 0, len(config.Providers)),
		config:    config,
	}

	for _, pc := range config.Providers {
		c.providers = append(c.providers, &provider{
			name:   pc.Name,
			url:    pc.URL,
			weight: pc.Weight,
			client: &fasthttp.Client{
				MaxConnsPerHost:     config.MaxConns,
				ReadTimeout:         config.Timeout,
				WriteTimeout:        config.Timeout,
				MaxIdleConnDuration: 60 * time.Second,
			},
		})
		logger.Info("Provider initialized", "channel", string(config.Channel), "name", pc.Name, "url", pc.URL, "weight", pc.Weight)
	}

	return c, nil
}

func (c *HTTPChannel) Name() model.Channel { return c.channel }

// selectProvider picks the highest-weight provider whose circuit is not
// open.
func (c *HTTPChannel) selectProvider() (*provider, error) {
	var best *provider
	for _, p := range c.providers {
		if !p.available() {
			continue
		}
		if best == nil || p.weight > best.weight {
			best = p
		}
	}
	if best == nil {
		return nil, ErrNoAvailableProviders
	}
	return best, nil
}

type providerSendResponse struct {
	ProviderRef string `json:"provider_ref"`
	Status      string `json:"status"`
	ErrorCode   string `json:"error_code,omitempty"`
	ErrorMsg    string `json:"error_message,omitempty"`
}

// Send performs one delivery attempt. Retries across attempts are the
// dispatcher's job; this call tries each available provider of the
// channel at most once.
func (c *HTTPChannel) Send(ctx context.Context, req *SendRequest) (*SendResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, Permanent(fmt.Errorf("marshal request: %w", err))
	}

	var lastErr error
	for range c.providers {
		p, err := c.selectProvider()
		if err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		resp, err := c.doRequest(ctx, p, body)
		if err == nil {
			p.consecutiveFails.Store(0)
			p.circuitOpenUntil.Store(0)
			return resp, nil
		}

		lastErr = err
		if Classify(err) == model.AttemptResultPermanentFailure {
			// The recipient or payload is bad; no provider will accept it.
			return nil, err
		}

		fails := p.consecutiveFails.Add(1)
		if fails >= int32(c.config.CircuitBreakerThreshold) {
			p.circuitOpenUntil.Store(time.Now().Add(c.config.CircuitBreakerTimeout).Unix())
			logger.Warn("Circuit breaker opened", "channel", string(c.channel), "provider", p.name, "consecutive_fails", fails)
		}
		logger.Warn("Provider send failed, trying next", "channel", string(c.channel), "provider", p.name, "error", err)
	}

	return nil, lastErr
}

func (c *HTTPChannel) doRequest(ctx context.Context, p *provider, body []byte) (*SendResponse, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(p.url + "/api/v1/send")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.config.Timeout)
	}

	if err := p.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", p.name, err)
	}

	statusCode := resp.StatusCode()
	switch {
	case statusCode == fasthttp.StatusOK || statusCode == fasthttp.StatusAccepted:
		// fall through to decode
	case statusCode >= 400 && statusCode < 500:
		return nil, Permanent(fmt.Errorf("provider %s rejected send: status=%d body=%s", p.name, statusCode, resp.Body()))
	default:
		return nil, fmt.Errorf("provider %s unexpected status: %d", p.name, statusCode)
	}

	var pr providerSendResponse
	if err := json.Unmarshal(resp.Body(), &pr); err != nil {
		return nil, fmt.Errorf("unmarshal provider response: %w", err)
	}
	if pr.Status == "REJECTED" {
		return nil, Permanent(fmt.Errorf("provider %s rejected send: %s %s", p.name, pr.ErrorCode, pr.ErrorMsg))
	}

	return &SendResponse{
		ProviderRef: pr.ProviderRef,
		Provider:    p.name,
		AcceptedAt:  time.Now(),
	}, nil
}
