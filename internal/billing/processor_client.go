package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bookline/reminder-engine/internal/model"
	"github.com/valyala/fasthttp"
)

// ProcessorClientConfig configures the HTTP client for the external
// billing processor.
type ProcessorClientConfig struct {
	URL      string
	Timeout  time.Duration
	MaxConns int
}

// ProcessorClient submits invoice adjustments over HTTP. The cycle id
// rides along as the idempotency key, so the processor deduplicates
// resubmissions after a timeout or crash.
type ProcessorClient struct {
	config ProcessorClientConfig
	client *fasthttp.Client
}

func NewProcessorClient(config ProcessorClientConfig) (*ProcessorClient, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("billing processor url is required")
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	return &ProcessorClient{
		config: config,
		client: &fasthttp.Client{
			MaxConnsPerHost:     config.MaxConns,
			ReadTimeout:         config.Timeout,
			WriteTimeout:        config.Timeout,
			MaxIdleConnDuration: 60 * time.Second,
		},
	}, nil
}

type adjustmentRequest struct {
	IdempotencyKey string                 `json:"idempotency_key"`
	TenantID       int64                  `json:"tenant_id"`
	TotalCents     int64                  `json:"total_cents"`
	LineItems      []model.AdjustmentLine `json:"line_items"`
}

type adjustmentResponse struct {
	ConfirmationID string `json:"confirmation_id"`
	Status         string `json:"status"`
	ErrorMsg       string `json:"error_message,omitempty"`
}

func (c *ProcessorClient) SubmitAdjustment(ctx context.Context, adjustment *model.InvoiceAdjustment) (string, error) {
	body, err := json.Marshal(adjustmentRequest{
		IdempotencyKey: fmt.Sprintf("cycle-%d", adjustment.CycleID),
		TenantID:       adjustment.TenantID,
		TotalCents:     adjustment.TotalCents,
		LineItems:      adjustment.LineItems,
	})
	if err != nil {
		return "", fmt.Errorf("marshal adjustment: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.config.URL + "/api/v1/invoice-adjustments")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.config.Timeout)
	}

	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
		return "", fmt.Errorf("billing processor request failed: %w", err)
	}

	statusCode := resp.StatusCode()
	if statusCode != fasthttp.StatusOK && statusCode != fasthttp.StatusCreated {
		return "", fmt.Errorf("billing processor status %d: %s", statusCode, resp.Body())
	}

	var ar adjustmentResponse
	if err := json.Unmarshal(resp.Body(), &ar); err != nil {
		return "", fmt.Errorf("unmarshal processor response: %w", err)
	}
	if ar.ConfirmationID == "" {
		return "", fmt.Errorf("billing processor returned no confirmation: %s", ar.ErrorMsg)
	}

	return ar.ConfirmationID, nil
}
