package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SendStatus represents the outcome of a simulated delivery.
type SendStatus string

const (
	StatusAccepted SendStatus = "ACCEPTED"
	StatusRejected SendStatus = "REJECTED"
	StatusFailed   SendStatus = "FAILED"
)

// SendRequest mirrors the delivery attempt payload the engine posts.
type SendRequest struct {
	ScheduleID int64  `json:"schedule_id" binding:"required"`
	TenantID   int64  `json:"tenant_id"`
	Recipient  string `json:"recipient" binding:"required"`
	Subject    string `json:"subject"`
	Body       string `json:"body" binding:"required"`
}

// SendResponse represents the provider acknowledgement.
type SendResponse struct {
	ProviderRef string     `json:"provider_ref"`
	Status      SendStatus `json:"status"`
	ErrorCode   string     `json:"error_code,omitempty"`
	ErrorMsg    string     `json:"error_message,omitempty"`
	ProviderID  string     `json:"provider_id"`
	ProcessedAt time.Time  `json:"processed_at"`
}

// AdjustmentRequest mirrors the billing reconciler submission.
type AdjustmentRequest struct {
	IdempotencyKey string `json:"idempotency_key" binding:"required"`
	TenantID       int64  `json:"tenant_id"`
	TotalCents     int64  `json:"total_cents"`
	LineItems      []struct {
		Channel        string `json:"channel"`
		UsageCount     int64  `json:"usage_count"`
		IncludedCount  int64  `json:"included_count"`
		OverageUnits   int64  `json:"overage_units"`
		UnitPriceCents int64  `json:"unit_price_cents"`
		AmountCents    int64  `json:"amount_cents"`
	} `json:"line_items"`
}

// AdjustmentResponse represents the processor confirmation.
type AdjustmentResponse struct {
	ConfirmationID string `json:"confirmation_id"`
	Status         string `json:"status"`
	ErrorMsg       string `json:"error_message,omitempty"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status      string    `json:"status"`
	ProviderID  string    `json:"provider_id"`
	Timestamp   time.Time `json:"timestamp"`
	AcceptRate  float64   `json:"accept_rate"`
	RejectShare float64   `json:"reject_share"`
}

// MockProvider simulates a delivery provider and a billing processor
// behind one process, so a single container covers local runs.
type MockProvider struct {
	acceptRate float64
	// share of failures that are permanent rejections rather than
	// transient faults
	rejectShare float64
	minDelay    time.Duration
	maxDelay    time.Duration
	providerID  string
	rng         *rand.Rand

	mu            sync.Mutex
	confirmations map[string]string // idempotency key -> confirmation id
}

func NewMockProvider(acceptRate, rejectShare float64, minDelay, maxDelay time.Duration) *MockProvider {
	return &MockProvider{
		acceptRate:    acceptRate,
		rejectShare:   rejectShare,
		minDelay:      minDelay,
		maxDelay:      maxDelay,
		providerID:    "MOCK_PROVIDER_" + uuid.New().String()[:8],
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
		confirmations: make(map[string]string),
	}
}

// simulateSend simulates one delivery attempt.
func (m *MockProvider) simulateSend(req *SendRequest) *SendResponse {
	time.Sleep(m.randomDelay())

	response := &SendResponse{
		ProviderID:  m.providerID,
		ProcessedAt: time.Now(),
	}

	if m.rng.Float64() < m.acceptRate {
		response.Status = StatusAccepted
		response.ProviderRef = uuid.New().String()

		log.Info().
			Int64("schedule_id", req.ScheduleID).
			Str("recipient", req.Recipient).
			Str("provider_ref", response.ProviderRef).
			Msg("Reminder accepted")
		return response
	}

	if m.rng.Float64() < m.rejectShare {
		response.Status = StatusRejected
		response.ErrorCode = "INVALID_RECIPIENT"
		response.ErrorMsg = "The recipient address is invalid or not in service"
	} else {
		response.Status = StatusFailed
		response.ErrorCode = m.randomTransientCode()
		response.ErrorMsg = m.errorMessage(response.ErrorCode)
	}

	log.Warn().
		Int64("schedule_id", req.ScheduleID).
		Str("recipient", req.Recipient).
		Str("error_code", response.ErrorCode).
		Msg("Reminder delivery failed")

	return response
}

// confirmAdjustment returns the same confirmation id for a repeated
// idempotency key, matching real processor dedup behavior.
func (m *MockProvider) confirmAdjustment(req *AdjustmentRequest) *AdjustmentResponse {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.confirmations[req.IdempotencyKey]; ok {
		log.Info().
			Str("idempotency_key", req.IdempotencyKey).
			Str("confirmation_id", id).
			Msg("Duplicate adjustment, returning prior confirmation")
		return &AdjustmentResponse{ConfirmationID: id, Status: "DUPLICATE"}
	}

	id := "ADJ-" + uuid.New().String()[:12]
	m.confirmations[req.IdempotencyKey] = id

	log.Info().
		Str("idempotency_key", req.IdempotencyKey).
		Int64("tenant_id", req.TenantID).
		Int64("total_cents", req.TotalCents).
		Str("confirmation_id", id).
		Msg("Adjustment confirmed")

	return &AdjustmentResponse{ConfirmationID: id, Status: "CONFIRMED"}
}

func (m *MockProvider) randomDelay() time.Duration {
	delta := m.maxDelay - m.minDelay
	if delta <= 0 {
		return m.minDelay
	}
	return m.minDelay + time.Duration(m.rng.Int63n(int64(delta)))
}

func (m *MockProvider) randomTransientCode() string {
	errorCodes := []string{
		"NETWORK_ERROR",
		"TIMEOUT",
		"PROVIDER_BUSY",
		"RATE_LIMITED",
	}
	return errorCodes[m.rng.Intn(len(errorCodes))]
}

func (m *MockProvider) errorMessage(code string) string {
	messages := map[string]string{
		"NETWORK_ERROR": "Network connectivity issue with downstream carrier",
		"TIMEOUT":       "Delivery attempt timed out",
		"PROVIDER_BUSY": "Provider is overloaded, retry later",
		"RATE_LIMITED":  "Too many requests, slow down",
	}

	if msg, ok := messages[code]; ok {
		return msg
	}
	return "Unknown error occurred"
}

// Handler struct holds the mock provider and routes
type Handler struct {
	provider *MockProvider
}

func NewHandler(provider *MockProvider) *Handler {
	return &Handler{provider: provider}
}

// Send handles delivery attempt requests
func (h *Handler) Send(c *gin.Context) {
	var req SendRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	response := h.provider.simulateSend(&req)

	switch response.Status {
	case StatusRejected:
		// permanent: the engine must not retry
		c.JSON(http.StatusUnprocessableEntity, response)
	case StatusFailed:
		c.JSON(http.StatusServiceUnavailable, response)
	default:
		c.JSON(http.StatusOK, response)
	}
}

// SubmitAdjustment handles invoice adjustment submissions
func (h *Handler) SubmitAdjustment(c *gin.Context) {
	var req AdjustmentRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, h.provider.confirmAdjustment(&req))
}

// HealthCheck handles health check requests
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:      "healthy",
		ProviderID:  h.provider.providerID,
		Timestamp:   time.Now(),
		AcceptRate:  h.provider.acceptRate,
		RejectShare: h.provider.rejectShare,
	})
}

// UpdateConfig allows changing provider behavior at runtime
func (h *Handler) UpdateConfig(c *gin.Context) {
	var config struct {
		AcceptRate  *float64 `json:"accept_rate"`
		RejectShare *float64 `json:"reject_share"`
	}

	if err := c.ShouldBindJSON(&config); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	if config.AcceptRate != nil && *config.AcceptRate >= 0 && *config.AcceptRate <= 1.0 {
		h.provider.acceptRate = *config.AcceptRate
		log.Info().Float64("rate", *config.AcceptRate).Msg("Updated accept rate")
	}
	if config.RejectShare != nil && *config.RejectShare >= 0 && *config.RejectShare <= 1.0 {
		h.provider.rejectShare = *config.RejectShare
		log.Info().Float64("share", *config.RejectShare).Msg("Updated reject share")
	}

	c.JSON(http.StatusOK, gin.H{
		"accept_rate":  h.provider.acceptRate,
		"reject_share": h.provider.rejectShare,
	})
}

// SetupRouter configures all routes
func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.Default()

	// Add request logging middleware
	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", duration).
			Msg("Request processed")
	})

	// API routes
	v1 := router.Group("/api/v1")
	{
		v1.POST("/send", handler.Send)
		v1.POST("/invoice-adjustments", handler.SubmitAdjustment)
		v1.GET("/health", handler.HealthCheck)
		v1.PUT("/config", handler.UpdateConfig)
	}

	// Root health check
	router.GET("/health", handler.HealthCheck)

	return router
}

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Get configuration from environment
	port := getEnv("PORT", "8081")
	acceptRate := getEnvFloat("ACCEPT_RATE", 1)
	rejectShare := getEnvFloat("REJECT_SHARE", 0.2)
	minDelay := getEnvDuration("MIN_DELAY", 50*time.Millisecond)
	maxDelay := getEnvDuration("MAX_DELAY", 500*time.Millisecond)

	log.Info().
		Str("port", port).
		Float64("accept_rate", acceptRate).
		Float64("reject_share", rejectShare).
		Dur("min_delay", minDelay).
		Dur("max_delay", maxDelay).
		Msg("Starting mock reminder provider")

	// Create mock provider
	provider := NewMockProvider(acceptRate, rejectShare, minDelay, maxDelay)
	handler := NewHandler(provider)
	router := SetupRouter(handler)

	// Setup HTTP server
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
