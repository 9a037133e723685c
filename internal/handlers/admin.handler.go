package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bookline/reminder-engine/internal/model"
	"github.com/bookline/reminder-engine/internal/services"
	xhttp "github.com/bookline/reminder-engine/pkg/http"
	"github.com/fasthttp/router"
)

type AdminService interface {
	TenantUsage(ctx context.Context, tenantID int64) (*services.TenantUsageView, error)
	ListSchedules(ctx context.Context, f model.ScheduleFilter) ([]*model.ReminderSchedule, int64, error)
	GetSchedule(ctx context.Context, id int64) (*model.ReminderSchedule, []*model.ReminderAttempt, error)
	ListDeadLetter(ctx context.Context, f model.DeadLetterFilter) ([]*model.ReminderAttempt, int64, error)
	CloseCycle(ctx context.Context, cycleID int64) (*model.InvoiceAdjustment, error)
	PublishEvent(ctx context.Context, event *model.AppointmentEvent) (string, error)
	RecordProviderStatus(ctx context.Context, providerRef, status string) error
}

type AdminHandler struct {
	svc AdminService
}

func RegisterAdminRoutes(e *router.Group, h *AdminHandler) {
	e.GET("/tenants/{id}/usage", h.GetTenantUsage)
	e.GET("/schedules", h.ListSchedules)
	e.GET("/schedules/{id}", h.GetSchedule)
	e.GET("/dead-letter", h.ListDeadLetter)
	e.POST("/cycles/close", h.CloseCycle)
	e.POST("/appointments/events", h.PublishEvent)
	e.POST("/attempts/status", h.RecordProviderStatus)
}

func NewAdminHandler(svc AdminService) *AdminHandler {
	return &AdminHandler{svc: svc}
}

type scheduleListResponse struct {
	Items []*model.ReminderSchedule `json:"items"`
	Total int64                     `json:"total"`
}

type scheduleDetailResponse struct {
	Schedule *model.ReminderSchedule  `json:"schedule"`
	Attempts []*model.ReminderAttempt `json:"attempts"`
}

type deadLetterResponse struct {
	Items []*model.ReminderAttempt `json:"items"`
	Total int64                    `json:"total"`
}

type closeCycleRequest struct {
	CycleID int64 `json:"cycle_id"`
}

type providerStatusRequest struct {
	ProviderRef string `json:"provider_ref"`
	Status      string `json:"status"`
}

type publishEventResponse struct {
	MessageID string `json:"message_id"`
}

/* --------------------------------- Routes ----------------------------------- */

func (h *AdminHandler) GetTenantUsage(ctx *xhttp.RequestCtx) {
	id, err := routeInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid tenant id")
		return
	}

	view, err := h.svc.TenantUsage(ctx, id)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			writeError(ctx, 404, "tenant not found")
			return
		}
		writeError(ctx, 500, err.Error())
		return
	}
	writeJSON(ctx, 200, view)
}

func (h *AdminHandler) ListSchedules(ctx *xhttp.RequestCtx) {
	var f model.ScheduleFilter

	if v := query(ctx, "tenant_id"); v != "" {
		if id, e := strconv.ParseInt(v, 10, 64); e == nil {
			f.TenantID = &id
		}
	}
	if v := query(ctx, "appointment_id"); v != "" {
		f.AppointmentID = &v
	}
	if v := query(ctx, "status"); v != "" {
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
			if parts[i] != "" {
				f.Statuses = append(f.Statuses, model.ScheduleStatus(parts[i]))
			}
		}
	}
	if v := query(ctx, "from"); v != "" {
		if t, e := parseTime(v); e == nil {
			f.From = &t
		}
	}
	if v := query(ctx, "to"); v != "" {
		if t, e := parseTime(v); e == nil {
			f.To = &t
		}
	}
	if v := query(ctx, "limit"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Limit = n
		}
	}
	if v := query(ctx, "offset"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Offset = n
		}
	}
	if strings.EqualFold(query(ctx, "order"), "desc") {
		f.Desc = true
	}

	items, total, err := h.svc.ListSchedules(ctx, f)
	if err != nil {
		writeError(ctx, 400, err.Error())
		return
	}
	writeJSON(ctx, 200, scheduleListResponse{Items: items, Total: total})
}

func (h *AdminHandler) GetSchedule(ctx *xhttp.RequestCtx) {
	id, err := routeInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid schedule id")
		return
	}

	schedule, attempts, err := h.svc.GetSchedule(ctx, id)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			writeError(ctx, 404, "schedule not found")
			return
		}
		writeError(ctx, 500, err.Error())
		return
	}
	writeJSON(ctx, 200, scheduleDetailResponse{Schedule: schedule, Attempts: attempts})
}

func (h *AdminHandler) ListDeadLetter(ctx *xhttp.RequestCtx) {
	var f model.DeadLetterFilter

	if v := query(ctx, "tenant_id"); v != "" {
		if id, e := strconv.ParseInt(v, 10, 64); e == nil {
			f.TenantID = &id
		}
	}
	if v := query(ctx, "channel"); v != "" {
		c := model.Channel(v)
		if c.Valid() {
			f.Channel = &c
		}
	}
	if v := query(ctx, "from"); v != "" {
		if t, e := parseTime(v); e == nil {
			f.From = &t
		}
	}
	if v := query(ctx, "to"); v != "" {
		if t, e := parseTime(v); e == nil {
			f.To = &t
		}
	}
	if v := query(ctx, "limit"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Limit = n
		}
	}
	if v := query(ctx, "offset"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Offset = n
		}
	}
	if strings.EqualFold(query(ctx, "order"), "desc") {
		f.Desc = true
	}

	items, total, err := h.svc.ListDeadLetter(ctx, f)
	if err != nil {
		writeError(ctx, 400, err.Error())
		return
	}
	writeJSON(ctx, 200, deadLetterResponse{Items: items, Total: total})
}

func (h *AdminHandler) CloseCycle(ctx *xhttp.RequestCtx) {
	var req closeCycleRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	if req.CycleID == 0 {
		writeError(ctx, 400, "cycle_id is required")
		return
	}

	adjustment, err := h.svc.CloseCycle(ctx, req.CycleID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			writeError(ctx, 404, "cycle not found")
			return
		}
		if errors.Is(err, services.ErrCycleStillOpen) {
			writeError(ctx, 409, "cycle has not ended yet")
			return
		}
		writeError(ctx, 500, err.Error())
		return
	}
	writeJSON(ctx, 200, adjustment)
}

func (h *AdminHandler) PublishEvent(ctx *xhttp.RequestCtx) {
	var event model.AppointmentEvent
	if err := readJSON(ctx, &event); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	messageID, err := h.svc.PublishEvent(ctx, &event)
	if err != nil {
		if errors.Is(err, services.ErrInvalidEvent) {
			writeError(ctx, 400, err.Error())
			return
		}
		writeError(ctx, 500, err.Error())
		return
	}
	writeJSON(ctx, 202, publishEventResponse{MessageID: messageID})
}

func (h *AdminHandler) RecordProviderStatus(ctx *xhttp.RequestCtx) {
	var req providerStatusRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	if err := h.svc.RecordProviderStatus(ctx, req.ProviderRef, req.Status); err != nil {
		if errors.Is(err, services.ErrNotFound) {
			writeError(ctx, 404, "attempt not found")
			return
		}
		writeError(ctx, 400, err.Error())
		return
	}
	ctx.Response.SetStatusCode(204)
}

/* --------------------------------- Helpers ----------------------------------- */

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	body := ctx.PostBody()
	return json.Unmarshal(body, dst)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, _ := json.Marshal(v)
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func writeError(ctx *xhttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, map[string]string{"error": msg})
}

func routeInt64(ctx *xhttp.RequestCtx, name string) (int64, error) {
	v, _ := ctx.UserValue(name).(string)
	return strconv.ParseInt(v, 10, 64)
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}

func parseTime(s string) (time.Time, error) {
	// Accept RFC3339 or YYYY-MM-DD
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
