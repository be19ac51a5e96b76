package audit

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rushboard/rushboard/internal/auth"
	"github.com/rushboard/rushboard/internal/platform/httpx"
	"github.com/rushboard/rushboard/internal/rbac"
	"github.com/rushboard/rushboard/internal/shared"
)

// Handler exposes the audit timeline.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers audit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAll(shared.PermAuditView)).Get("/audit", h.timeline)
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Timeline(r.Context(), auth.PrincipalFromContext(r.Context()), filters)
	if err != nil {
		if shared.Kind(err) == "internal" && h.logger != nil {
			h.logger.Error("audit timeline", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func parseFilters(r *http.Request) (TimelineFilters, error) {
	q := r.URL.Query()
	filters := TimelineFilters{
		Actor:    q.Get("actor"),
		Entity:   q.Get("entity"),
		EntityID: q.Get("entityId"),
		Action:   q.Get("action"),
	}
	var err error
	if filters.From, err = parseTime(q.Get("from"), "from"); err != nil {
		return TimelineFilters{}, err
	}
	if filters.To, err = parseTime(q.Get("to"), "to"); err != nil {
		return TimelineFilters{}, err
	}
	if filters.Page, err = parseInt(q.Get("page"), "page"); err != nil {
		return TimelineFilters{}, err
	}
	if filters.PageSize, err = parseInt(q.Get("pageSize"), "pageSize"); err != nil {
		return TimelineFilters{}, err
	}
	return filters, nil
}

func parseTime(raw, name string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be RFC3339: %w", name, shared.ErrValidation)
	}
	return t, nil
}

func parseInt(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", name, shared.ErrValidation)
	}
	return n, nil
}
