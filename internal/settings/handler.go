package settings

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/rushboard/rushboard/internal/auth"
	"github.com/rushboard/rushboard/internal/platform/httpx"
	"github.com/rushboard/rushboard/internal/rbac"
	"github.com/rushboard/rushboard/internal/shared"
)

// Handler exposes settings endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	rbac     rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New(), rbac: rbac}
}

// MountRoutes registers settings routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/settings", func(r chi.Router) {
		r.With(h.rbac.RequireAny(shared.PermSettingsView)).Get("/", h.get)
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAll(shared.PermSettingsManage))
			r.Put("/current-cycle", h.setCurrentCycle)
			r.Put("/publish", h.setPublished)
		})
	})
}

type currentCycleRequest struct {
	CycleID *uuid.UUID `json:"cycleId"`
}

type publishRequest struct {
	Key   string `json:"key" validate:"required,oneof=stats_published dni_stats_published"`
	Value *bool  `json:"value" validate:"required"`
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.Snapshot(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) setCurrentCycle(w http.ResponseWriter, r *http.Request) {
	var req currentCycleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	snap, err := h.service.SetCurrentCycle(r.Context(), auth.PrincipalFromContext(r.Context()), req.CycleID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) setPublished(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := httpx.DecodeAndValidate(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	snap, err := h.service.SetPublished(r.Context(), auth.PrincipalFromContext(r.Context()), req.Key, *req.Value)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if shared.Kind(err) == "internal" && h.logger != nil {
		h.logger.Error("settings request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
