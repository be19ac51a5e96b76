package rounds

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/rushboard/rushboard/internal/auth"
	"github.com/rushboard/rushboard/internal/platform/httpx"
	"github.com/rushboard/rushboard/internal/rbac"
	"github.com/rushboard/rushboard/internal/shared"
)

// Handler exposes round and event endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	cycles   httpx.CurrentCycleSource
	validate *validator.Validate
	rbac     rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, cycles httpx.CurrentCycleSource, rbac rbac.Middleware) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		cycles:   cycles,
		validate: validator.New(),
		rbac:     rbac,
	}
}

// MountRoutes registers round and event routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermRoundsView))
		r.Get("/rounds", h.listRounds)
		r.Get("/rounds/current", h.currentRound)
		r.Get("/rounds/{id}", h.showRound)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermRoundsOverride))
		r.Post("/rounds/{id}/override", h.override)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermEventsView))
		r.Get("/events", h.listEvents)
		r.Get("/events/{id}", h.showEvent)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermEventsManage))
		r.Post("/events", h.createEvent)
		r.Patch("/events/{id}", h.updateEvent)
		r.Delete("/events/{id}", h.deleteEvent)
	})
}

type overrideRequest struct {
	Action string `json:"action" validate:"required,oneof=open close"`
}

type createEventRequest struct {
	CycleID   *uuid.UUID `json:"cycleId"`
	Name      string     `json:"name" validate:"required,max=200"`
	StartsAt  time.Time  `json:"startsAt" validate:"required"`
	RoundType string     `json:"roundType" validate:"omitempty,oneof=standard delibs did_not_interact"`
}

type updateEventRequest struct {
	Name     *string    `json:"name" validate:"omitempty,min=1,max=200"`
	StartsAt *time.Time `json:"startsAt"`
}

func (h *Handler) listRounds(w http.ResponseWriter, r *http.Request) {
	cycleID, err := httpx.CycleID(r, h.cycles)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rounds, err := h.service.ListRounds(r.Context(), cycleID)
	if err != nil {
		h.fail(w, r, "list rounds", err)
		return
	}
	if rounds == nil {
		rounds = []Round{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"cycleId": cycleID, "rounds": rounds})
}

func (h *Handler) currentRound(w http.ResponseWriter, r *http.Request) {
	cycleID, err := httpx.CycleID(r, h.cycles)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	round, err := h.service.CurrentRound(r.Context(), cycleID)
	if err != nil {
		h.fail(w, r, "current round", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"cycleId": cycleID, "round": round})
}

func (h *Handler) showRound(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	round, err := h.service.GetRound(r.Context(), id)
	if err != nil {
		h.fail(w, r, "show round", err)
		return
	}
	httpx.JSON(w, http.StatusOK, round)
}

func (h *Handler) override(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req overrideRequest
	if err := httpx.DecodeAndValidate(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	round, err := h.service.Override(r.Context(), auth.PrincipalFromContext(r.Context()), id, Action(req.Action))
	if err != nil {
		h.fail(w, r, "override round", err)
		return
	}
	httpx.JSON(w, http.StatusOK, round)
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	cycleID, err := httpx.CycleID(r, h.cycles)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	events, err := h.service.ListEvents(r.Context(), cycleID)
	if err != nil {
		h.fail(w, r, "list events", err)
		return
	}
	if events == nil {
		events = []Event{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"cycleId": cycleID, "events": events})
}

func (h *Handler) showEvent(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ev, err := h.service.GetEvent(r.Context(), id)
	if err != nil {
		h.fail(w, r, "show event", err)
		return
	}
	httpx.JSON(w, http.StatusOK, ev)
}

func (h *Handler) createEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := httpx.DecodeAndValidate(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if req.RoundType == "" {
		req.RoundType = string(RoundTypeStandard)
	}
	var cycleID uuid.UUID
	if req.CycleID != nil {
		cycleID = *req.CycleID
	} else {
		current, err := httpx.CycleID(r, h.cycles)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		cycleID = current
	}
	ev, err := h.service.CreateEvent(r.Context(), auth.PrincipalFromContext(r.Context()), CreateEventInput{
		CycleID:   cycleID,
		Name:      req.Name,
		StartsAt:  req.StartsAt,
		RoundType: RoundType(req.RoundType),
	})
	if err != nil {
		h.fail(w, r, "create event", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ev)
}

func (h *Handler) updateEvent(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req updateEventRequest
	if err := httpx.DecodeAndValidate(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	ev, err := h.service.UpdateEvent(r.Context(), auth.PrincipalFromContext(r.Context()), id, UpdateEventInput{
		Name:     req.Name,
		StartsAt: req.StartsAt,
	})
	if err != nil {
		h.fail(w, r, "update event", err)
		return
	}
	httpx.JSON(w, http.StatusOK, ev)
}

func (h *Handler) deleteEvent(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLUUID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteEvent(r.Context(), auth.PrincipalFromContext(r.Context()), id); err != nil {
		h.fail(w, r, "delete event", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if shared.Kind(err) == "internal" && h.logger != nil {
		h.logger.Error(op, slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
