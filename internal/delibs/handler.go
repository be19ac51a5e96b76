package delibs

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rushboard/rushboard/internal/auth"
	"github.com/rushboard/rushboard/internal/platform/httpx"
	"github.com/rushboard/rushboard/internal/rbac"
	"github.com/rushboard/rushboard/internal/shared"
)

// Handler exposes delibs control endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers delibs control routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermRoundsView))
		r.Get("/delibs/state", h.state)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermDelibsControl))
		r.Patch("/delibs/control", h.control)
	})
}

// controlRequest keeps currentPnmId and sealedResults raw so an explicit null
// can be told apart from an absent field.
type controlRequest struct {
	RoundID         uuid.UUID       `json:"roundId"`
	CurrentPNMID    json.RawMessage `json:"currentPnmId"`
	VotingOpen      *bool           `json:"votingOpen"`
	ResultsRevealed *bool           `json:"resultsRevealed"`
	SealedPNMIDs    *[]uuid.UUID    `json:"sealedPnmIds"`
	SealedResults   json.RawMessage `json:"sealedResults"`
}

func (req controlRequest) patch() (ControlPatch, error) {
	p := ControlPatch{
		RoundID:         req.RoundID,
		VotingOpen:      req.VotingOpen,
		ResultsRevealed: req.ResultsRevealed,
		SealedPNMIDs:    req.SealedPNMIDs,
		SealedResults:   req.SealedResults,
	}
	if len(req.CurrentPNMID) > 0 {
		if isNull(req.CurrentPNMID) {
			p.ClearCurrentPNM = true
		} else {
			var id uuid.UUID
			if err := json.Unmarshal(req.CurrentPNMID, &id); err != nil {
				return ControlPatch{}, fmt.Errorf("delibs: currentPnmId is not a valid id: %w", shared.ErrValidation)
			}
			p.CurrentPNMID = &id
		}
	}
	return p, nil
}

func (h *Handler) control(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	patch, err := req.patch()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	st, err := h.service.UpdateControl(r.Context(), auth.PrincipalFromContext(r.Context()), patch)
	if err != nil {
		if shared.Kind(err) == "internal" && h.logger != nil {
			h.logger.Error("delibs control", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) state(w http.ResponseWriter, r *http.Request) {
	roundID, err := httpx.QueryUUID(r, "roundId")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	st, err := h.service.State(r.Context(), roundID)
	if err != nil {
		if shared.Kind(err) == "internal" && h.logger != nil {
			h.logger.Error("delibs state", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}
