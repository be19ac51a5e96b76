package votes

import (
	"errors"
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

// Handler exposes vote and tally endpoints.
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

// MountRoutes registers vote routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermVotesCast))
		r.Post("/delibs/vote", h.delibsVote)
		r.Post("/votes/standard", h.standardVote)
		r.Post("/votes/interactions", h.interaction)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermVotesStats))
		r.Get("/delibs/stats", h.delibsStats)
		r.Get("/votes/standard/stats", h.standardStats)
		r.Get("/votes/interactions/stats", h.interactionStats)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermVotesClear))
		r.Post("/delibs/clear-results", h.clearResults)
	})
}

type delibsVoteRequest struct {
	PNMID    uuid.UUID `json:"pnmId" validate:"required"`
	RoundID  uuid.UUID `json:"roundId" validate:"required"`
	Decision *bool     `json:"decision" validate:"required"`
}

type standardVoteRequest struct {
	PNMID   uuid.UUID `json:"pnmId" validate:"required"`
	RoundID uuid.UUID `json:"roundId" validate:"required"`
	Score   int       `json:"score" validate:"required,min=1,max=5"`
}

type interactionRequest struct {
	PNMID      uuid.UUID `json:"pnmId" validate:"required"`
	RoundID    uuid.UUID `json:"roundId" validate:"required"`
	Interacted *bool     `json:"interacted" validate:"required"`
}

type clearRequest struct {
	PNMID   uuid.UUID `json:"pnmId" validate:"required"`
	RoundID uuid.UUID `json:"roundId" validate:"required"`
}

func (h *Handler) delibsVote(w http.ResponseWriter, r *http.Request) {
	var req delibsVoteRequest
	if err := httpx.DecodeAndValidate(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	vote, err := h.service.SubmitDelibsVote(r.Context(), auth.PrincipalFromContext(r.Context()), DelibsVoteInput{
		PNMID: req.PNMID, RoundID: req.RoundID, Decision: *req.Decision,
	})
	if err != nil {
		h.fail(w, r, "delibs vote", err)
		return
	}
	httpx.JSON(w, http.StatusOK, vote)
}

func (h *Handler) standardVote(w http.ResponseWriter, r *http.Request) {
	var req standardVoteRequest
	if err := httpx.DecodeAndValidate(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	vote, err := h.service.SubmitStandardVote(r.Context(), auth.PrincipalFromContext(r.Context()), StandardVoteInput{
		PNMID: req.PNMID, RoundID: req.RoundID, Score: req.Score,
	})
	if err != nil {
		h.fail(w, r, "standard vote", err)
		return
	}
	httpx.JSON(w, http.StatusOK, vote)
}

func (h *Handler) interaction(w http.ResponseWriter, r *http.Request) {
	var req interactionRequest
	if err := httpx.DecodeAndValidate(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	answer, err := h.service.SubmitInteraction(r.Context(), auth.PrincipalFromContext(r.Context()), InteractionInput{
		PNMID: req.PNMID, RoundID: req.RoundID, Interacted: *req.Interacted,
	})
	if err != nil {
		h.fail(w, r, "interaction", err)
		return
	}
	httpx.JSON(w, http.StatusOK, answer)
}

func tallyParams(r *http.Request) (uuid.UUID, uuid.UUID, error) {
	pnmID, err := httpx.QueryUUID(r, "pnmId")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	roundID, err := httpx.QueryUUID(r, "roundId")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return pnmID, roundID, nil
}

func (h *Handler) delibsStats(w http.ResponseWriter, r *http.Request) {
	pnmID, roundID, err := tallyParams(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	tally, err := h.service.DelibsTally(r.Context(), auth.PrincipalFromContext(r.Context()), pnmID, roundID)
	if err != nil {
		h.fail(w, r, "delibs stats", err)
		return
	}
	httpx.JSON(w, http.StatusOK, tally)
}

func (h *Handler) standardStats(w http.ResponseWriter, r *http.Request) {
	pnmID, roundID, err := tallyParams(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	tally, err := h.service.StandardTally(r.Context(), auth.PrincipalFromContext(r.Context()), pnmID, roundID)
	if err != nil {
		h.fail(w, r, "standard stats", err)
		return
	}
	httpx.JSON(w, http.StatusOK, tally)
}

func (h *Handler) interactionStats(w http.ResponseWriter, r *http.Request) {
	pnmID, roundID, err := tallyParams(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	tally, err := h.service.InteractionTally(r.Context(), auth.PrincipalFromContext(r.Context()), pnmID, roundID)
	if err != nil {
		h.fail(w, r, "interaction stats", err)
		return
	}
	httpx.JSON(w, http.StatusOK, tally)
}

func (h *Handler) clearResults(w http.ResponseWriter, r *http.Request) {
	var req clearRequest
	if err := httpx.DecodeAndValidate(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	deleted, err := h.service.ClearDelibsVotes(r.Context(), auth.PrincipalFromContext(r.Context()), req.PNMID, req.RoundID)
	if err != nil {
		h.fail(w, r, "clear delibs votes", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"pnmId": req.PNMID, "roundId": req.RoundID, "deleted": deleted})
}

// fail answers a closed voting window with 403 rather than the generic invalid-state 409.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, ErrVotingClosed) {
		httpx.Problem(w, http.StatusForbidden, shared.Kind(err), "Voting Closed", err.Error())
		return
	}
	if shared.Kind(err) == "internal" && h.logger != nil {
		h.logger.Error(op, slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
