package advance

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rushboard/rushboard/internal/platform/httpx"
)

// Handler exposes the sweep trigger for external schedulers.
type Handler struct {
	logger  *slog.Logger
	sweeper *Sweeper
	cycles  httpx.CurrentCycleSource
	clock   func() time.Time
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, sweeper *Sweeper, cycles httpx.CurrentCycleSource) *Handler {
	return &Handler{
		logger:  logger,
		sweeper: sweeper,
		cycles:  cycles,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// MountRoutes registers the unauthenticated sweep route.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/sweep", h.sweep)
}

func (h *Handler) sweep(w http.ResponseWriter, r *http.Request) {
	now := h.clock()
	cycleID, err := httpx.CycleID(r, h.cycles)
	if err != nil {
		if h.logger != nil {
			h.logger.Warn("sweep without cycle", slog.Any("error", err))
		}
		httpx.JSON(w, http.StatusOK, Report{
			CycleID: uuid.Nil,
			Now:     now,
			Errors:  []string{"resolve cycle: " + err.Error()},
		})
		return
	}
	httpx.JSON(w, http.StatusOK, h.sweeper.Sweep(r.Context(), cycleID, now))
}
