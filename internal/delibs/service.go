package delibs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rushboard/rushboard/internal/auth"
	"github.com/rushboard/rushboard/internal/realtime"
	"github.com/rushboard/rushboard/internal/rounds"
	"github.com/rushboard/rushboard/internal/shared"
)

// Service applies admin control of the live deliberation.
type Service struct {
	repo      Repository
	publisher realtime.Publisher
	audit     shared.AuditRecorder
	logger    *slog.Logger
}

// NewService creates a new service.
func NewService(repo Repository, publisher realtime.Publisher, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if publisher == nil {
		publisher = realtime.Discard{}
	}
	if audit == nil {
		audit = shared.NopAudit{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, publisher: publisher, audit: audit, logger: logger}
}

// UpdateControl applies a partial update to the open delibs round.
func (s *Service) UpdateControl(ctx context.Context, actor *auth.Principal, patch ControlPatch) (State, error) {
	if err := auth.RequireAdmin(actor); err != nil {
		return State{}, err
	}
	if err := patch.Validate(); err != nil {
		return State{}, err
	}

	var updated State
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockState(ctx, patch.RoundID)
		if err != nil {
			return err
		}
		if current.Type != rounds.RoundTypeDelibs {
			return ErrNotDelibsRound
		}
		if current.Status != rounds.RoundStatusOpen {
			return ErrRoundNotOpen
		}
		updated, err = tx.ApplyControl(ctx, patch)
		return err
	})
	if err != nil {
		return State{}, fmt.Errorf("delibs: update control: %w", err)
	}

	fields := patch.Fields()
	ev := realtime.NewEvent(realtime.ChannelRounds, realtime.EventDelibsUpdate, map[string]any{
		"roundId":         updated.RoundID.String(),
		"changed":         fields,
		"currentPnmId":    updated.CurrentPNMID,
		"votingOpen":      updated.VotingOpen,
		"resultsRevealed": updated.ResultsRevealed,
		"sealedPnmIds":    updated.SealedPNMIDs,
	})
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("publish delibs update", slog.String("round_id", updated.RoundID.String()), slog.Any("error", err))
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.String(),
		Action:   "delibs.control",
		Entity:   "round",
		EntityID: updated.RoundID.String(),
		Meta:     map[string]any{"fields": fields},
		At:       time.Now().UTC(),
	}); err != nil {
		s.logger.Warn("record audit log", slog.String("action", "delibs.control"), slog.Any("error", err))
	}
	return updated, nil
}

// State returns the live control state so clients can re-sync after a missed broadcast.
func (s *Service) State(ctx context.Context, roundID uuid.UUID) (State, error) {
	return s.repo.GetState(ctx, roundID)
}
