package rounds

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rushboard/rushboard/internal/auth"
	"github.com/rushboard/rushboard/internal/realtime"
	"github.com/rushboard/rushboard/internal/shared"
)

// Service owns the round state machine and event scheduling.
type Service struct {
	repo      Repository
	publisher realtime.Publisher
	audit     shared.AuditRecorder
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a new service. Nil collaborators fall back to no-ops.
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
	return &Service{repo: repo, publisher: publisher, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// OpenResult describes the outcome of an open attempt.
type OpenResult struct {
	// Round is the cycle's open round after the call. When the attempt lost a race
	// and nothing is open, it is the target round as currently stored.
	Round   Round
	Applied []Transition
}

// Open opens roundID and closes whichever round of the same cycle was open,
// as one transaction. It returns the cycle's open round after the call.
func (s *Service) Open(ctx context.Context, actor *auth.Principal, roundID uuid.UUID) (Round, error) {
	res, err := s.open(ctx, actor, roundID, nil, false, false)
	if err != nil {
		return Round{}, err
	}
	return res.Round, nil
}

// Advance opens a pending round on behalf of the scheduler. observedOpen is the open
// round the caller saw; if another transition has committed since, nothing is applied.
func (s *Service) Advance(ctx context.Context, roundID uuid.UUID, observedOpen *uuid.UUID) (OpenResult, error) {
	return s.open(ctx, auth.SystemPrincipal(), roundID, observedOpen, true, true)
}

// Close closes roundID. Closing a closed round succeeds without change.
func (s *Service) Close(ctx context.Context, actor *auth.Principal, roundID uuid.UUID) (Round, error) {
	if err := auth.RequireAdmin(actor); err != nil {
		return Round{}, err
	}
	target, err := s.repo.GetRound(ctx, roundID)
	if err != nil {
		return Round{}, err
	}

	now := s.now().UTC()
	var (
		result  Round
		applied []Transition
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		applied = nil
		// archived cycles may still close their leftover rounds
		if _, err := tx.LockCycle(ctx, target.CycleID); err != nil {
			return err
		}
		round, err := tx.GetRound(ctx, roundID)
		if err != nil {
			return err
		}
		if round.Status == RoundStatusClosed {
			result = round
			return nil
		}
		if err := tx.SetRoundStatus(ctx, round.ID, RoundStatusClosed, now); err != nil {
			return err
		}
		applied = append(applied, Transition{
			RoundID: round.ID, CycleID: round.CycleID, Action: ActionClose,
			From: round.Status, To: RoundStatusClosed, At: now,
		})
		round.Status = RoundStatusClosed
		round.ClosedAt = &now
		round.VotingOpen = false
		result = round
		return nil
	})
	if err != nil {
		return Round{}, fmt.Errorf("rounds: close round: %w", err)
	}
	s.announce(ctx, actor, applied)
	return result, nil
}

// Override applies an explicit admin transition. Opening a closed round re-opens it.
func (s *Service) Override(ctx context.Context, actor *auth.Principal, roundID uuid.UUID, action Action) (Round, error) {
	switch action {
	case ActionOpen:
		return s.Open(ctx, actor, roundID)
	case ActionClose:
		return s.Close(ctx, actor, roundID)
	default:
		return Round{}, ErrUnknownAction
	}
}

func (s *Service) open(ctx context.Context, actor *auth.Principal, roundID uuid.UUID, observed *uuid.UUID, observedKnown, requirePending bool) (OpenResult, error) {
	if err := auth.RequireAdmin(actor); err != nil {
		return OpenResult{}, err
	}
	target, err := s.repo.GetRound(ctx, roundID)
	if err != nil {
		return OpenResult{}, err
	}
	if !observedKnown {
		current, err := s.repo.CurrentOpenRound(ctx, target.CycleID)
		if err != nil {
			return OpenResult{}, fmt.Errorf("rounds: read open round: %w", err)
		}
		observed = idOf(current)
	}

	now := s.now().UTC()
	var result OpenResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		result = OpenResult{}
		status, err := tx.LockCycle(ctx, target.CycleID)
		if err != nil {
			return err
		}
		if status != "active" {
			return ErrCycleArchived
		}
		round, err := tx.GetRound(ctx, roundID)
		if err != nil {
			return err
		}
		current, err := tx.CurrentOpenRound(ctx, round.CycleID)
		if err != nil {
			return err
		}
		if current != nil && current.ID == round.ID {
			result.Round = *current
			return nil
		}
		// Someone else moved the cycle since the caller looked; their result stands.
		if !sameID(idOf(current), observed) || (requirePending && round.Status != RoundStatusPending) {
			result.Round = round
			if current != nil {
				result.Round = *current
			}
			return nil
		}

		if current != nil {
			if err := tx.SetRoundStatus(ctx, current.ID, RoundStatusClosed, now); err != nil {
				return err
			}
			result.Applied = append(result.Applied, Transition{
				RoundID: current.ID, CycleID: current.CycleID, Action: ActionClose,
				From: RoundStatusOpen, To: RoundStatusClosed, At: now,
			})
		}
		if err := tx.SetRoundStatus(ctx, round.ID, RoundStatusOpen, now); err != nil {
			return err
		}
		result.Applied = append(result.Applied, Transition{
			RoundID: round.ID, CycleID: round.CycleID, Action: ActionOpen,
			From: round.Status, To: RoundStatusOpen, At: now,
		})
		round.Status = RoundStatusOpen
		round.OpenedAt = &now
		round.ClosedAt = nil
		result.Round = round
		return nil
	})
	if err != nil {
		return OpenResult{}, fmt.Errorf("rounds: open round: %w", err)
	}
	s.announce(ctx, actor, result.Applied)
	return result, nil
}

// announce runs after commit. Failures are logged, never returned.
func (s *Service) announce(ctx context.Context, actor *auth.Principal, applied []Transition) {
	for _, t := range applied {
		ev := realtime.NewEvent(realtime.ChannelRounds, realtime.EventStatusChange, map[string]any{
			"roundId": t.RoundID.String(),
			"cycleId": t.CycleID.String(),
			"action":  string(t.Action),
			"status":  string(t.To),
		})
		ev.At = t.At
		if err := s.publisher.Publish(ctx, ev); err != nil {
			s.logger.Warn("publish round transition", slog.String("round_id", t.RoundID.String()), slog.Any("error", err))
		}
		s.record(ctx, actor, "round."+string(t.Action), "round", t.RoundID, map[string]any{
			"cycle_id": t.CycleID.String(),
			"from":     string(t.From),
			"to":       string(t.To),
		}, t.At)
	}
}

func (s *Service) record(ctx context.Context, actor *auth.Principal, action, entity string, id uuid.UUID, meta map[string]any, at time.Time) {
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.String(),
		Action:   action,
		Entity:   entity,
		EntityID: id.String(),
		Meta:     meta,
		At:       at,
	})
	if err != nil {
		s.logger.Warn("record audit log", slog.String("action", action), slog.Any("error", err))
	}
}

// GetRound returns a round by id.
func (s *Service) GetRound(ctx context.Context, id uuid.UUID) (Round, error) {
	return s.repo.GetRound(ctx, id)
}

// ListRounds returns the cycle's rounds in schedule order.
func (s *Service) ListRounds(ctx context.Context, cycleID uuid.UUID) ([]Round, error) {
	rounds, err := s.repo.ListRounds(ctx, cycleID)
	if err != nil {
		return nil, fmt.Errorf("rounds: list rounds: %w", err)
	}
	return rounds, nil
}

// CurrentRound returns the cycle's open round, or nil when none is open.
func (s *Service) CurrentRound(ctx context.Context, cycleID uuid.UUID) (*Round, error) {
	round, err := s.repo.CurrentOpenRound(ctx, cycleID)
	if err != nil {
		return nil, fmt.Errorf("rounds: current round: %w", err)
	}
	return round, nil
}

// ============================================================================
// EVENT OPERATIONS
// ============================================================================

// CreateEvent schedules an event and creates its pending round in the same transaction.
func (s *Service) CreateEvent(ctx context.Context, actor *auth.Principal, in CreateEventInput) (Event, error) {
	if err := auth.RequireAdmin(actor); err != nil {
		return Event{}, err
	}
	now := s.now().UTC()
	if err := in.Validate(now); err != nil {
		return Event{}, err
	}

	ev := Event{
		ID:          uuid.New(),
		CycleID:     in.CycleID,
		Name:        strings.TrimSpace(in.Name),
		StartsAt:    in.StartsAt.UTC(),
		CreatedAt:   now,
		RoundID:     uuid.New(),
		RoundType:   in.RoundType,
		RoundStatus: RoundStatusPending,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		status, err := tx.CycleStatus(ctx, ev.CycleID)
		if err != nil {
			return err
		}
		if status != "active" {
			return ErrCycleArchived
		}
		if err := tx.InsertEvent(ctx, ev); err != nil {
			return err
		}
		return tx.InsertRound(ctx, Round{
			ID:        ev.RoundID,
			EventID:   ev.ID,
			CycleID:   ev.CycleID,
			Type:      ev.RoundType,
			Status:    RoundStatusPending,
			CreatedAt: now,
		})
	})
	if err != nil {
		return Event{}, fmt.Errorf("rounds: create event: %w", err)
	}
	s.record(ctx, actor, "event.create", "event", ev.ID, map[string]any{
		"cycle_id":   ev.CycleID.String(),
		"round_id":   ev.RoundID.String(),
		"round_type": string(ev.RoundType),
	}, now)
	return ev, nil
}

// UpdateEvent renames or reschedules an event that has not started yet.
func (s *Service) UpdateEvent(ctx context.Context, actor *auth.Principal, id uuid.UUID, in UpdateEventInput) (Event, error) {
	if err := auth.RequireAdmin(actor); err != nil {
		return Event{}, err
	}
	now := s.now().UTC()
	if err := in.Validate(now); err != nil {
		return Event{}, err
	}

	var updated Event
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ev, err := tx.GetEvent(ctx, id)
		if err != nil {
			return err
		}
		if ev.Started(now) {
			return ErrEventStarted
		}
		if in.Name != nil {
			ev.Name = strings.TrimSpace(*in.Name)
		}
		if in.StartsAt != nil {
			ev.StartsAt = in.StartsAt.UTC()
		}
		if err := tx.UpdateEvent(ctx, ev); err != nil {
			return err
		}
		updated = ev
		return nil
	})
	if err != nil {
		return Event{}, fmt.Errorf("rounds: update event: %w", err)
	}
	s.record(ctx, actor, "event.update", "event", id, nil, now)
	return updated, nil
}

// DeleteEvent removes an unstarted event together with its pending round.
func (s *Service) DeleteEvent(ctx context.Context, actor *auth.Principal, id uuid.UUID) error {
	if err := auth.RequireAdmin(actor); err != nil {
		return err
	}
	now := s.now().UTC()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ev, err := tx.GetEvent(ctx, id)
		if err != nil {
			return err
		}
		if ev.Started(now) {
			return ErrEventStarted
		}
		if ev.RoundStatus != RoundStatusPending {
			return ErrRoundNotPending
		}
		return tx.DeleteEvent(ctx, ev)
	})
	if err != nil {
		return fmt.Errorf("rounds: delete event: %w", err)
	}
	s.record(ctx, actor, "event.delete", "event", id, nil, now)
	return nil
}

// GetEvent returns an event by id.
func (s *Service) GetEvent(ctx context.Context, id uuid.UUID) (Event, error) {
	return s.repo.GetEvent(ctx, id)
}

// ListEvents returns the cycle's events ordered by start time.
func (s *Service) ListEvents(ctx context.Context, cycleID uuid.UUID) ([]Event, error) {
	events, err := s.repo.ListEvents(ctx, cycleID)
	if err != nil {
		return nil, fmt.Errorf("rounds: list events: %w", err)
	}
	return events, nil
}

func idOf(r *Round) *uuid.UUID {
	if r == nil {
		return nil
	}
	id := r.ID
	return &id
}

func sameID(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
