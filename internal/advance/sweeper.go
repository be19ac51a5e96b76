// Package advance drives scheduled round transitions. A sweep is a pure function of
// the clock and stored state, so it may run at any cadence and concurrently with itself.
package advance

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rushboard/rushboard/internal/rounds"
)

// Store exposes the reads a sweep needs.
type Store interface {
	CurrentOpenRound(ctx context.Context, cycleID uuid.UUID) (*rounds.Round, error)
	DueEvents(ctx context.Context, cycleID uuid.UUID, now time.Time) ([]rounds.Event, error)
	NextEvent(ctx context.Context, cycleID uuid.UUID, now time.Time) (*rounds.Event, error)
}

// Advancer applies a compare-and-swap open through the round state machine.
type Advancer interface {
	Advance(ctx context.Context, roundID uuid.UUID, observedOpen *uuid.UUID) (rounds.OpenResult, error)
}

// Report summarises one sweep.
type Report struct {
	CycleID     uuid.UUID           `json:"cycleId"`
	Now         time.Time           `json:"now"`
	Transitions []rounds.Transition `json:"transitions"`
	OpenRound   *rounds.Round       `json:"openRound"`
	NextEvent   *rounds.Event       `json:"nextEvent"`
	// Skipped lists older started events whose rounds stay pending because a later event was chosen.
	Skipped []uuid.UUID `json:"skippedEventIds,omitempty"`
	Errors  []string    `json:"errors"`
}

// Failed reports whether any step of the sweep errored.
func (r Report) Failed() bool {
	return len(r.Errors) > 0
}

// Sweeper runs the auto-advance algorithm.
type Sweeper struct {
	store    Store
	advancer Advancer
	logger   *slog.Logger
}

// NewSweeper constructs a Sweeper.
func NewSweeper(store Store, advancer Advancer, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{store: store, advancer: advancer, logger: logger}
}

// Sweep opens the round of the latest started event whose round is still pending,
// unless it is already open. Errors are captured in the report, never returned.
func (s *Sweeper) Sweep(ctx context.Context, cycleID uuid.UUID, now time.Time) Report {
	report := Report{CycleID: cycleID, Now: now, Transitions: []rounds.Transition{}, Errors: []string{}}
	logger := s.logger.With(slog.String("cycle_id", cycleID.String()))

	open, err := s.store.CurrentOpenRound(ctx, cycleID)
	if err != nil {
		report.fail(logger, "read open round", err)
		return report
	}
	report.OpenRound = open

	due, err := s.store.DueEvents(ctx, cycleID, now)
	if err != nil {
		report.fail(logger, "read due events", err)
		return report
	}

	if target, ok := pickLatest(due); ok {
		for _, ev := range due {
			if ev.ID != target.ID {
				report.Skipped = append(report.Skipped, ev.ID)
			}
		}
		if open == nil || open.ID != target.RoundID {
			res, err := s.advancer.Advance(ctx, target.RoundID, observedID(open))
			if err != nil {
				report.fail(logger, "advance round", err)
			} else {
				report.Transitions = append(report.Transitions, res.Applied...)
				if res.Round.Status == rounds.RoundStatusOpen {
					round := res.Round
					report.OpenRound = &round
				}
				if len(res.Applied) == 0 {
					logger.Info("sweep superseded by concurrent transition", slog.String("round_id", target.RoundID.String()))
				}
			}
		}
	}

	next, err := s.store.NextEvent(ctx, cycleID, now)
	if err != nil {
		report.fail(logger, "read next event", err)
	}
	report.NextEvent = next

	if len(report.Transitions) > 0 {
		logger.Info("sweep advanced rounds", slog.Int("transitions", len(report.Transitions)))
	}
	return report
}

func (r *Report) fail(logger *slog.Logger, step string, err error) {
	logger.Error("sweep step failed", slog.String("step", step), slog.Any("error", err))
	r.Errors = append(r.Errors, step+": "+err.Error())
}

// pickLatest selects the event with the largest start time, ties broken by id ascending.
func pickLatest(events []rounds.Event) (rounds.Event, bool) {
	var (
		best  rounds.Event
		found bool
	)
	for _, ev := range events {
		if ev.RoundStatus != rounds.RoundStatusPending {
			continue
		}
		switch {
		case !found:
			best, found = ev, true
		case ev.StartsAt.After(best.StartsAt):
			best = ev
		case ev.StartsAt.Equal(best.StartsAt) && ev.ID.String() < best.ID.String():
			best = ev
		}
	}
	return best, found
}

func observedID(r *rounds.Round) *uuid.UUID {
	if r == nil {
		return nil
	}
	id := r.ID
	return &id
}
