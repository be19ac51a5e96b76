package cycles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rushboard/rushboard/internal/auth"
	"github.com/rushboard/rushboard/internal/platform/db"
	"github.com/rushboard/rushboard/internal/shared"
)

// CurrentCycleClearer unsets the current cycle setting when it names a deleted cycle.
type CurrentCycleClearer interface {
	ClearCurrentCycleIf(ctx context.Context, cycleID uuid.UUID) (bool, error)
}

// Service manages cycles.
type Service struct {
	repo     Repository
	settings CurrentCycleClearer
	audit    shared.AuditRecorder
	logger   *slog.Logger
}

// NewService creates a new service.
func NewService(repo Repository, settings CurrentCycleClearer, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if audit == nil {
		audit = shared.NopAudit{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, settings: settings, audit: audit, logger: logger}
}

// Create starts a new active cycle.
func (s *Service) Create(ctx context.Context, actor *auth.Principal, name string) (Cycle, error) {
	if err := auth.RequireAdmin(actor); err != nil {
		return Cycle{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Cycle{}, fmt.Errorf("cycles: name required: %w", shared.ErrValidation)
	}
	c, err := s.repo.Create(ctx, name)
	if err != nil {
		return Cycle{}, fmt.Errorf("cycles: create: %w", err)
	}
	s.record(ctx, actor, "cycle.create", c.ID, map[string]any{"name": c.Name})
	return c, nil
}

// Get returns one cycle.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Cycle, error) {
	return s.repo.Get(ctx, id)
}

// List returns cycles newest first.
func (s *Service) List(ctx context.Context) ([]Cycle, error) {
	return s.repo.List(ctx)
}

// CycleExists reports whether id names a stored cycle.
func (s *Service) CycleExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.repo.CycleExists(ctx, id)
}

// Update renames or archives a cycle.
func (s *Service) Update(ctx context.Context, actor *auth.Principal, id uuid.UUID, in UpdateInput) (Cycle, error) {
	if err := auth.RequireAdmin(actor); err != nil {
		return Cycle{}, err
	}
	if err := in.Validate(); err != nil {
		return Cycle{}, err
	}
	c, err := s.repo.Update(ctx, id, in)
	if err != nil {
		return Cycle{}, fmt.Errorf("cycles: update %s: %w", id, err)
	}
	s.record(ctx, actor, "cycle.update", c.ID, map[string]any{"name": c.Name, "status": c.Status})
	return c, nil
}

// Delete removes an archived cycle and everything scoped to it. Dependents go
// first, one statement per table; the cycle row is deleted last so a failed
// call leaves it in place and can simply be retried.
func (s *Service) Delete(ctx context.Context, actor *auth.Principal, id uuid.UUID) (DeleteReport, error) {
	if err := auth.RequireAdmin(actor); err != nil {
		return DeleteReport{}, err
	}
	c, err := s.repo.Get(ctx, id)
	if errors.Is(err, ErrCycleNotFound) {
		return s.resumeDelete(ctx, actor, id)
	}
	if err != nil {
		return DeleteReport{}, err
	}
	if c.Status == StatusActive {
		return DeleteReport{}, ErrCycleActive
	}

	report := DeleteReport{CycleID: id, Deleted: make(map[string]int64, len(cascade))}
	for _, step := range cascade {
		n, err := s.repo.DeleteDependents(ctx, step, id)
		switch {
		case db.IsUndefinedTable(err):
			report.MissingTables = append(report.MissingTables, step.Table)
		case err != nil:
			s.logger.Error("cascade delete aborted",
				slog.String("cycle_id", id.String()),
				slog.String("table", step.Table),
				slog.Any("error", err))
			return report, fmt.Errorf("cycles: delete %s for cycle %s: %w", step.Table, id, err)
		default:
			report.Deleted[step.Table] = n
		}
	}
	if err := s.repo.DeleteCycle(ctx, id); err != nil {
		return report, fmt.Errorf("cycles: delete cycle %s: %w", id, err)
	}

	if s.settings != nil {
		cleared, err := s.settings.ClearCurrentCycleIf(ctx, id)
		if err != nil {
			return report, fmt.Errorf("cycles: cycle %s deleted but current cycle not cleared: %w", id, err)
		}
		report.ClearedCurrentCycle = cleared
	}

	s.record(ctx, actor, "cycle.delete", id, map[string]any{
		"name":          c.Name,
		"deleted":       report.Deleted,
		"missingTables": report.MissingTables,
	})
	s.logger.Info("cycle deleted", slog.String("cycle_id", id.String()), slog.Any("deleted", report.Deleted))
	return report, nil
}

func (s *Service) record(ctx context.Context, actor *auth.Principal, action string, id uuid.UUID, meta map[string]any) {
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.String(),
		Action:   action,
		Entity:   "cycle",
		EntityID: id.String(),
		Meta:     meta,
		At:       time.Now().UTC(),
	}); err != nil {
		s.logger.Warn("record audit log", slog.String("action", action), slog.Any("error", err))
	}
}

// resumeDelete finishes a delete whose cycle row is already gone but whose
// current cycle setting may still point at it. An unknown cycle that was never
// current stays NotFound.
func (s *Service) resumeDelete(ctx context.Context, actor *auth.Principal, id uuid.UUID) (DeleteReport, error) {
	if s.settings == nil {
		return DeleteReport{}, ErrCycleNotFound
	}
	cleared, err := s.settings.ClearCurrentCycleIf(ctx, id)
	if err != nil {
		return DeleteReport{}, fmt.Errorf("cycles: clear current cycle %s: %w", id, err)
	}
	if !cleared {
		return DeleteReport{}, ErrCycleNotFound
	}
	s.record(ctx, actor, "cycle.delete", id, map[string]any{"resumed": true})
	s.logger.Info("cycle delete resumed", slog.String("cycle_id", id.String()))
	return DeleteReport{CycleID: id, Deleted: map[string]int64{}, ClearedCurrentCycle: true}, nil
}
