package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/rushboard/rushboard/internal/auth"
	"github.com/rushboard/rushboard/internal/realtime"
	"github.com/rushboard/rushboard/internal/shared"
)

// CycleDirectory reports whether a cycle exists.
type CycleDirectory interface {
	CycleExists(ctx context.Context, id uuid.UUID) (bool, error)
}

// Service reads and writes settings and announces changes on the settings channel.
type Service struct {
	repo      Repository
	cycles    CycleDirectory
	publisher realtime.Publisher
	audit     shared.AuditRecorder
	logger    *slog.Logger
}

// NewService creates a new service.
func NewService(repo Repository, cycles CycleDirectory, publisher realtime.Publisher, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if publisher == nil {
		publisher = realtime.Discard{}
	}
	if audit == nil {
		audit = shared.NopAudit{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cycles: cycles, publisher: publisher, audit: audit, logger: logger}
}

// Snapshot loads every setting.
func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	values, err := s.repo.All(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("settings: load: %w", err)
	}
	return snapshotFrom(values)
}

// CurrentCycleID returns the current cycle, or nil when unset.
func (s *Service) CurrentCycleID(ctx context.Context) (*uuid.UUID, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.CurrentCycleID, nil
}

// Published reports a publish flag.
func (s *Service) Published(ctx context.Context, key string) (bool, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	return snap.Published(key)
}

// SetCurrentCycle points the current cycle at id, or clears it when id is nil.
func (s *Service) SetCurrentCycle(ctx context.Context, actor *auth.Principal, id *uuid.UUID) (Snapshot, error) {
	if err := auth.RequireAdmin(actor); err != nil {
		return Snapshot{}, err
	}
	var value *string
	if id != nil {
		if s.cycles == nil {
			return Snapshot{}, errors.New("settings: cycle directory not configured")
		}
		exists, err := s.cycles.CycleExists(ctx, *id)
		if err != nil {
			return Snapshot{}, fmt.Errorf("settings: check cycle: %w", err)
		}
		if !exists {
			return Snapshot{}, ErrCycleNotFound
		}
		raw := id.String()
		value = &raw
	}
	if err := s.repo.Upsert(ctx, KeyCurrentCycleID, value); err != nil {
		return Snapshot{}, fmt.Errorf("settings: set current cycle: %w", err)
	}
	s.announce(ctx, actor, realtime.EventCurrentCycle, KeyCurrentCycleID, map[string]any{"cycleId": id})
	return s.Snapshot(ctx)
}

// SetPublished flips one of the stats publish flags.
func (s *Service) SetPublished(ctx context.Context, actor *auth.Principal, key string, published bool) (Snapshot, error) {
	if err := auth.RequireAdmin(actor); err != nil {
		return Snapshot{}, err
	}
	if key != KeyStatsPublished && key != KeyDNIStatsPublished {
		return Snapshot{}, ErrUnknownFlag
	}
	value := strconv.FormatBool(published)
	if err := s.repo.Upsert(ctx, key, &value); err != nil {
		return Snapshot{}, fmt.Errorf("settings: set %s: %w", key, err)
	}
	s.announce(ctx, actor, realtime.EventPublishToggle, key, map[string]any{"key": key, "value": published})
	return s.Snapshot(ctx)
}

// ClearCurrentCycleIf unsets the current cycle when it points at cycleID.
func (s *Service) ClearCurrentCycleIf(ctx context.Context, cycleID uuid.UUID) (bool, error) {
	cleared, err := s.repo.ClearIfEquals(ctx, KeyCurrentCycleID, cycleID.String())
	if err != nil {
		return false, fmt.Errorf("settings: clear current cycle: %w", err)
	}
	if cleared {
		s.announce(ctx, auth.SystemPrincipal(), realtime.EventCurrentCycle, KeyCurrentCycleID, map[string]any{"cycleId": nil})
	}
	return cleared, nil
}

func (s *Service) announce(ctx context.Context, actor *auth.Principal, event, key string, payload map[string]any) {
	if err := s.publisher.Publish(ctx, realtime.NewEvent(realtime.ChannelSettings, event, payload)); err != nil {
		s.logger.Warn("publish settings change", slog.String("key", key), slog.Any("error", err))
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.String(),
		Action:   "settings.update",
		Entity:   "setting",
		EntityID: key,
		Meta:     payload,
		At:       time.Now().UTC(),
	}); err != nil {
		s.logger.Warn("record audit log", slog.String("key", key), slog.Any("error", err))
	}
}
