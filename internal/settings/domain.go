// Package settings stores the process-wide key/value settings.
package settings

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/rushboard/rushboard/internal/shared"
)

// Known setting keys.
const (
	KeyCurrentCycleID    = "current_cycle_id"
	KeyStatsPublished    = "stats_published"
	KeyDNIStatsPublished = "dni_stats_published"
)

// Snapshot is the typed view of all settings, loaded once per request.
type Snapshot struct {
	CurrentCycleID    *uuid.UUID `json:"currentCycleId"`
	StatsPublished    bool       `json:"statsPublished"`
	DNIStatsPublished bool       `json:"dniStatsPublished"`
}

// Published returns the flag for key.
func (s Snapshot) Published(key string) (bool, error) {
	switch key {
	case KeyStatsPublished:
		return s.StatsPublished, nil
	case KeyDNIStatsPublished:
		return s.DNIStatsPublished, nil
	default:
		return false, fmt.Errorf("settings: %q is not a publish flag: %w", key, shared.ErrValidation)
	}
}

func snapshotFrom(values map[string]string) (Snapshot, error) {
	var snap Snapshot
	if raw := values[KeyCurrentCycleID]; raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return Snapshot{}, fmt.Errorf("settings: stored %s %q: %w", KeyCurrentCycleID, raw, err)
		}
		snap.CurrentCycleID = &id
	}
	snap.StatsPublished = values[KeyStatsPublished] == "true"
	snap.DNIStatsPublished = values[KeyDNIStatsPublished] == "true"
	return snap, nil
}

var (
	// ErrUnknownFlag indicates a publish toggle for an unknown key.
	ErrUnknownFlag = fmt.Errorf("settings: unknown publish flag: %w", shared.ErrValidation)
	// ErrCycleNotFound indicates pointing the current cycle at a missing cycle.
	ErrCycleNotFound = fmt.Errorf("settings: cycle not found: %w", shared.ErrNotFound)
)
