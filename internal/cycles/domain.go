// Package cycles manages recruitment cycles and their cascading removal.
package cycles

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rushboard/rushboard/internal/shared"
)

// Status of a cycle.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusArchived
}

// Cycle is one recruitment season.
type Cycle struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// UpdateInput carries a partial cycle update.
type UpdateInput struct {
	Name   *string
	Status *Status
}

// Validate normalises and checks the update.
func (in *UpdateInput) Validate() error {
	if in.Name == nil && in.Status == nil {
		return fmt.Errorf("cycles: nothing to update: %w", shared.ErrValidation)
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return fmt.Errorf("cycles: name required: %w", shared.ErrValidation)
		}
		in.Name = &name
	}
	if in.Status != nil && !in.Status.Valid() {
		return fmt.Errorf("cycles: unknown status %q: %w", *in.Status, shared.ErrValidation)
	}
	return nil
}

// Step is one table cleared during a cascading delete.
type Step struct {
	Table string
	SQL   string
}

// cascade lists dependents in the order they must be removed: leaf tables first,
// the cycle row itself is deleted separately once every step succeeded.
var cascade = []Step{
	{Table: "delibs_votes", SQL: `DELETE FROM delibs_votes WHERE round_id IN (SELECT id FROM rounds WHERE cycle_id = $1)`},
	{Table: "votes", SQL: `DELETE FROM votes WHERE round_id IN (SELECT id FROM rounds WHERE cycle_id = $1)`},
	{Table: "interactions", SQL: `DELETE FROM interactions WHERE round_id IN (SELECT id FROM rounds WHERE cycle_id = $1)`},
	{Table: "comments", SQL: `DELETE FROM comments WHERE pnm_id IN (SELECT id FROM pnms WHERE cycle_id = $1)`},
	{Table: "attendance", SQL: `DELETE FROM attendance WHERE event_id IN (SELECT id FROM events WHERE cycle_id = $1)`},
	{Table: "rounds", SQL: `DELETE FROM rounds WHERE cycle_id = $1`},
	{Table: "events", SQL: `DELETE FROM events WHERE cycle_id = $1`},
	{Table: "pnms", SQL: `DELETE FROM pnms WHERE cycle_id = $1`},
}

// CascadeSteps returns a copy of the delete order.
func CascadeSteps() []Step {
	return append([]Step(nil), cascade...)
}

// DeleteReport summarises a completed cascading delete.
type DeleteReport struct {
	CycleID             uuid.UUID        `json:"cycleId"`
	Deleted             map[string]int64 `json:"deleted"`
	MissingTables       []string         `json:"missingTables,omitempty"`
	ClearedCurrentCycle bool             `json:"clearedCurrentCycle"`
}

var (
	// ErrCycleNotFound indicates an unknown cycle.
	ErrCycleNotFound = fmt.Errorf("cycles: cycle not found: %w", shared.ErrNotFound)
	// ErrCycleActive indicates an attempt to delete a cycle that is still active.
	ErrCycleActive = fmt.Errorf("cycles: archive the cycle before deleting it: %w", shared.ErrConflict)
)
