package rounds

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"

	"github.com/rushboard/rushboard/internal/shared"
)

// RoundType enumerates the voting modes a round can run in.
type RoundType string

const (
	RoundTypeStandard       RoundType = "standard"
	RoundTypeDelibs         RoundType = "delibs"
	RoundTypeDidNotInteract RoundType = "did_not_interact"
)

// Valid reports whether t is a known round type.
func (t RoundType) Valid() bool {
	switch t {
	case RoundTypeStandard, RoundTypeDelibs, RoundTypeDidNotInteract:
		return true
	default:
		return false
	}
}

// RoundStatus captures the round lifecycle. Closed is terminal except for an
// explicit admin override.
type RoundStatus string

const (
	RoundStatusPending RoundStatus = "pending"
	RoundStatusOpen    RoundStatus = "open"
	RoundStatusClosed  RoundStatus = "closed"
)

// Action names an override request.
type Action string

const (
	ActionOpen  Action = "open"
	ActionClose Action = "close"
)

// Round is a voting window tied to one event.
type Round struct {
	ID       uuid.UUID   `json:"id"`
	EventID  uuid.UUID   `json:"eventId"`
	CycleID  uuid.UUID   `json:"cycleId"`
	Type     RoundType   `json:"type"`
	Status   RoundStatus `json:"status"`
	OpenedAt *time.Time  `json:"openedAt,omitempty"`
	ClosedAt *time.Time  `json:"closedAt,omitempty"`

	// Live deliberation controls; only meaningful for delibs rounds.
	CurrentPNMID    *uuid.UUID      `json:"currentPnmId,omitempty"`
	VotingOpen      bool            `json:"votingOpen"`
	ResultsRevealed bool            `json:"resultsRevealed"`
	SealedPNMIDs    []uuid.UUID     `json:"sealedPnmIds"`
	SealedResults   json.RawMessage `json:"sealedResults,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// IsSealed reports whether the candidate's result has been finalised.
func (r Round) IsSealed(pnmID uuid.UUID) bool {
	for _, id := range r.SealedPNMIDs {
		if id == pnmID {
			return true
		}
	}
	return false
}

// Event schedules a round. Its round auto-opens once StartsAt has passed.
type Event struct {
	ID        uuid.UUID `json:"id"`
	CycleID   uuid.UUID `json:"cycleId"`
	Name      string    `json:"name"`
	StartsAt  time.Time `json:"startsAt"`
	CreatedAt time.Time `json:"createdAt"`

	RoundID     uuid.UUID   `json:"roundId"`
	RoundType   RoundType   `json:"roundType"`
	RoundStatus RoundStatus `json:"roundStatus"`
}

// Started reports whether the event's start time is at or before now.
func (e Event) Started(now time.Time) bool {
	return !e.StartsAt.After(now)
}

// Transition records one applied status change.
type Transition struct {
	RoundID uuid.UUID   `json:"roundId"`
	CycleID uuid.UUID   `json:"cycleId"`
	Action  Action      `json:"action"`
	From    RoundStatus `json:"from"`
	To      RoundStatus `json:"to"`
	At      time.Time   `json:"timestamp"`
}

// CreateEventInput captures a new scheduled event and the round it drives.
type CreateEventInput struct {
	CycleID   uuid.UUID
	Name      string
	StartsAt  time.Time
	RoundType RoundType
}

// Validate ensures the input is coherent relative to now.
func (in CreateEventInput) Validate(now time.Time) error {
	if in.CycleID == uuid.Nil {
		return fmt.Errorf("rounds: cycle id required: %w", shared.ErrValidation)
	}
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("rounds: event name required: %w", shared.ErrValidation)
	}
	if !in.StartsAt.After(now) {
		return fmt.Errorf("rounds: event must start in the future: %w", shared.ErrValidation)
	}
	if !in.RoundType.Valid() {
		return fmt.Errorf("rounds: unknown round type %q: %w", in.RoundType, shared.ErrValidation)
	}
	return nil
}

// UpdateEventInput carries a partial event update.
type UpdateEventInput struct {
	Name     *string
	StartsAt *time.Time
}

// Validate ensures at least one field is present and values are coherent.
func (in UpdateEventInput) Validate(now time.Time) error {
	if in.Name == nil && in.StartsAt == nil {
		return fmt.Errorf("rounds: no fields to update: %w", shared.ErrValidation)
	}
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		return fmt.Errorf("rounds: event name required: %w", shared.ErrValidation)
	}
	if in.StartsAt != nil && !in.StartsAt.After(now) {
		return fmt.Errorf("rounds: event must start in the future: %w", shared.ErrValidation)
	}
	return nil
}

// nameKey folds an event name for case-insensitive uniqueness.
func nameKey(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

var (
	// ErrRoundNotFound is returned when a round id is unknown.
	ErrRoundNotFound = fmt.Errorf("rounds: round not found: %w", shared.ErrNotFound)
	// ErrEventNotFound is returned when an event id is unknown.
	ErrEventNotFound = fmt.Errorf("rounds: event not found: %w", shared.ErrNotFound)
	// ErrCycleNotFound is returned when a cycle id is unknown.
	ErrCycleNotFound = fmt.Errorf("rounds: cycle not found: %w", shared.ErrNotFound)
	// ErrCycleArchived indicates scheduling changes on an archived cycle.
	ErrCycleArchived = fmt.Errorf("rounds: cycle is archived: %w", shared.ErrInvalidState)
	// ErrEventStarted indicates mutation of an event whose start time has passed.
	ErrEventStarted = fmt.Errorf("rounds: event already started: %w", shared.ErrInvalidState)
	// ErrRoundNotPending indicates deletion of an event whose round already ran.
	ErrRoundNotPending = fmt.Errorf("rounds: round is no longer pending: %w", shared.ErrInvalidState)
	// ErrDuplicateEventName indicates an event name clash within a cycle.
	ErrDuplicateEventName = fmt.Errorf("rounds: event name already used in cycle: %w", shared.ErrConflict)
	// ErrUnknownAction indicates an unsupported override action.
	ErrUnknownAction = fmt.Errorf("rounds: unknown override action: %w", shared.ErrValidation)
)
