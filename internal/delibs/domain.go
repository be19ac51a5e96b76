// Package delibs implements live deliberation control on top of an open delibs round.
package delibs

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/rushboard/rushboard/internal/rounds"
	"github.com/rushboard/rushboard/internal/shared"
)

// State is the live control state of a delibs round.
type State struct {
	RoundID         uuid.UUID          `json:"roundId"`
	CycleID         uuid.UUID          `json:"cycleId"`
	Type            rounds.RoundType   `json:"type"`
	Status          rounds.RoundStatus `json:"status"`
	CurrentPNMID    *uuid.UUID         `json:"currentPnmId"`
	VotingOpen      bool               `json:"votingOpen"`
	ResultsRevealed bool               `json:"resultsRevealed"`
	SealedPNMIDs    []uuid.UUID        `json:"sealedPnmIds"`
	SealedResults   json.RawMessage    `json:"sealedResults,omitempty"`
}

// ControlPatch is a partial update. Nil fields are left unchanged.
type ControlPatch struct {
	RoundID uuid.UUID

	CurrentPNMID *uuid.UUID
	// ClearCurrentPNM unsets the current candidate.
	ClearCurrentPNM bool
	VotingOpen      *bool
	ResultsRevealed *bool
	SealedPNMIDs    *[]uuid.UUID
	// SealedResults replaces the snapshot; the literal JSON null clears it.
	SealedResults json.RawMessage
}

// IsEmpty reports whether the patch changes nothing.
func (p ControlPatch) IsEmpty() bool {
	return p.CurrentPNMID == nil && !p.ClearCurrentPNM && p.VotingOpen == nil &&
		p.ResultsRevealed == nil && p.SealedPNMIDs == nil && p.SealedResults == nil
}

// Validate checks the patch before any lookup.
func (p ControlPatch) Validate() error {
	if p.RoundID == uuid.Nil {
		return fmt.Errorf("delibs: roundId required: %w", shared.ErrValidation)
	}
	if p.IsEmpty() {
		return ErrEmptyPatch
	}
	if p.CurrentPNMID != nil && p.ClearCurrentPNM {
		return fmt.Errorf("delibs: currentPnmId cannot be both set and cleared: %w", shared.ErrValidation)
	}
	if p.SealedResults != nil && !json.Valid(p.SealedResults) {
		return fmt.Errorf("delibs: sealedResults is not valid JSON: %w", shared.ErrValidation)
	}
	return nil
}

// Fields lists the JSON names of the fields the patch touches.
func (p ControlPatch) Fields() []string {
	var out []string
	if p.CurrentPNMID != nil || p.ClearCurrentPNM {
		out = append(out, "currentPnmId")
	}
	if p.VotingOpen != nil {
		out = append(out, "votingOpen")
	}
	if p.ResultsRevealed != nil {
		out = append(out, "resultsRevealed")
	}
	if p.SealedPNMIDs != nil {
		out = append(out, "sealedPnmIds")
	}
	if p.SealedResults != nil {
		out = append(out, "sealedResults")
	}
	return out
}

// ApplyTo returns s with the patch applied.
func (p ControlPatch) ApplyTo(s State) State {
	switch {
	case p.ClearCurrentPNM:
		s.CurrentPNMID = nil
	case p.CurrentPNMID != nil:
		id := *p.CurrentPNMID
		s.CurrentPNMID = &id
	}
	if p.VotingOpen != nil {
		s.VotingOpen = *p.VotingOpen
	}
	if p.ResultsRevealed != nil {
		s.ResultsRevealed = *p.ResultsRevealed
	}
	if p.SealedPNMIDs != nil {
		s.SealedPNMIDs = dedupe(*p.SealedPNMIDs)
	}
	if p.SealedResults != nil {
		if isNull(p.SealedResults) {
			s.SealedResults = nil
		} else {
			s.SealedResults = append(json.RawMessage(nil), p.SealedResults...)
		}
	}
	return s
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

var (
	// ErrEmptyPatch indicates a control update with no fields.
	ErrEmptyPatch = fmt.Errorf("delibs: no control fields given: %w", shared.ErrValidation)
	// ErrRoundNotFound indicates an unknown round.
	ErrRoundNotFound = fmt.Errorf("delibs: round not found: %w", shared.ErrNotFound)
	// ErrNotDelibsRound indicates control of a round of another type.
	ErrNotDelibsRound = fmt.Errorf("delibs: round is not a delibs round: %w", shared.ErrInvalidState)
	// ErrRoundNotOpen indicates control of a round that is not open.
	ErrRoundNotOpen = fmt.Errorf("delibs: round is not open: %w", shared.ErrInvalidState)
)
