package httpx

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rushboard/rushboard/internal/shared"
)

// CurrentCycleSource resolves the process-wide current cycle setting.
type CurrentCycleSource interface {
	CurrentCycleID(ctx context.Context) (*uuid.UUID, error)
}

// URLUUID parses a chi path parameter as a uuid.
func URLUUID(r *http.Request, name string) (uuid.UUID, error) {
	return parseUUID(name, chi.URLParam(r, name))
}

// QueryUUID parses a required query parameter as a uuid.
func QueryUUID(r *http.Request, name string) (uuid.UUID, error) {
	return parseUUID(name, r.URL.Query().Get(name))
}

// CycleID returns the cycleId query parameter, falling back to the current cycle setting.
func CycleID(r *http.Request, src CurrentCycleSource) (uuid.UUID, error) {
	if raw := strings.TrimSpace(r.URL.Query().Get("cycleId")); raw != "" {
		return parseUUID("cycleId", raw)
	}
	if src == nil {
		return uuid.Nil, fmt.Errorf("cycleId required: %w", shared.ErrValidation)
	}
	id, err := src.CurrentCycleID(r.Context())
	if err != nil {
		return uuid.Nil, err
	}
	if id == nil {
		return uuid.Nil, fmt.Errorf("no current cycle is set: %w", shared.ErrInvalidState)
	}
	return *id, nil
}

func parseUUID(name, raw string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, fmt.Errorf("%s required: %w", name, shared.ErrValidation)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s is not a valid id: %w", name, shared.ErrValidation)
	}
	return id, nil
}
