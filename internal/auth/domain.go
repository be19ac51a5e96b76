package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/rushboard/rushboard/internal/shared"
)

// Role is the coarse role claim supplied by the identity provider.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleVoter Role = "voter"
	// RoleSystem is used by scheduled invocations acting with admin rights.
	RoleSystem Role = "system"
)

// ParseRole normalises a role claim. Unknown claims map to RoleVoter.
func ParseRole(raw string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleAdmin:
		return RoleAdmin
	case RoleSystem:
		return RoleSystem
	default:
		return RoleVoter
	}
}

// Principal describes the authenticated actor.
type Principal struct {
	ID   uuid.UUID
	Role Role
}

// IsAdmin reports whether the principal may perform admin mutations.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin || p.Role == RoleSystem
}

// String renders the principal for audit and log records.
func (p Principal) String() string {
	if p.Role == RoleSystem {
		return "system"
	}
	return p.ID.String()
}

// SystemPrincipal is the actor used by the auto-advance sweep.
func SystemPrincipal() *Principal {
	return &Principal{ID: uuid.Nil, Role: RoleSystem}
}

// RequireAuthenticated fails with ErrUnauthenticated when p is absent.
func RequireAuthenticated(p *Principal) error {
	if p == nil {
		return fmt.Errorf("auth: no principal: %w", shared.ErrUnauthenticated)
	}
	if p.Role != RoleSystem && p.ID == uuid.Nil {
		return fmt.Errorf("auth: principal without subject: %w", shared.ErrUnauthenticated)
	}
	return nil
}

// RequireAdmin fails unless p is an authenticated admin.
func RequireAdmin(p *Principal) error {
	if err := RequireAuthenticated(p); err != nil {
		return err
	}
	if !p.IsAdmin() {
		return fmt.Errorf("auth: admin role required: %w", shared.ErrForbidden)
	}
	return nil
}

type principalContextKey struct{}

// ContextWithPrincipal stores the principal in context.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal from context.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey{}).(*Principal)
	return p
}
