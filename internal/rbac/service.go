package rbac

import (
	"context"
	"strings"

	"github.com/rushboard/rushboard/internal/auth"
	"github.com/rushboard/rushboard/internal/shared"
)

// Service resolves the permissions a principal holds from its role claim.
type Service struct {
	grants map[auth.Role][]string
}

// NewService constructs a Service with the default role grants.
func NewService() *Service {
	return &Service{grants: map[auth.Role][]string{
		auth.RoleVoter:  shared.VoterScopes(),
		auth.RoleAdmin:  shared.AdminScopes(),
		auth.RoleSystem: shared.AdminScopes(),
	}}
}

// EffectivePermissions returns the permissions granted to the principal.
func (s *Service) EffectivePermissions(ctx context.Context, p *auth.Principal) ([]string, error) {
	if s == nil || p == nil {
		return nil, nil
	}
	perms := s.grants[p.Role]
	out := make([]string, 0, len(perms))
	for _, perm := range perms {
		out = append(out, strings.ToLower(perm))
	}
	return out, nil
}
