package auth

import (
	"fmt"
	"strings"

	"github.com/rigflow/rigflow/internal/rbac"
	"github.com/rigflow/rigflow/internal/shared"
)

// Service wraps persona sign-in rules.
type Service struct {
	store *rbac.Store
}

// NewService constructs a new Service.
func NewService(store *rbac.Store) *Service {
	return &Service{store: store}
}

// Resolve validates raw sign-in input into a Persona.
func (s *Service) Resolve(userID, name, role string) (Persona, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Persona{}, fmt.Errorf("%w: user id required", shared.ErrInvalidPersona)
	}
	parsed, err := rbac.ParseRole(role)
	if err != nil {
		return Persona{}, fmt.Errorf("%w: %w", shared.ErrInvalidPersona, err)
	}
	if parsed == "" {
		return Persona{}, fmt.Errorf("%w: role required", shared.ErrInvalidPersona)
	}
	return Persona{UserID: userID, Name: strings.TrimSpace(name), Role: parsed}, nil
}

// Profile expands a persona with its inherited roles and effective
// permissions under the active policy.
func (s *Service) Profile(p Persona) Profile {
	resolver := s.store.Current()
	inherits := resolver.InheritedRoles(p.Role)
	if inherits == nil {
		inherits = []rbac.Role{}
	}
	perms := resolver.EffectivePermissions(p.Role)
	if perms == nil {
		perms = []rbac.Permission{}
	}
	return Profile{Persona: p, Inherits: inherits, Permissions: perms}
}
