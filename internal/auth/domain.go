package auth

import "github.com/rigflow/rigflow/internal/rbac"

// Persona is the identity a dashboard user signs in as.
type Persona struct {
	UserID string    `json:"user_id"`
	Name   string    `json:"name,omitempty"`
	Role   rbac.Role `json:"role"`
}

// Profile describes the signed-in persona and what it may do.
type Profile struct {
	Persona
	Inherits    []rbac.Role       `json:"inherits"`
	Permissions []rbac.Permission `json:"permissions"`
}
