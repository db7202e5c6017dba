package models

import "github.com/google/uuid"

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Principal is the authenticated caller attached to a request.
// A nil *Principal means the request is anonymous.
type Principal struct {
	ID   uuid.UUID `json:"id"`
	Role Role      `json:"role"`
}

func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}
