package model

import "github.com/google/uuid"

type Role string

const (
	RoleBorrower  Role = "BORROWER"
	RolePublisher Role = "PUBLISHER"
	RoleAdmin     Role = "ADMIN"
)

// Actor is the already-authenticated identity an operation runs as.
// Credential checks happen upstream; the core only checks ownership
// and role preconditions.
type Actor struct {
	ID   uuid.UUID `json:"id"`
	Role Role      `json:"role"`
}
