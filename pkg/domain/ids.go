// Package domain provides type-safe identifiers to prevent mixing up IDs at compile time.
package domain

import (
	"github.com/google/uuid"

	dErrors "blockcreds/pkg/domain-errors"
)

// UserID is the opaque reference to an issuer or recipient owned by the
// external identity directory.
type UserID uuid.UUID

// Parse functions - use at trust boundaries (handlers, API inputs).

func ParseUserID(s string) (UserID, error) {
	id, err := parseUUID(s, "user ID")
	return UserID(id), err
}

// NewUserID allocates a fresh reference. Used by directories that mint
// placeholder identities.
func NewUserID() UserID {
	return UserID(uuid.New())
}

func (id UserID) String() string { return uuid.UUID(id).String() }

func (id UserID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// parseUUID is the shared validation logic. The nil UUID is rejected so a
// zero reference can never slip past a handler.
func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeValidation, label+" cannot be empty")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeValidation, "invalid "+label+" format")
	}
	if id == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeValidation, label+" cannot be nil")
	}
	return id, nil
}
