// Package repository provides the postgres-backed identity stores: the
// confirmed users table and the pending-registration holding area.
package repository

import (
	"context"

	"github.com/everstory/authcore/auth/structs"
)

// Error is a store error constant.
type Error string

func (e Error) Error() string {
	return string(e)
}

const (
	ErrNotFound  = Error("record not found")
	ErrDuplicate = Error("record already exists")
)

// UserRepository stores confirmed accounts.
type UserRepository interface {
	FindByEmail(ctx context.Context, email string) (*structs.User, error)
	FindByID(ctx context.Context, id int64) (*structs.User, error)

	// Promote converts a pending registration into a confirmed account and
	// removes the holding-area record in one transaction. It returns
	// ErrDuplicate when another login promoted the same email concurrently;
	// callers then re-read the confirmed account.
	Promote(ctx context.Context, pending *structs.PendingUser) (*structs.User, error)
}

// PendingRepository stores registrations awaiting their first login.
type PendingRepository interface {
	Create(ctx context.Context, pending *structs.PendingUser) error
	FindByEmail(ctx context.Context, email string) (*structs.PendingUser, error)
}
