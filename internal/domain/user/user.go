// Package user holds the read-only projection of users owned by the remote
// users service and the port used to resolve them.
package user

import (
	"context"
	"strconv"
	"time"

	"github.com/nohelyvillegas/micro-cursos/internal/domain/shared"
)

// ID identifies a user in the remote users service.
type ID int64

// String returns the decimal form of the ID.
func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// IsValid reports whether the ID can reference a remote user.
func (id ID) IsValid() bool {
	return id > 0
}

// ParseID parses a decimal user ID.
func ParseID(s string) (ID, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		return 0, shared.ErrInvalidUserID
	}
	return ID(v), nil
}

// User is an immutable, fetch-on-demand copy of a remote user record.
// It is never persisted locally.
type User struct {
	ID        ID
	FirstName string
	LastName  string
	Email     string
	Phone     string
	BirthDate *time.Time
	CreatedAt time.Time
}

// FullName returns first and last name joined by a space.
func (u *User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	default:
		return u.FirstName + " " + u.LastName
	}
}

// NewUser is the payload used to register a user in the remote service.
type NewUser struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
	BirthDate *time.Time
}

// Lookup resolves user identifiers against the remote users service.
//
// Resolve returns ErrUserNotFound when the service reports no such user and
// ErrServiceUnavailable when it cannot be reached.
type Lookup interface {
	Resolve(ctx context.Context, id ID) (*User, error)
}

// LookupFunc adapts a plain function to Lookup.
type LookupFunc func(ctx context.Context, id ID) (*User, error)

// Resolve calls f(ctx, id).
func (f LookupFunc) Resolve(ctx context.Context, id ID) (*User, error) {
	return f(ctx, id)
}

// Remote lookup errors.
var (
	ErrUserNotFound       = shared.NewDomainError("user", "Resolve", shared.ErrNotFound, "user not found in users service")
	ErrServiceUnavailable = shared.NewDomainError("user", "Resolve", shared.ErrServiceUnavailable, "users service unavailable")
)
