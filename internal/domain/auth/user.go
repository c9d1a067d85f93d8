// Package auth models the authenticated caller and the per-role capabilities
// that gate every operation of the service.
package auth

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrUnauthenticated is returned when a request carries no valid identity.
var ErrUnauthenticated = errors.New("unauthenticated")

// Role is the coarse permission group of a user.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleSeller   Role = "seller"
	RoleAdmin    Role = "admin"
)

// ParseRole validates a stored role string.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleCustomer, RoleSeller, RoleAdmin:
		return r, nil
	default:
		return "", errors.Errorf("unknown role %q", s)
	}
}

// User is the opaque authenticated-user handle passed into the core.
type User struct {
	ID    string
	Email string
	Name  string
	Role  Role
}

// Can reports whether the user's role grants the action.
func (u User) Can(a Action) bool {
	return PolicyFor(u.Role).Allows(a)
}

// IsAdmin is a shorthand used by object-level checks.
func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

type userKey struct{}

// WithUser stores the authenticated user in ctx.
func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFromContext returns the authenticated user, if any.
func UserFromContext(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(userKey{}).(User)
	return u, ok
}
