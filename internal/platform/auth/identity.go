package auth

import (
	"context"
	"strings"
	"time"
)

// Staff roles carried in the "role" custom claim of a Firebase ID token.
const (
	RoleStaff = "staff"
	RoleAdmin = "admin"
)

// Identity is the staff member behind a verified Firebase ID token.
type Identity struct {
	UID      string
	Email    string
	Roles    []string
	AuthTime time.Time
}

// HasRole reports whether the identity carries role, ignoring case.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = normaliseRole(role)
	for _, r := range i.Roles {
		if role != "" && normaliseRole(r) == role {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the identity carries at least one of roles.
func (i *Identity) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if i.HasRole(role) {
			return true
		}
	}
	return false
}

// Actor is the name recorded in order status history, "admin:<uid>".
func (i *Identity) Actor() string {
	if i == nil || strings.TrimSpace(i.UID) == "" {
		return "admin:anonymous"
	}
	return "admin:" + strings.TrimSpace(i.UID)
}

type identityKey struct{}

// WithIdentity stores the staff identity on ctx.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the staff identity stored by the Firebase middleware.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*Identity)
	return identity, ok && identity != nil
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
