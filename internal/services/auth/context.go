package auth

import (
	"context"
	"strconv"
	"strings"
)

type identityKey struct{}

// Identity is the authenticated caller of a request. Every payment and
// balance operation takes its user id from here, never from the body.
type Identity struct {
	UserID int64
	SID    string
	Role   string
}

// Actor names the identity in audit records as "role:userID".
func (i Identity) Actor() string {
	role := strings.ToLower(strings.TrimSpace(i.Role))
	if role == "" {
		role = RoleUser
	}
	return role + ":" + strconv.FormatInt(i.UserID, 10)
}

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext reports false when no identity with a user id is set.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(Identity)
	if !ok || identity.UserID <= 0 {
		return Identity{}, false
	}
	return identity, true
}
