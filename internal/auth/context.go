package auth

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

type contextKey string

const identityKey contextKey = "identity"

// Identity describes the authenticated caller. Filters are shared with
// individual users and with named groups, so both travel together.
type Identity struct {
	UserID uuid.UUID
	Groups []string
}

// NormalizedGroups returns the identity's group names trimmed, de-duplicated
// and sorted. Empty names are dropped.
func (i Identity) NormalizedGroups() []string {
	if len(i.Groups) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(i.Groups))
	groups := make([]string, 0, len(i.Groups))
	for _, group := range i.Groups {
		name := strings.TrimSpace(group)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		groups = append(groups, name)
	}
	sort.Strings(groups)
	return groups
}

// ContextWithIdentity returns a new context that carries the authenticated caller.
func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFromContext retrieves the authenticated caller from the context, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	value := ctx.Value(identityKey)
	if value == nil {
		return Identity{}, false
	}
	identity, ok := value.(Identity)
	if !ok {
		return Identity{}, false
	}
	if identity.UserID == uuid.Nil {
		return Identity{}, false
	}
	return identity, true
}

// RequireIdentity returns the authenticated caller or an error when the
// request was not authenticated.
func RequireIdentity(ctx context.Context) (Identity, error) {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return Identity{}, fmt.Errorf("request is not authenticated")
	}
	return identity, nil
}
