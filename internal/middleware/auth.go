package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/skadler/advfilters/internal/auth"
)

// Header names for the identity forwarded by the authenticating proxy.
const (
	UserIDHeader     = "X-User-ID"
	UserGroupsHeader = "X-User-Groups"
)

// AuthMiddleware reads the proxy-forwarded identity headers and attaches
// the caller to the request context. Requests without a parseable user ID
// pass through unauthenticated; handlers decide whether to reject them.
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(UserIDHeader))
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		userID, err := uuid.Parse(raw)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		identity := auth.Identity{
			UserID: userID,
			Groups: splitGroups(r.Header.Get(UserGroupsHeader)),
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithIdentity(r.Context(), identity)))
	})
}

func splitGroups(header string) []string {
	if strings.TrimSpace(header) == "" {
		return nil
	}
	parts := strings.Split(header, ",")
	groups := make([]string, 0, len(parts))
	for _, part := range parts {
		if name := strings.TrimSpace(part); name != "" {
			groups = append(groups, name)
		}
	}
	return groups
}
