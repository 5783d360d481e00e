package middleware

import (
	"context"
	"net/http"

	"github.com/skadler/advfilters/internal/filterloader"
	"github.com/skadler/advfilters/internal/repository"
)

type ctxKey string

const filterLoaderKey ctxKey = "filterLoader"

// DataLoaderMiddleware attaches a per-request filter dataloader to the
// request context, so listings that resolve many filter references batch
// them into one lookup.
func DataLoaderMiddleware(repo repository.FilterRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			loader := filterloader.NewFilterLoader(repo)

			ctx := context.WithValue(r.Context(), filterLoaderKey, loader)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// FilterLoaderFromContext retrieves the filter loader from context
func FilterLoaderFromContext(ctx context.Context) *filterloader.FilterLoader {
	if l, ok := ctx.Value(filterLoaderKey).(*filterloader.FilterLoader); ok {
		return l
	}
	return nil
}
