package handler

import (
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/campus-canteen/internal/domain/auth"
	"github.com/xenking/campus-canteen/pkg/httpmiddleware"
)

// APIKeyHeader carries the caller's API key.
const APIKeyHeader = "api_key"

// Authenticate resolves the api_key header to a principal stored in the
// request context. Requests without a key continue anonymously; public routes
// serve them and the services reject them elsewhere. An unknown or revoked
// key is rejected with 401.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(APIKeyHeader)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}
		p, err := h.authn.Authenticate(r.Context(), key)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		ctx := auth.WithPrincipal(r.Context(), p)
		ctx = zctx.With(ctx, zap.String("uid", p.UID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// PrincipalKey keys rate limits by the authenticated user, falling back to
// the client IP for anonymous requests.
func PrincipalKey(r *http.Request) string {
	if p := auth.FromContext(r.Context()); p != nil {
		return "uid:" + p.UID
	}
	return "ip:" + httpmiddleware.ClientIP(r)
}
