package httpapi

import (
	"context"
	"net/http"
	"strings"

	apperrors "github.com/louisbranch/castgate/internal/platform/errors"
	"github.com/louisbranch/castgate/internal/platform/requestctx"
)

// TokenVerifier validates a bearer token into a request identity.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (requestctx.Identity, error)
}

// requireIdentity wraps a handler with bearer-token authentication. The
// verified identity is stored in the request context.
func (h *Handler) requireIdentity(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, r, apperrors.New(apperrors.CodeAuthMissingToken, "Missing bearer token"))
			return
		}
		identity, err := h.verifier.Verify(r.Context(), token)
		if err != nil {
			writeError(w, r, err)
			return
		}
		next(w, r.WithContext(requestctx.WithIdentity(r.Context(), identity)))
	}
}
