package http

import (
	"context"
	"net/http"

	"github.com/utafrali/marketplace/internal/service"
	"github.com/utafrali/marketplace/pkg/middleware"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// caller returns the authenticated identity and a context that carries the
// admin flag when the token asserted the admin role.
func caller(r *http.Request) (context.Context, string) {
	ctx := r.Context()
	if middleware.RoleFromContext(ctx) == middleware.RoleAdmin {
		ctx = service.WithAdmin(ctx)
	}
	return ctx, middleware.UserIDFromContext(ctx)
}

func limitBody(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
}
