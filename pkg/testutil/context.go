package testutil

import (
	"net/http"

	"signet/pkg/domain"
	"signet/pkg/requestcontext"
)

// WithCaller binds an authenticated identity to the request context, as the auth
// middleware would after validating a bearer token.
func WithCaller(req *http.Request, caller string) *http.Request {
	ctx := requestcontext.WithCaller(req.Context(), domain.Identity(caller))
	return req.WithContext(ctx)
}
