// Package identity decides whether the authenticated caller may act as a given
// identity.
package identity

import (
	"context"

	id "signet/pkg/domain"
	dErrors "signet/pkg/domain-errors"
	"signet/pkg/requestcontext"
)

// ContextAuthorizer accepts an identity only when it is the caller bound to the
// request context by the authentication middleware.
type ContextAuthorizer struct{}

func NewContextAuthorizer() *ContextAuthorizer {
	return &ContextAuthorizer{}
}

func (ContextAuthorizer) Authorize(ctx context.Context, identity id.Identity) error {
	caller, ok := requestcontext.Caller(ctx)
	if !ok {
		return dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if identity.IsZero() || caller != identity {
		return dErrors.New(dErrors.CodeUnauthorized, "authenticated caller does not control "+identity.String())
	}
	return nil
}
