// Package mint delivers completion mint requests to the external token
// issuer. Every adapter performs exactly one delivery attempt per call; the
// document engine owns the at-most-once guarantee.
package mint

import (
	"context"
	"time"

	"github.com/google/uuid"

	id "signet/pkg/domain"
	"signet/pkg/requestcontext"
)

// Request is the payload every adapter delivers. MintID is the caller's
// idempotency key and repeats across attempts for the same completion.
type Request struct {
	MintID      string    `json:"mint_id"`
	Recipient   string    `json:"recipient"`
	DocumentRef string    `json:"document_ref"`
	RequestedAt time.Time `json:"requested_at"`
	RequestID   string    `json:"request_id,omitempty"`
}

func newRequest(ctx context.Context, recipient id.Identity, ref id.StorageID, key string) Request {
	if key == "" {
		key = uuid.NewString()
	}
	return Request{
		MintID:      key,
		Recipient:   recipient.String(),
		DocumentRef: ref.String(),
		RequestedAt: requestcontext.Now(ctx).UTC(),
		RequestID:   requestcontext.RequestID(ctx),
	}
}
