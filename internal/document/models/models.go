package models

import (
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"

	id "signet/pkg/domain"
	dErrors "signet/pkg/domain-errors"
	"signet/pkg/platform/strings"
)

// Status is the lifecycle position of a document derived from its signatures.
type Status string

const (
	StatusAwaitingSignatures Status = "awaiting_signatures"
	StatusPartiallySigned    Status = "partially_signed"
	StatusCompleted          Status = "completed"
)

// Document is the persisted record of a registered document and its approval
// progress.
type Document struct {
	ContentHash         id.ContentHash
	StorageID           id.StorageID
	Creator             id.Identity
	RegisteredAt        time.Time
	Receiver            *id.Identity
	RequiredSigners     []id.Identity
	CollectedSignatures []id.Identity
	// Completed guards the mint side effect: it flips to true once, in the same
	// write that follows a successful mint.
	Completed bool
}

// NewDocument creates a fresh, unsigned document with domain invariant
// validation. Required signers are trimmed and deduplicated in order, since a
// duplicate could never be collected twice and would block completion.
func NewDocument(hash id.ContentHash, storageID id.StorageID, creator id.Identity, receiver *id.Identity, requiredSigners []id.Identity, now time.Time) (*Document, error) {
	if len(hash) == 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "content hash cannot be empty")
	}
	if storageID == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "storage id cannot be empty")
	}
	if creator.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "creator cannot be empty")
	}
	if receiver != nil {
		if receiver.IsZero() {
			receiver = nil
		} else {
			r := *receiver
			receiver = &r
		}
	}

	signers := strings.DedupeAndTrim(requiredSigners)
	if signers == nil {
		signers = []id.Identity{}
	}

	return &Document{
		ContentHash:         slices.Clone(hash),
		StorageID:           storageID,
		Creator:             creator,
		RegisteredAt:        now.UTC().Truncate(time.Second),
		Receiver:            receiver,
		RequiredSigners:     signers,
		CollectedSignatures: []id.Identity{},
		Completed:           false,
	}, nil
}

// IsRequiredSigner reports whether signer was enumerated at registration.
func (d *Document) IsRequiredSigner(signer id.Identity) bool {
	return slices.Contains(d.RequiredSigners, signer)
}

// HasSigned reports whether signer's signature was already collected.
func (d *Document) HasSigned(signer id.Identity) bool {
	return slices.Contains(d.CollectedSignatures, signer)
}

// AddSignature records signer. Membership is checked before duplication so a
// stranger is always told they are not a signer.
func (d *Document) AddSignature(signer id.Identity) error {
	if !d.IsRequiredSigner(signer) {
		return dErrors.New(dErrors.CodeUnauthorizedSigner, "caller is not a required signer of this document")
	}
	if d.HasSigned(signer) {
		return dErrors.New(dErrors.CodeAlreadySigned, "caller has already signed this document")
	}
	d.CollectedSignatures = append(d.CollectedSignatures, signer)
	return nil
}

// ReadyToComplete is true when every required signature is collected and the
// completion side effect has not fired yet. A document with no required
// signers is ready as soon as it exists.
func (d *Document) ReadyToComplete() bool {
	return !d.Completed && len(d.CollectedSignatures) == len(d.RequiredSigners)
}

func (d *Document) MarkCompleted() {
	d.Completed = true
}

// Remaining lists the required signers that have not signed yet, in
// registration order.
func (d *Document) Remaining() []id.Identity {
	remaining := make([]id.Identity, 0, len(d.RequiredSigners)-len(d.CollectedSignatures))
	for _, signer := range d.RequiredSigners {
		if !d.HasSigned(signer) {
			remaining = append(remaining, signer)
		}
	}
	return remaining
}

func (d *Document) Status() Status {
	switch {
	case d.Completed:
		return StatusCompleted
	case len(d.CollectedSignatures) == 0:
		return StatusAwaitingSignatures
	default:
		return StatusPartiallySigned
	}
}

// mintNamespace scopes MintKey so the keys cannot collide with other v5 UUIDs.
var mintNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("signet:mint"))

// MintKey identifies the completion mint of this registration. It is derived
// from the storage id and registration time, so every attempt for the same
// record carries the same key and a re-registration gets a new one.
func (d *Document) MintKey() string {
	name := string(d.StorageID) + "|" + strconv.FormatInt(d.RegisteredAt.Unix(), 10)
	return uuid.NewSHA1(mintNamespace, []byte(name)).String()
}

// Clone returns a deep copy so callers can mutate without aliasing stored
// state.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := *d
	out.ContentHash = slices.Clone(d.ContentHash)
	out.RequiredSigners = slices.Clone(d.RequiredSigners)
	out.CollectedSignatures = slices.Clone(d.CollectedSignatures)
	if d.Receiver != nil {
		r := *d.Receiver
		out.Receiver = &r
	}
	return &out
}
