// Package store persists documents and the per-identity owner and receiver
// indices over the flat kv port.
//
// Layout:
//
//	document:<storageID>       CBOR record
//	owner_docs:<identity>      CBOR array of storage ids, append-only
//	receiver_docs:<identity>   CBOR array of storage ids, append-only
//
// Every key is written independently; there is no atomicity across keys.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"signet/internal/document/models"
	"signet/internal/kv"
	id "signet/pkg/domain"
	"signet/pkg/platform/codec"
	"signet/pkg/platform/sentinel"
)

const (
	documentPrefix      = "document:"
	ownerIndexPrefix    = "owner_docs:"
	receiverIndexPrefix = "receiver_docs:"
)

// ExecuteFunc receives the current document (nil when absent) and returns the
// document to persist. Returning an error aborts without writing. ctx ends
// before the key hold does; side effects inside fn must run under it.
type ExecuteFunc func(ctx context.Context, current *models.Document) (*models.Document, error)

// Store is the document store.
type Store struct {
	kv kv.Store
}

func New(backend kv.Store) *Store {
	return &Store{kv: backend}
}

// DocumentKey is the key a document record lives under.
func DocumentKey(storageID id.StorageID) string {
	return documentPrefix + string(storageID)
}

// OwnerIndexKey is the key of an owner's append-only document index.
func OwnerIndexKey(owner id.Identity) string {
	return ownerIndexPrefix + string(owner)
}

// ReceiverIndexKey is the key of a receiver's append-only document index.
func ReceiverIndexKey(receiver id.Identity) string {
	return receiverIndexPrefix + string(receiver)
}

// Find returns sentinel.ErrNotFound when no record exists for storageID.
func (s *Store) Find(ctx context.Context, storageID id.StorageID) (*models.Document, error) {
	raw, err := s.kv.Get(ctx, DocumentKey(storageID))
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find document %s: %w", storageID, err)
	}
	return decodeDocument(raw)
}

// Execute runs fn against the current record while the document key is held and
// persists what fn returns in a single write. fn runs exactly once.
func (s *Store) Execute(ctx context.Context, storageID id.StorageID, fn ExecuteFunc) (*models.Document, error) {
	var result *models.Document
	err := s.kv.Update(ctx, DocumentKey(storageID), func(ctx context.Context, raw []byte, found bool) ([]byte, error) {
		var current *models.Document
		if found {
			doc, err := decodeDocument(raw)
			if err != nil {
				return nil, err
			}
			current = doc
		}

		next, err := fn(ctx, current)
		if err != nil {
			return nil, err
		}
		if next == nil || next.StorageID != storageID {
			return nil, fmt.Errorf("execute %s: %w", storageID, sentinel.ErrInvalidState)
		}
		encoded, err := encodeDocument(next)
		if err != nil {
			return nil, err
		}
		result = next
		return encoded, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) AppendOwner(ctx context.Context, owner id.Identity, storageID id.StorageID) error {
	return s.appendIndex(ctx, OwnerIndexKey(owner), storageID)
}

func (s *Store) AppendReceiver(ctx context.Context, receiver id.Identity, storageID id.StorageID) error {
	return s.appendIndex(ctx, ReceiverIndexKey(receiver), storageID)
}

// OwnerIndex returns the storage ids registered by owner in registration order.
// An identity that never registered has an empty index.
func (s *Store) OwnerIndex(ctx context.Context, owner id.Identity) ([]id.StorageID, error) {
	return s.readIndex(ctx, OwnerIndexKey(owner))
}

func (s *Store) ReceiverIndex(ctx context.Context, receiver id.Identity) ([]id.StorageID, error) {
	return s.readIndex(ctx, ReceiverIndexKey(receiver))
}

func (s *Store) appendIndex(ctx context.Context, key string, storageID id.StorageID) error {
	err := s.kv.Update(ctx, key, func(_ context.Context, raw []byte, found bool) ([]byte, error) {
		var ids []string
		if found {
			if err := codec.Unmarshal(raw, &ids); err != nil {
				return nil, fmt.Errorf("decode index %s: %w", key, err)
			}
		}
		return codec.Marshal(append(ids, string(storageID)))
	})
	if err != nil {
		return fmt.Errorf("append index %s: %w", key, err)
	}
	return nil
}

func (s *Store) readIndex(ctx context.Context, key string) ([]id.StorageID, error) {
	raw, err := s.kv.Get(ctx, key)
	if errors.Is(err, sentinel.ErrNotFound) {
		return []id.StorageID{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read index %s: %w", key, err)
	}
	var ids []string
	if err := codec.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("decode index %s: %w", key, err)
	}
	out := make([]id.StorageID, len(ids))
	for i, v := range ids {
		out[i] = id.StorageID(v)
	}
	return out, nil
}

// documentRecord is the persisted shape of a document. Integer keys keep the
// encoding compact and stable across field renames.
type documentRecord struct {
	ContentHash         []byte   `cbor:"1,keyasint"`
	StorageID           string   `cbor:"2,keyasint"`
	Creator             string   `cbor:"3,keyasint"`
	RegisteredAt        int64    `cbor:"4,keyasint"`
	Receiver            *string  `cbor:"5,keyasint,omitempty"`
	RequiredSigners     []string `cbor:"6,keyasint"`
	CollectedSignatures []string `cbor:"7,keyasint"`
	Completed           bool     `cbor:"8,keyasint"`
}

func encodeDocument(doc *models.Document) ([]byte, error) {
	rec := documentRecord{
		ContentHash:         doc.ContentHash,
		StorageID:           string(doc.StorageID),
		Creator:             string(doc.Creator),
		RegisteredAt:        doc.RegisteredAt.Unix(),
		RequiredSigners:     identitiesToStrings(doc.RequiredSigners),
		CollectedSignatures: identitiesToStrings(doc.CollectedSignatures),
		Completed:           doc.Completed,
	}
	if doc.Receiver != nil {
		r := string(*doc.Receiver)
		rec.Receiver = &r
	}
	raw, err := codec.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode document %s: %w", doc.StorageID, err)
	}
	return raw, nil
}

func decodeDocument(raw []byte) (*models.Document, error) {
	var rec documentRecord
	if err := codec.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	doc := &models.Document{
		ContentHash:         id.ContentHash(rec.ContentHash),
		StorageID:           id.StorageID(rec.StorageID),
		Creator:             id.Identity(rec.Creator),
		RegisteredAt:        time.Unix(rec.RegisteredAt, 0).UTC(),
		RequiredSigners:     stringsToIdentities(rec.RequiredSigners),
		CollectedSignatures: stringsToIdentities(rec.CollectedSignatures),
		Completed:           rec.Completed,
	}
	if rec.Receiver != nil {
		r := id.Identity(*rec.Receiver)
		doc.Receiver = &r
	}
	return doc, nil
}

func identitiesToStrings(ids []id.Identity) []string {
	out := make([]string, len(ids))
	for i, v := range ids {
		out[i] = string(v)
	}
	return out
}

func stringsToIdentities(values []string) []id.Identity {
	out := make([]id.Identity, len(values))
	for i, v := range values {
		out[i] = id.Identity(v)
	}
	return out
}
