// Package query provides the read-only projections over stored documents.
// Nothing here requires authorization.
package query

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"signet/internal/document/models"
	id "signet/pkg/domain"
	dErrors "signet/pkg/domain-errors"
	"signet/pkg/platform/sentinel"
	"signet/pkg/requestcontext"
)

const defaultFanOut = 8

// DocumentReader is the read side of the document store.
type DocumentReader interface {
	Find(ctx context.Context, storageID id.StorageID) (*models.Document, error)
	OwnerIndex(ctx context.Context, owner id.Identity) ([]id.StorageID, error)
	ReceiverIndex(ctx context.Context, receiver id.Identity) ([]id.StorageID, error)
}

type Service struct {
	documents DocumentReader
	fanOut    int
	logger    *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithFanOut bounds how many records a list query loads concurrently.
func WithFanOut(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.fanOut = n
		}
	}
}

func New(documents DocumentReader, opts ...Option) (*Service, error) {
	if documents == nil {
		return nil, errors.New("document reader is required")
	}
	s := &Service{documents: documents, fanOut: defaultFanOut}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// GetDocument returns the record under storageID. found is false when there is
// none; absence is not an error.
func (s *Service) GetDocument(ctx context.Context, storageID id.StorageID) (doc *models.Document, found bool, err error) {
	doc, err = s.documents.Find(ctx, storageID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load document")
	}
	return doc, true, nil
}

// VerifyDocument reports whether a record exists under storageID with exactly
// the candidate hash. A missing record and a mismatch both yield false.
func (s *Service) VerifyDocument(ctx context.Context, storageID id.StorageID, candidate id.ContentHash) (bool, error) {
	doc, found, err := s.GetDocument(ctx, storageID)
	if err != nil || !found {
		return false, err
	}
	return doc.ContentHash.Equal(candidate), nil
}

// GetDocumentsByOwner returns the owner's documents in index order. Index
// entries whose record no longer resolves are dropped.
func (s *Service) GetDocumentsByOwner(ctx context.Context, owner id.Identity) ([]*models.Document, error) {
	ids, err := s.documents.OwnerIndex(ctx, owner)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read owner index")
	}
	return s.resolve(ctx, ids)
}

// GetDocumentsReceivedBy is GetDocumentsByOwner over the receiver index.
func (s *Service) GetDocumentsReceivedBy(ctx context.Context, receiver id.Identity) ([]*models.Document, error) {
	ids, err := s.documents.ReceiverIndex(ctx, receiver)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read receiver index")
	}
	return s.resolve(ctx, ids)
}

// GetDocumentCount is the raw length of the owner index. It counts duplicates
// and stale entries, so it can exceed len(GetDocumentsByOwner).
func (s *Service) GetDocumentCount(ctx context.Context, owner id.Identity) (int, error) {
	ids, err := s.documents.OwnerIndex(ctx, owner)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read owner index")
	}
	return len(ids), nil
}

func (s *Service) resolve(ctx context.Context, ids []id.StorageID) ([]*models.Document, error) {
	slots := make([]*models.Document, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanOut)
	for i, storageID := range ids {
		g.Go(func() error {
			doc, found, err := s.GetDocument(gctx, storageID)
			if err != nil {
				return err
			}
			if found {
				slots[i] = doc
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	docs := make([]*models.Document, 0, len(ids))
	var dropped int
	for _, doc := range slots {
		if doc == nil {
			dropped++
			continue
		}
		docs = append(docs, doc)
	}
	if dropped > 0 && s.logger != nil {
		s.logger.WarnContext(ctx, "index entries without backing record",
			"dropped", dropped,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	return docs, nil
}
