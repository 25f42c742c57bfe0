package payload

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"signet/internal/document/models"
	id "signet/pkg/domain"
	dErrors "signet/pkg/domain-errors"
	"signet/pkg/platform/sentinel"
	"signet/pkg/requestcontext"
)

// DocumentLookup resolves the registered document a payload belongs to.
type DocumentLookup interface {
	GetDocument(ctx context.Context, storageID id.StorageID) (*models.Document, bool, error)
}

// Authorizer proves the caller controls an identity.
type Authorizer interface {
	Authorize(ctx context.Context, identity id.Identity) error
}

// Service gates payload uploads on document ownership.
type Service struct {
	store      Store
	documents  DocumentLookup
	authorizer Authorizer
	logger     *slog.Logger
}

func NewService(store Store, documents DocumentLookup, authorizer Authorizer, logger *slog.Logger) *Service {
	return &Service{store: store, documents: documents, authorizer: authorizer, logger: logger}
}

// Upload stores the payload of a registered document. Only its creator may
// upload, and a later upload replaces the earlier one.
func (s *Service) Upload(ctx context.Context, ref id.StorageID, body io.Reader, size int64, contentType string) error {
	doc, found, err := s.documents.GetDocument(ctx, ref)
	if err != nil {
		return err
	}
	if !found {
		return dErrors.New(dErrors.CodeNotFound, "document not found")
	}
	if err := s.authorizer.Authorize(ctx, doc.Creator); err != nil {
		return dErrors.Wrap(err, dErrors.CodeForbidden, "only the document creator may upload its payload")
	}
	if err := s.store.Put(ctx, ref, body, size, contentType); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store payload")
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "payload_uploaded",
			"event", "payload_uploaded",
			"log_type", "audit",
			"storage_id", ref.String(),
			"size", size,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	return nil
}

// Download returns the stored payload for ref.
func (s *Service) Download(ctx context.Context, ref id.StorageID) (*Object, error) {
	obj, err := s.store.Get(ctx, ref)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "payload not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load payload")
	}
	return obj, nil
}
