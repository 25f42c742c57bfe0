// Package service implements the document workflow: registration, signature
// collection and the exactly-once completion mint.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	docmetrics "signet/internal/document/metrics"
	"signet/internal/document/models"
	"signet/internal/document/store"
	id "signet/pkg/domain"
	dErrors "signet/pkg/domain-errors"
	"signet/pkg/platform/sentinel"
	"signet/pkg/requestcontext"
)

// Authorizer proves that the current caller controls identity.
type Authorizer interface {
	Authorize(ctx context.Context, identity id.Identity) error
}

// Minter performs the completion side effect for a fully executed document.
// idempotencyKey is stable for a given registration, so a receiver can drop a
// repeated delivery of the same completion.
type Minter interface {
	Mint(ctx context.Context, recipient id.Identity, ref id.StorageID, idempotencyKey string) error
}

// DocumentStore is the persistence the engine writes through. Execute must run
// fn exactly once while the document key is held.
type DocumentStore interface {
	Execute(ctx context.Context, storageID id.StorageID, fn store.ExecuteFunc) (*models.Document, error)
	AppendOwner(ctx context.Context, owner id.Identity, storageID id.StorageID) error
	AppendReceiver(ctx context.Context, receiver id.Identity, storageID id.StorageID) error
}

// Clock supplies the registration timestamp.
type Clock func(ctx context.Context) time.Time

// ReregisterPolicy decides what registering an existing storage id does.
//
// The registration contract is an unconditional overwrite: a second Register
// for the same storage id replaces the record, collected signatures included.
// The default departs from that and rejects the second registration;
// ReregisterOverwrite restores the overwrite.
type ReregisterPolicy int

const (
	// ReregisterReject fails with a conflict and leaves the record untouched.
	// This is the default.
	ReregisterReject ReregisterPolicy = iota
	// ReregisterOverwrite replaces the record with a fresh one and appends the
	// storage id to the indices again.
	ReregisterOverwrite
)

// Service orchestrates the document lifecycle.
type Service struct {
	documents   DocumentStore
	authorizer  Authorizer
	minter      Minter
	clock       Clock
	reregister  ReregisterPolicy
	mintTimeout time.Duration
	logger      *slog.Logger
	metrics     *docmetrics.Metrics
	tracer      trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *docmetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithClock(clock Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func WithReregisterPolicy(policy ReregisterPolicy) Option {
	return func(s *Service) {
		s.reregister = policy
	}
}

// WithMintTimeout caps a single mint call. The store already ends the mint
// context before its key hold expires; this tightens it further.
func WithMintTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		s.mintTimeout = timeout
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// New constructs a Service. All three collaborators are required.
func New(documents DocumentStore, authorizer Authorizer, minter Minter, opts ...Option) (*Service, error) {
	if documents == nil {
		return nil, errors.New("document store is required")
	}
	if authorizer == nil {
		return nil, errors.New("authorizer is required")
	}
	if minter == nil {
		return nil, errors.New("minter is required")
	}
	s := &Service{
		documents:  documents,
		authorizer: authorizer,
		minter:     minter,
		clock:      requestcontext.Now,
		reregister: ReregisterReject,
		tracer:     otel.Tracer("signet/document"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RegisterCommand carries the inputs of a registration.
type RegisterCommand struct {
	ContentHash     id.ContentHash
	StorageID       id.StorageID
	Creator         id.Identity
	Receiver        *id.Identity
	RequiredSigners []id.Identity
}

func (c RegisterCommand) Validate() error {
	if len(c.ContentHash) == 0 {
		return dErrors.New(dErrors.CodeValidation, "content hash is required")
	}
	if c.StorageID == "" {
		return dErrors.New(dErrors.CodeValidation, "storage id is required")
	}
	if c.Creator.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "creator is required")
	}
	return nil
}

// Register records a new document and returns true on success.
func (s *Service) Register(ctx context.Context, cmd RegisterCommand) (bool, error) {
	if _, err := s.RegisterDocument(ctx, cmd); err != nil {
		return false, err
	}
	return true, nil
}

// RegisterDocument records a new document and returns the stored record.
//
// The creator is authorized once, before anything is written. A document with
// no required signers is complete on registration: the mint runs inside the
// same single-key step as the record write, and a mint failure writes nothing.
// Index appends follow the record write and are not atomic with it.
func (s *Service) RegisterDocument(ctx context.Context, cmd RegisterCommand) (doc *models.Document, err error) {
	ctx, span := s.startSpan(ctx, "document.Register", cmd.StorageID)
	start := time.Now()
	defer func() { s.finish(span, "register", start, err) }()

	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, cmd.Creator); err != nil {
		return nil, err
	}

	fresh, err := models.NewDocument(cmd.ContentHash, cmd.StorageID, cmd.Creator, cmd.Receiver, cmd.RequiredSigners, s.clock(ctx))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid document")
	}

	var overwritten, minted bool
	doc, err = s.documents.Execute(ctx, cmd.StorageID, func(holdCtx context.Context, current *models.Document) (*models.Document, error) {
		if current != nil {
			if s.reregister == ReregisterReject {
				return nil, dErrors.New(dErrors.CodeConflict, "document is already registered")
			}
			overwritten = true
		}
		next := fresh.Clone()
		if next.ReadyToComplete() {
			if err := s.mint(holdCtx, next); err != nil {
				return nil, err
			}
			next.MarkCompleted()
			minted = true
		}
		return next, nil
	})
	if err != nil {
		if minted {
			s.logMintedButNotPersisted(ctx, cmd.StorageID, err)
		}
		return nil, translateStoreErr(err, "failed to store document")
	}

	if err := s.documents.AppendOwner(ctx, doc.Creator, doc.StorageID); err != nil {
		s.logIndexFailure(ctx, "owner", doc.StorageID, err)
		return nil, translateStoreErr(err, "document stored but owner index update failed")
	}
	if doc.Receiver != nil {
		if err := s.documents.AppendReceiver(ctx, *doc.Receiver, doc.StorageID); err != nil {
			s.logIndexFailure(ctx, "receiver", doc.StorageID, err)
			return nil, translateStoreErr(err, "document stored but receiver index update failed")
		}
	}

	s.incrementRegistered()
	s.logAudit(ctx, "document_registered",
		"storage_id", doc.StorageID.String(),
		"creator", doc.Creator.String(),
		"required_signers", len(doc.RequiredSigners),
		"overwritten", overwritten,
	)
	if minted {
		s.recordCompleted(ctx, doc)
	}
	return doc, nil
}

// Sign records signer's approval of the document under storageID.
func (s *Service) Sign(ctx context.Context, storageID id.StorageID, signer id.Identity) error {
	_, err := s.SignDocument(ctx, storageID, signer)
	return err
}

// SignDocument records signer's approval and returns the updated record.
//
// Checks run in order: authorization, existence, membership, duplication. The
// signature that completes the set triggers the mint inside the same
// single-key step, so concurrent final signers cannot mint twice and a failed
// mint leaves the signature uncollected.
func (s *Service) SignDocument(ctx context.Context, storageID id.StorageID, signer id.Identity) (doc *models.Document, err error) {
	ctx, span := s.startSpan(ctx, "document.Sign", storageID)
	span.SetAttributes(attribute.String("document.signer", signer.String()))
	start := time.Now()
	defer func() { s.finish(span, "sign", start, err) }()

	if storageID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "storage id is required")
	}
	if err := s.authorize(ctx, signer); err != nil {
		return nil, err
	}

	var minted bool
	doc, err = s.documents.Execute(ctx, storageID, func(holdCtx context.Context, current *models.Document) (*models.Document, error) {
		if current == nil {
			return nil, dErrors.New(dErrors.CodeNotFound, "document not found")
		}
		if err := current.AddSignature(signer); err != nil {
			return nil, err
		}
		if current.ReadyToComplete() {
			if err := s.mint(holdCtx, current); err != nil {
				return nil, err
			}
			current.MarkCompleted()
			minted = true
		}
		return current, nil
	})
	if err != nil {
		if minted {
			s.logMintedButNotPersisted(ctx, storageID, err)
		}
		return nil, translateStoreErr(err, "failed to record signature")
	}

	s.incrementSignatures()
	s.logAudit(ctx, "document_signed",
		"storage_id", storageID.String(),
		"signer", signer.String(),
		"collected", len(doc.CollectedSignatures),
		"required", len(doc.RequiredSigners),
	)
	if minted {
		s.recordCompleted(ctx, doc)
	}
	return doc, nil
}

func (s *Service) authorize(ctx context.Context, identity id.Identity) error {
	if err := s.authorizer.Authorize(ctx, identity); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnauthorized, "caller is not authorized to act as "+identity.String())
	}
	return nil
}

// mint runs inside a store Execute step under the hold context; the caller
// marks completion only after it returns nil.
func (s *Service) mint(ctx context.Context, doc *models.Document) error {
	if s.mintTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.mintTimeout)
		defer cancel()
	}
	if err := s.minter.Mint(ctx, doc.Creator, doc.StorageID, doc.MintKey()); err != nil {
		s.incrementMintFailures()
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "mint failed",
				"storage_id", doc.StorageID.String(),
				"recipient", doc.Creator.String(),
				"request_id", requestcontext.RequestID(ctx),
				"error", err,
			)
		}
		s.logAudit(ctx, "mint_failed", "storage_id", doc.StorageID.String())
		return dErrors.Wrap(err, dErrors.CodeMintFailed, "failed to mint completion token")
	}
	return nil
}

func (s *Service) recordCompleted(ctx context.Context, doc *models.Document) {
	s.incrementCompleted()
	s.logAudit(ctx, "document_completed",
		"storage_id", doc.StorageID.String(),
		"recipient", doc.Creator.String(),
	)
}

// translateStoreErr keeps coded errors and maps infrastructure sentinels onto
// the domain taxonomy.
func translateStoreErr(err error, msg string) error {
	if _, ok := dErrors.CodeOf(err); ok {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "document not found")
	case errors.Is(err, sentinel.ErrUnavailable), errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "document store is busy, try again")
	case errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, msg)
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}

func (s *Service) startSpan(ctx context.Context, name string, storageID id.StorageID) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("document.storage_id", storageID.String())))
}

func (s *Service) finish(span trace.Span, operation string, start time.Time, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	if s.metrics != nil {
		s.metrics.ObserveOperation(operation, start, err)
	}
}

func (s *Service) logMintedButNotPersisted(ctx context.Context, storageID id.StorageID, err error) {
	if s.logger == nil {
		return
	}
	s.logger.ErrorContext(ctx, "CRITICAL: token minted but document write failed",
		"storage_id", storageID.String(),
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
}

func (s *Service) logIndexFailure(ctx context.Context, index string, storageID id.StorageID, err error) {
	if s.logger == nil {
		return
	}
	s.logger.ErrorContext(ctx, "document stored without index entry",
		"index", index,
		"storage_id", storageID.String(),
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
}

func (s *Service) logAudit(ctx context.Context, event string, attributes ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", event, "log_type", "audit")
	if s.logger != nil {
		s.logger.InfoContext(ctx, event, args...)
	}
}

func (s *Service) incrementRegistered() {
	if s.metrics != nil {
		s.metrics.IncrementRegistered()
	}
}

func (s *Service) incrementSignatures() {
	if s.metrics != nil {
		s.metrics.IncrementSignatures()
	}
}

func (s *Service) incrementCompleted() {
	if s.metrics != nil {
		s.metrics.IncrementCompleted()
	}
}

func (s *Service) incrementMintFailures() {
	if s.metrics != nil {
		s.metrics.IncrementMintFailures()
	}
}
