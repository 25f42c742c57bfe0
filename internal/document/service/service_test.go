package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Authorizer,Minter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	docmetrics "signet/internal/document/metrics"
	"signet/internal/document/models"
	"signet/internal/document/service/mocks"
	"signet/internal/document/store"
	"signet/internal/kv"
	id "signet/pkg/domain"
	dErrors "signet/pkg/domain-errors"
	"signet/pkg/platform/sentinel"
)

// =============================================================================
// Document Service Test Suite
// =============================================================================

var fixedNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

type ServiceSuite struct {
	suite.Suite
	ctrl       *gomock.Controller
	authorizer *mocks.MockAuthorizer
	minter     *mocks.MockMinter
	kv         *kv.InMemory
	store      *store.Store
	metrics    *docmetrics.Metrics
	service    *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.authorizer = mocks.NewMockAuthorizer(s.ctrl)
	s.minter = mocks.NewMockMinter(s.ctrl)
	s.kv = kv.NewInMemory()
	s.store = store.New(s.kv)
	s.metrics = docmetrics.New(prometheus.NewRegistry())
	s.service = s.newService()
}

func (s *ServiceSuite) newService(opts ...Option) *Service {
	base := []Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(s.metrics),
		WithClock(func(context.Context) time.Time { return fixedNow }),
	}
	svc, err := New(s.store, s.authorizer, s.minter, append(base, opts...)...)
	s.Require().NoError(err)
	return svc
}

func (s *ServiceSuite) allowAll() {
	s.authorizer.EXPECT().Authorize(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
}

func registerCmd(storageID id.StorageID, receiver *id.Identity, signers ...id.Identity) RegisterCommand {
	return RegisterCommand{
		ContentHash:     id.ContentHash{0xca, 0xfe},
		StorageID:       storageID,
		Creator:         "alice",
		Receiver:        receiver,
		RequiredSigners: signers,
	}
}

func (s *ServiceSuite) mustRegister(cmd RegisterCommand) {
	ok, err := s.service.Register(context.Background(), cmd)
	s.Require().NoError(err)
	s.Require().True(ok)
}

func (s *ServiceSuite) find(storageID id.StorageID) *models.Document {
	doc, err := s.store.Find(context.Background(), storageID)
	s.Require().NoError(err)
	return doc
}

func ptr(i id.Identity) *id.Identity { return &i }

// =============================================================================
// Constructor Tests
// =============================================================================

func (s *ServiceSuite) TestNew() {
	s.Run("nil store", func() {
		_, err := New(nil, s.authorizer, s.minter)
		s.ErrorContains(err, "document store is required")
	})
	s.Run("nil authorizer", func() {
		_, err := New(s.store, nil, s.minter)
		s.ErrorContains(err, "authorizer is required")
	})
	s.Run("nil minter", func() {
		_, err := New(s.store, s.authorizer, nil)
		s.ErrorContains(err, "minter is required")
	})
}

// =============================================================================
// Authorization Gate
// =============================================================================

func (s *ServiceSuite) TestRegisterRequiresCreatorAuthorization() {
	ctx := context.Background()
	s.authorizer.EXPECT().Authorize(gomock.Any(), id.Identity("alice")).
		Return(errors.New("caller is bob")).Times(1)

	ok, err := s.service.Register(ctx, registerCmd("bafy-1", ptr("carol"), "bob"))
	s.False(ok)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	s.Empty(s.kv.Keys(), "nothing may be written")
}

func (s *ServiceSuite) TestSignRequiresSignerAuthorization() {
	ctx := context.Background()
	s.authorizer.EXPECT().Authorize(gomock.Any(), id.Identity("alice")).Return(nil)
	s.mustRegister(registerCmd("bafy-1", nil, "bob"))
	before := s.kv.Keys()

	s.authorizer.EXPECT().Authorize(gomock.Any(), id.Identity("bob")).
		Return(errors.New("no proof")).Times(1)

	err := s.service.Sign(ctx, "bafy-1", "bob")
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	s.Equal(before, s.kv.Keys())
	s.Empty(s.find("bafy-1").CollectedSignatures)
}

func (s *ServiceSuite) TestAuthorizationPrecedesExistenceCheck() {
	s.authorizer.EXPECT().Authorize(gomock.Any(), id.Identity("bob")).Return(errors.New("no proof"))

	err := s.service.Sign(context.Background(), "missing", "bob")
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

// =============================================================================
// Registration
// =============================================================================

func (s *ServiceSuite) TestRegisterPersistsRecordAndIndices() {
	s.allowAll()
	ctx := context.Background()

	s.mustRegister(registerCmd("bafy-1", ptr("carol"), "bob", "dave"))

	doc := s.find("bafy-1")
	s.Equal(id.ContentHash{0xca, 0xfe}, doc.ContentHash)
	s.Equal(id.Identity("alice"), doc.Creator)
	s.Equal(fixedNow, doc.RegisteredAt)
	s.Require().NotNil(doc.Receiver)
	s.Equal(id.Identity("carol"), *doc.Receiver)
	s.Equal([]id.Identity{"bob", "dave"}, doc.RequiredSigners)
	s.Empty(doc.CollectedSignatures)
	s.False(doc.Completed)

	owned, err := s.store.OwnerIndex(ctx, "alice")
	s.Require().NoError(err)
	s.Equal([]id.StorageID{"bafy-1"}, owned)

	received, err := s.store.ReceiverIndex(ctx, "carol")
	s.Require().NoError(err)
	s.Equal([]id.StorageID{"bafy-1"}, received)

	s.Equal(float64(1), testutil.ToFloat64(s.metrics.DocumentsRegistered))
}

func (s *ServiceSuite) TestRegisterWithoutReceiverSkipsReceiverIndex() {
	s.allowAll()
	s.minter.EXPECT().Mint(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
	s.mustRegister(registerCmd("bafy-1", nil, "bob"))

	s.Equal([]string{"document:bafy-1", "owner_docs:alice"}, s.kv.Keys())
}

func (s *ServiceSuite) TestRegisterValidatesCommand() {
	cmd := registerCmd("bafy-1", nil)
	cmd.ContentHash = nil

	_, err := s.service.Register(context.Background(), cmd)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.Empty(s.kv.Keys())
}

func (s *ServiceSuite) TestRegisterDeduplicatesRequiredSigners() {
	s.allowAll()
	s.mustRegister(registerCmd("bafy-1", nil, "bob", "bob", " dave"))
	s.Equal([]id.Identity{"bob", "dave"}, s.find("bafy-1").RequiredSigners)
}

func (s *ServiceSuite) TestReregistrationRejectedByDefault() {
	s.allowAll()
	ctx := context.Background()
	s.mustRegister(registerCmd("bafy-1", nil, "bob", "dave"))
	s.Require().NoError(s.service.Sign(ctx, "bafy-1", "bob"))

	_, err := s.service.Register(ctx, registerCmd("bafy-1", nil, "erin"))
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	doc := s.find("bafy-1")
	s.Equal([]id.Identity{"bob"}, doc.CollectedSignatures, "collected signatures survive")
	owned, err := s.store.OwnerIndex(ctx, "alice")
	s.Require().NoError(err)
	s.Len(owned, 1)
}

func (s *ServiceSuite) TestReregistrationOverwritePolicy() {
	s.allowAll()
	ctx := context.Background()
	s.service = s.newService(WithReregisterPolicy(ReregisterOverwrite))
	s.mustRegister(registerCmd("bafy-1", nil, "bob", "dave"))
	s.Require().NoError(s.service.Sign(ctx, "bafy-1", "bob"))

	s.mustRegister(registerCmd("bafy-1", nil, "erin"))

	doc := s.find("bafy-1")
	s.Equal([]id.Identity{"erin"}, doc.RequiredSigners)
	s.Empty(doc.CollectedSignatures, "fresh record replaces the old one")

	owned, err := s.store.OwnerIndex(ctx, "alice")
	s.Require().NoError(err)
	s.Equal([]id.StorageID{"bafy-1", "bafy-1"}, owned, "indices are not deduplicated")
}

// =============================================================================
// Signing
// =============================================================================

func (s *ServiceSuite) TestSignMissingDocument() {
	s.allowAll()
	err := s.service.Sign(context.Background(), "missing", "bob")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	s.Empty(s.kv.Keys())
}

func (s *ServiceSuite) TestUnauthorizedSignerRejectedRegardlessOfOrder() {
	s.allowAll()
	ctx := context.Background()
	s.mustRegister(registerCmd("bafy-1", nil, "bob", "dave"))

	err := s.service.Sign(ctx, "bafy-1", "mallory")
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorizedSigner))

	s.Require().NoError(s.service.Sign(ctx, "bafy-1", "bob"))
	err = s.service.Sign(ctx, "bafy-1", "mallory")
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorizedSigner))

	s.Equal([]id.Identity{"bob"}, s.find("bafy-1").CollectedSignatures)
}

func (s *ServiceSuite) TestNoDoubleSigning() {
	s.allowAll()
	ctx := context.Background()
	s.mustRegister(registerCmd("bafy-1", nil, "bob", "dave"))
	s.Require().NoError(s.service.Sign(ctx, "bafy-1", "bob"))

	err := s.service.Sign(ctx, "bafy-1", "bob")
	s.True(dErrors.HasCode(err, dErrors.CodeAlreadySigned))
	s.Equal([]id.Identity{"bob"}, s.find("bafy-1").CollectedSignatures)
}

func (s *ServiceSuite) TestSignOnCompletedDocumentIsAlreadySigned() {
	s.allowAll()
	ctx := context.Background()
	s.minter.EXPECT().Mint(gomock.Any(), id.Identity("alice"), id.StorageID("bafy-1"), gomock.Any()).Return(nil).Times(1)
	s.mustRegister(registerCmd("bafy-1", nil, "bob"))
	s.Require().NoError(s.service.Sign(ctx, "bafy-1", "bob"))

	err := s.service.Sign(ctx, "bafy-1", "bob")
	s.True(dErrors.HasCode(err, dErrors.CodeAlreadySigned))
}

// =============================================================================
// Completion and Minting
// =============================================================================

func (s *ServiceSuite) TestCompletionByExhaustion() {
	s.allowAll()
	ctx := context.Background()
	s.mustRegister(registerCmd("bafy-1", ptr("carol"), "bob", "dave"))

	s.Require().NoError(s.service.Sign(ctx, "bafy-1", "bob"))
	doc := s.find("bafy-1")
	s.False(doc.Completed)
	s.Equal(models.StatusPartiallySigned, doc.Status())

	s.minter.EXPECT().Mint(gomock.Any(), id.Identity("alice"), id.StorageID("bafy-1"), gomock.Any()).Return(nil).Times(1)
	s.Require().NoError(s.service.Sign(ctx, "bafy-1", "dave"))

	doc = s.find("bafy-1")
	s.True(doc.Completed)
	s.Equal([]id.Identity{"bob", "dave"}, doc.CollectedSignatures)
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.DocumentsCompleted))
	s.Equal(float64(2), testutil.ToFloat64(s.metrics.SignaturesCollected))
}

func (s *ServiceSuite) TestZeroSignerImmediateCompletion() {
	s.allowAll()
	s.minter.EXPECT().Mint(gomock.Any(), id.Identity("alice"), id.StorageID("bafy-1"), gomock.Any()).Return(nil).Times(1)

	s.mustRegister(registerCmd("bafy-1", nil))

	doc := s.find("bafy-1")
	s.True(doc.Completed)
	s.Equal(models.StatusCompleted, doc.Status())
}

func (s *ServiceSuite) TestZeroSignerMintFailureWritesNothing() {
	s.allowAll()
	s.minter.EXPECT().Mint(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("chain down")).Times(1)

	ok, err := s.service.Register(context.Background(), registerCmd("bafy-1", ptr("carol")))
	s.False(ok)
	s.True(dErrors.HasCode(err, dErrors.CodeMintFailed))
	s.Empty(s.kv.Keys())
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.MintFailures))
}

func (s *ServiceSuite) TestFinalSignatureMintFailureRollsBackSignature() {
	s.allowAll()
	ctx := context.Background()
	s.mustRegister(registerCmd("bafy-1", nil, "bob", "dave"))
	s.Require().NoError(s.service.Sign(ctx, "bafy-1", "bob"))

	s.minter.EXPECT().Mint(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("chain down")).Times(1)
	err := s.service.Sign(ctx, "bafy-1", "dave")
	s.True(dErrors.HasCode(err, dErrors.CodeMintFailed))

	doc := s.find("bafy-1")
	s.False(doc.Completed)
	s.Equal([]id.Identity{"bob"}, doc.CollectedSignatures, "final signature is not persisted")

	// The signer can retry once the minter recovers, and the mint fires then.
	s.minter.EXPECT().Mint(gomock.Any(), id.Identity("alice"), id.StorageID("bafy-1"), gomock.Any()).Return(nil).Times(1)
	s.Require().NoError(s.service.Sign(ctx, "bafy-1", "dave"))
	s.True(s.find("bafy-1").Completed)
}

func (s *ServiceSuite) TestRetriedMintReusesIdempotencyKey() {
	s.allowAll()
	ctx := context.Background()
	s.mustRegister(registerCmd("bafy-1", nil, "bob"))

	var keys []string
	record := func(_ context.Context, _ id.Identity, _ id.StorageID, key string) {
		keys = append(keys, key)
	}
	gomock.InOrder(
		s.minter.EXPECT().Mint(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Do(record).Return(errors.New("timeout")),
		s.minter.EXPECT().Mint(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Do(record).Return(nil),
	)

	s.Error(s.service.Sign(ctx, "bafy-1", "bob"))
	s.Require().NoError(s.service.Sign(ctx, "bafy-1", "bob"))

	s.Require().Len(keys, 2)
	s.Equal(keys[0], keys[1])
	s.Equal(s.find("bafy-1").MintKey(), keys[0])
}

func (s *ServiceSuite) TestMintRunsUnderBoundedContext() {
	s.allowAll()
	svc := s.newService(WithMintTimeout(50 * time.Millisecond))
	s.minter.EXPECT().Mint(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ id.Identity, _ id.StorageID, _ string) error {
			_, ok := ctx.Deadline()
			s.True(ok, "mint context carries a deadline")
			<-ctx.Done()
			return ctx.Err()
		})

	_, err := svc.Register(context.Background(), registerCmd("bafy-1", nil))
	s.True(dErrors.HasCode(err, dErrors.CodeMintFailed))
	s.Empty(s.kv.Keys())
}

func (s *ServiceSuite) TestAtMostOnceMintUnderConcurrentFinalSigners() {
	s.allowAll()
	ctx := context.Background()
	signers := []id.Identity{"s1", "s2", "s3", "s4", "s5", "s6", "s7", "s8"}
	s.mustRegister(registerCmd("bafy-1", nil, signers...))

	s.minter.EXPECT().Mint(gomock.Any(), id.Identity("alice"), id.StorageID("bafy-1"), gomock.Any()).Return(nil).Times(1)

	var wg sync.WaitGroup
	for _, signer := range signers {
		wg.Add(1)
		go func(signer id.Identity) {
			defer wg.Done()
			s.NoError(s.service.Sign(ctx, "bafy-1", signer))
		}(signer)
	}
	wg.Wait()

	doc := s.find("bafy-1")
	s.True(doc.Completed)
	s.ElementsMatch(signers, doc.CollectedSignatures)
}

func (s *ServiceSuite) TestConcurrentDuplicateSignaturesCollectOnce() {
	s.allowAll()
	ctx := context.Background()
	s.mustRegister(registerCmd("bafy-1", nil, "bob", "dave"))

	var wg sync.WaitGroup
	var mu sync.Mutex
	var succeeded, already int
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.service.Sign(ctx, "bafy-1", "bob")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case dErrors.HasCode(err, dErrors.CodeAlreadySigned):
				already++
			}
		}()
	}
	wg.Wait()

	s.Equal(1, succeeded)
	s.Equal(9, already)
	s.Equal([]id.Identity{"bob"}, s.find("bafy-1").CollectedSignatures)
}

// =============================================================================
// Infrastructure Error Translation
// =============================================================================

type failingStore struct {
	executeErr error
	appendErr  error
}

func (f *failingStore) Execute(ctx context.Context, _ id.StorageID, fn store.ExecuteFunc) (*models.Document, error) {
	if f.executeErr != nil {
		return nil, f.executeErr
	}
	return fn(ctx, nil)
}

func (f *failingStore) AppendOwner(context.Context, id.Identity, id.StorageID) error {
	return f.appendErr
}

func (f *failingStore) AppendReceiver(context.Context, id.Identity, id.StorageID) error {
	return f.appendErr
}

func (s *ServiceSuite) TestStoreErrorsAreTranslated() {
	s.allowAll()
	ctx := context.Background()

	tests := []struct {
		name  string
		store *failingStore
		code  dErrors.Code
	}{
		{name: "lease contention", store: &failingStore{executeErr: sentinel.ErrUnavailable}, code: dErrors.CodeUnavailable},
		{name: "backend failure", store: &failingStore{executeErr: errors.New("conn reset")}, code: dErrors.CodeInternal},
		{name: "index append failure", store: &failingStore{appendErr: errors.New("conn reset")}, code: dErrors.CodeInternal},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			svc, err := New(tt.store, s.authorizer, s.minter)
			s.Require().NoError(err)
			_, err = svc.Register(ctx, registerCmd("bafy-1", nil, "bob"))
			s.True(dErrors.HasCode(err, tt.code), "got %v", err)
		})
	}
}
