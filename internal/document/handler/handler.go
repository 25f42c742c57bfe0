package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"signet/internal/document/models"
	"signet/internal/document/service"
	id "signet/pkg/domain"
	dErrors "signet/pkg/domain-errors"
	"signet/pkg/platform/httputil"
	"signet/pkg/requestcontext"
)

// Workflow is the mutating side of the document engine.
type Workflow interface {
	RegisterDocument(ctx context.Context, cmd service.RegisterCommand) (*models.Document, error)
	SignDocument(ctx context.Context, storageID id.StorageID, signer id.Identity) (*models.Document, error)
}

// Queries is the read-only document facade.
type Queries interface {
	GetDocument(ctx context.Context, storageID id.StorageID) (*models.Document, bool, error)
	VerifyDocument(ctx context.Context, storageID id.StorageID, candidate id.ContentHash) (bool, error)
	GetDocumentsByOwner(ctx context.Context, owner id.Identity) ([]*models.Document, error)
	GetDocumentsReceivedBy(ctx context.Context, receiver id.Identity) ([]*models.Document, error)
	GetDocumentCount(ctx context.Context, owner id.Identity) (int, error)
}

// Handler serves the document endpoints.
type Handler struct {
	workflow Workflow
	queries  Queries
	logger   *slog.Logger
}

func New(workflow Workflow, queries Queries, logger *slog.Logger) *Handler {
	return &Handler{workflow: workflow, queries: queries, logger: logger}
}

// Register mounts the document routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/documents", h.HandleRegister)
	r.Get("/documents/{storageID}", h.HandleGet)
	r.Post("/documents/{storageID}/signatures", h.HandleSign)
	r.Post("/documents/{storageID}/verify", h.HandleVerify)
	r.Get("/owners/{identity}/documents", h.HandleListByOwner)
	r.Get("/owners/{identity}/documents/count", h.HandleCountByOwner)
	r.Get("/receivers/{identity}/documents", h.HandleListByReceiver)
}

// HandleRegister registers a document on behalf of the authenticated creator.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[RegisterRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	caller, _ := requestcontext.Caller(ctx)

	doc, err := h.workflow.RegisterDocument(ctx, req.Command(caller))
	if err != nil {
		h.fail(ctx, w, "failed to register document", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, &RegisterResponse{
		Registered: true,
		Document:   toDocumentResponse(doc),
	})
}

// HandleSign records the signer's approval. With no body the signer is the
// authenticated caller.
func (h *Handler) HandleSign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	storageID, err := storageIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	signer, _ := requestcontext.Caller(ctx)
	var req SignRequest
	if err := decodeOptional(r, &req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid JSON body"))
		return
	}
	if strings.TrimSpace(req.Signer) != "" {
		signer, err = id.ParseIdentity(strings.TrimSpace(req.Signer))
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
	}

	doc, err := h.workflow.SignDocument(ctx, storageID, signer)
	if err != nil {
		h.fail(ctx, w, "failed to sign document", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toDocumentResponse(doc))
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	storageID, err := storageIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	doc, found, err := h.queries.GetDocument(ctx, storageID)
	if err != nil {
		h.fail(ctx, w, "failed to get document", err)
		return
	}
	if !found {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "document not found"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toDocumentResponse(doc))
}

// HandleVerify answers whether the candidate hash matches the registered one.
// An unknown storage id is reported as invalid, not as missing.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	storageID, err := storageIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[VerifyRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	valid, err := h.queries.VerifyDocument(ctx, storageID, req.hash)
	if err != nil {
		h.fail(ctx, w, "failed to verify document", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &VerifyResponse{Valid: valid})
}

func (h *Handler) HandleListByOwner(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.queries.GetDocumentsByOwner)
}

func (h *Handler) HandleListByReceiver(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.queries.GetDocumentsReceivedBy)
}

func (h *Handler) HandleCountByOwner(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner, err := identityParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	count, err := h.queries.GetDocumentCount(ctx, owner)
	if err != nil {
		h.fail(ctx, w, "failed to count documents", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &CountResponse{Count: count})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request, fetch func(context.Context, id.Identity) ([]*models.Document, error)) {
	ctx := r.Context()
	identity, err := identityParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	docs, err := fetch(ctx, identity)
	if err != nil {
		h.fail(ctx, w, "failed to list documents", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toDocumentListResponse(docs))
}

// fail logs at error level only for failures that are not the caller's fault.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	if h.logger != nil {
		code, _ := dErrors.CodeOf(err)
		level := slog.LevelWarn
		if httputil.StatusFor(code) >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		h.logger.Log(ctx, level, msg,
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
	}
	httputil.WriteError(w, err)
}

func storageIDParam(r *http.Request) (id.StorageID, error) {
	raw, err := url.PathUnescape(chi.URLParam(r, "storageID"))
	if err != nil {
		return "", dErrors.New(dErrors.CodeBadRequest, "malformed storage id")
	}
	return id.ParseStorageID(raw)
}

func identityParam(r *http.Request) (id.Identity, error) {
	raw, err := url.PathUnescape(chi.URLParam(r, "identity"))
	if err != nil {
		return "", dErrors.New(dErrors.CodeBadRequest, "malformed identity")
	}
	return id.ParseIdentity(raw)
}

func decodeOptional(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
