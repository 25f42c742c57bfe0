package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"signet/internal/payload"
	id "signet/pkg/domain"
	dErrors "signet/pkg/domain-errors"
	"signet/pkg/platform/httputil"
	"signet/pkg/requestcontext"
)

const defaultContentType = "application/octet-stream"

// Payloads is the payload service consumed by the handler.
type Payloads interface {
	Upload(ctx context.Context, ref id.StorageID, body io.Reader, size int64, contentType string) error
	Download(ctx context.Context, ref id.StorageID) (*payload.Object, error)
}

type Handler struct {
	payloads Payloads
	maxBytes int64
	logger   *slog.Logger
}

// New builds the handler. maxBytes <= 0 disables the upload size limit.
func New(payloads Payloads, maxBytes int64, logger *slog.Logger) *Handler {
	return &Handler{payloads: payloads, maxBytes: maxBytes, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Put("/documents/{storageID}/payload", h.HandleUpload)
	r.Get("/documents/{storageID}/payload", h.HandleDownload)
}

func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ref, err := storageIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if h.maxBytes > 0 {
		if r.ContentLength > h.maxBytes {
			writeTooLarge(w)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultContentType
	}

	if err := h.payloads.Upload(ctx, ref, r.Body, r.ContentLength, contentType); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeTooLarge(w)
			return
		}
		h.logFailure(ctx, "failed to upload payload", ref, err)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ref, err := storageIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	obj, err := h.payloads.Download(ctx, ref)
	if err != nil {
		h.logFailure(ctx, "failed to download payload", ref, err)
		httputil.WriteError(w, err)
		return
	}
	defer obj.Body.Close()

	contentType := obj.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}
	w.Header().Set("Content-Type", contentType)
	if obj.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, obj.Body); err != nil && h.logger != nil {
		h.logger.WarnContext(ctx, "payload stream interrupted",
			"storage_id", ref.String(),
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
}

func (h *Handler) logFailure(ctx context.Context, msg string, ref id.StorageID, err error) {
	if h.logger == nil {
		return
	}
	code, _ := dErrors.CodeOf(err)
	if httputil.StatusFor(code) < http.StatusInternalServerError {
		return
	}
	h.logger.ErrorContext(ctx, msg,
		"storage_id", ref.String(),
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
}

func writeTooLarge(w http.ResponseWriter) {
	httputil.WriteJSON(w, http.StatusRequestEntityTooLarge, httputil.ErrorResponse{
		Error:            "payload_too_large",
		ErrorDescription: "payload exceeds the configured size limit",
	})
}

func storageIDParam(r *http.Request) (id.StorageID, error) {
	raw, err := url.PathUnescape(chi.URLParam(r, "storageID"))
	if err != nil {
		return "", dErrors.New(dErrors.CodeBadRequest, "malformed storage id")
	}
	return id.ParseStorageID(raw)
}
