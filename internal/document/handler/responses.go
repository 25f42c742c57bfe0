package handler

import (
	"time"

	"signet/internal/document/models"
	id "signet/pkg/domain"
)

type DocumentResponse struct {
	StorageID           string   `json:"storage_id"`
	ContentHash         string   `json:"content_hash"`
	Creator             string   `json:"creator"`
	Receiver            *string  `json:"receiver,omitempty"`
	RegisteredAt        string   `json:"registered_at"`
	RequiredSigners     []string `json:"required_signers"`
	CollectedSignatures []string `json:"collected_signatures"`
	RemainingSigners    []string `json:"remaining_signers"`
	Status              string   `json:"status"`
	Completed           bool     `json:"completed"`
}

type RegisterResponse struct {
	Registered bool              `json:"registered"`
	Document   *DocumentResponse `json:"document"`
}

type DocumentListResponse struct {
	Documents []*DocumentResponse `json:"documents"`
}

type VerifyResponse struct {
	Valid bool `json:"valid"`
}

type CountResponse struct {
	Count int `json:"count"`
}

func toDocumentResponse(doc *models.Document) *DocumentResponse {
	resp := &DocumentResponse{
		StorageID:           doc.StorageID.String(),
		ContentHash:         doc.ContentHash.String(),
		Creator:             doc.Creator.String(),
		RegisteredAt:        doc.RegisteredAt.UTC().Format(time.RFC3339),
		RequiredSigners:     identityStrings(doc.RequiredSigners),
		CollectedSignatures: identityStrings(doc.CollectedSignatures),
		RemainingSigners:    identityStrings(doc.Remaining()),
		Status:              string(doc.Status()),
		Completed:           doc.Completed,
	}
	if doc.Receiver != nil {
		r := doc.Receiver.String()
		resp.Receiver = &r
	}
	return resp
}

func toDocumentListResponse(docs []*models.Document) *DocumentListResponse {
	out := &DocumentListResponse{Documents: make([]*DocumentResponse, 0, len(docs))}
	for _, doc := range docs {
		out.Documents = append(out.Documents, toDocumentResponse(doc))
	}
	return out
}

func identityStrings(ids []id.Identity) []string {
	out := make([]string, len(ids))
	for i, v := range ids {
		out[i] = v.String()
	}
	return out
}
