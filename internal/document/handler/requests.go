package handler

import (
	"strings"

	"signet/internal/document/service"
	id "signet/pkg/domain"
	dErrors "signet/pkg/domain-errors"
)

// RegisterRequest is the body of POST /documents. Creator defaults to the
// authenticated caller.
type RegisterRequest struct {
	ContentHash     string   `json:"content_hash"`
	StorageID       string   `json:"storage_id"`
	Creator         string   `json:"creator,omitempty"`
	Receiver        *string  `json:"receiver,omitempty"`
	RequiredSigners []string `json:"required_signers"`

	cmd service.RegisterCommand
}

func (r *RegisterRequest) Validate() error {
	hash, err := id.ParseContentHash(r.ContentHash)
	if err != nil {
		return err
	}
	storageID, err := id.ParseStorageID(r.StorageID)
	if err != nil {
		return err
	}
	r.cmd = service.RegisterCommand{ContentHash: hash, StorageID: storageID}

	if strings.TrimSpace(r.Creator) != "" {
		creator, err := id.ParseIdentity(strings.TrimSpace(r.Creator))
		if err != nil {
			return err
		}
		r.cmd.Creator = creator
	}
	if r.Receiver != nil && strings.TrimSpace(*r.Receiver) != "" {
		receiver, err := id.ParseIdentity(strings.TrimSpace(*r.Receiver))
		if err != nil {
			return err
		}
		r.cmd.Receiver = &receiver
	}
	for _, raw := range r.RequiredSigners {
		signer, err := id.ParseIdentity(strings.TrimSpace(raw))
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeValidation, "invalid required signer")
		}
		r.cmd.RequiredSigners = append(r.cmd.RequiredSigners, signer)
	}
	return nil
}

// Command returns the validated command, filling the creator from caller when
// the body named none.
func (r *RegisterRequest) Command(caller id.Identity) service.RegisterCommand {
	cmd := r.cmd
	if cmd.Creator.IsZero() {
		cmd.Creator = caller
	}
	return cmd
}

// SignRequest is the optional body of POST /documents/{storageID}/signatures.
// Signer defaults to the authenticated caller.
type SignRequest struct {
	Signer string `json:"signer,omitempty"`
}

// VerifyRequest is the body of POST /documents/{storageID}/verify.
type VerifyRequest struct {
	ContentHash string `json:"content_hash"`

	hash id.ContentHash
}

func (r *VerifyRequest) Validate() error {
	hash, err := id.ParseContentHash(r.ContentHash)
	if err != nil {
		return err
	}
	r.hash = hash
	return nil
}
