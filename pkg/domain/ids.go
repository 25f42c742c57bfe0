package domain

import (
	"bytes"
	"encoding/hex"
	"strings"
	"unicode"
	"unicode/utf8"

	dErrors "signet/pkg/domain-errors"
)

const (
	maxIdentityLength  = 128
	maxStorageIDLength = 256
	maxContentHashSize = 128
)

// Identity names a party that can register, receive or sign documents
// (an account address or token subject). Parse at trust boundaries.
type Identity string

// ParseIdentity validates an identity string.
func ParseIdentity(s string) (Identity, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "identity is required")
	}
	if len(s) > maxIdentityLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, "identity is too long")
	}
	if !utf8.ValidString(s) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "identity must be valid UTF-8")
	}
	if strings.IndexFunc(s, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) >= 0 {
		return "", dErrors.New(dErrors.CodeInvalidInput, "identity must not contain whitespace or control characters")
	}
	return Identity(s), nil
}

func (i Identity) String() string { return string(i) }

// IsZero reports whether the identity is unset.
func (i Identity) IsZero() bool { return i == "" }

// StorageID is the content-addressed locator of a document payload (for example an
// IPFS CID). It is opaque: only equality matters. It is also the document key.
type StorageID string

// ParseStorageID validates a storage identifier.
func ParseStorageID(s string) (StorageID, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "storage id is required")
	}
	if len(s) > maxStorageIDLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, "storage id is too long")
	}
	if strings.ContainsAny(s, "/\x00") {
		return "", dErrors.New(dErrors.CodeInvalidInput, "storage id contains forbidden characters")
	}
	return StorageID(s), nil
}

func (id StorageID) String() string { return string(id) }

// ContentHash is the caller-supplied integrity fingerprint of a document.
// It is compared for equality only; this system never computes it.
type ContentHash []byte

// ParseContentHash decodes a hex-encoded content hash.
func ParseContentHash(s string) (ContentHash, error) {
	if s == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "content hash is required")
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "content hash must be hex encoded")
	}
	if len(raw) == 0 || len(raw) > maxContentHashSize {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "content hash has invalid length")
	}
	return ContentHash(raw), nil
}

// Equal reports whether two hashes hold the same bytes.
func (h ContentHash) Equal(other ContentHash) bool {
	return bytes.Equal(h, other)
}

// String returns the lowercase hex encoding.
func (h ContentHash) String() string {
	return hex.EncodeToString(h)
}
