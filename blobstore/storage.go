package blobstore

import (
	"context"
	"errors"
	"strings"
)

// MaxNameLength is the maximum allowed length for a blob name.
const MaxNameLength = 255

// Sentinel errors for blob storage.
var (
	ErrInvalidName   = errors.New("blobstore: name is invalid")
	ErrNameTooLong   = errors.New("blobstore: name exceeds max length")
	ErrUnknownDriver = errors.New("blobstore: unknown driver")
	ErrClosed        = errors.New("blobstore: storage is closed")
)

// Storage is a durable string-keyed blob store.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: methods must honor cancellation/deadlines.
// - Errors: Read reports a missing blob as (nil, false, nil), never as an
// error. Remove is idempotent.
type Storage interface {
	// Read returns the blob stored under name.
	Read(ctx context.Context, name string) ([]byte, bool, error)

	// Write stores blob under name, replacing any previous value.
	Write(ctx context.Context, name string, blob []byte) error

	// Remove deletes the blob stored under name.
	Remove(ctx context.Context, name string) error

	// Close releases resources held by the storage.
	Close() error
}

// ValidateName checks that name can be used on every backend.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrInvalidName
	}
	if len(name) > MaxNameLength {
		return ErrNameTooLong
	}
	if strings.ContainsAny(name, "/\\\n\r\x00") || name == "." || name == ".." {
		return ErrInvalidName
	}
	return nil
}
