// Package storage defines the content-addressed storage engine contract of spec §4.C and hosts
// its two backends: internal/storage/filesystem and internal/storage/boltstore.
package storage

import (
	"context"
	"io"
)

// Engine is the capability surface a StorageProvider backend must implement. It operates purely
// on bytes and hashes; invoice/label (de)serialization happens in internal/canonical, one layer
// up, so that both backends share exactly one encoding implementation.
type Engine interface {
	// WriteInvoice stores canonical invoice bytes under identity, rejecting if a non-yanked
	// invoice already exists there, and returning berr.ErrYanked if the existing one is
	// yanked.
	WriteInvoice(ctx context.Context, identity string, data []byte) error

	// ReadInvoice returns the canonical invoice bytes stored under identity, or
	// berr.ErrNotFound.
	ReadInvoice(ctx context.Context, identity string) ([]byte, error)

	// RewriteYankedInvoice atomically replaces the invoice bytes under identity. This is the
	// only mutation path; callers must only use it to flip `yanked` false->true and append
	// yank-signatures.
	RewriteYankedInvoice(ctx context.Context, identity string, data []byte) error

	// InvoiceExists reports whether an invoice is stored under identity, without reading it.
	InvoiceExists(ctx context.Context, identity string) (bool, error)

	// WriteParcel streams r into storage under sha256, verifying that the running hash and
	// byte count match sha256/size exactly before committing. Idempotent: a matching parcel
	// already on disk is left alone and the write reports success.
	WriteParcel(ctx context.Context, sha256, mediaType string, size uint64, r io.Reader) error

	// ReadParcel returns a lazy stream of the parcel's bytes, or berr.ErrNotFound.
	ReadParcel(ctx context.Context, sha256 string) (io.ReadCloser, error)

	// ParcelExists reports whether a parcel is stored under sha256, without reading it.
	ParcelExists(ctx context.Context, sha256 string) (bool, error)
}
