// Package storage is the binary object store behind problem attachments.
//
// Two backends exist: boltstore keeps blobs in a local bbolt file and the
// portal serves them itself; b2store puts them in a Backblaze B2 bucket.
package storage

import (
	"context"
	"errors"
	"io"
)

// AttachmentsBucket is the fixed bucket every attachment lives in.
const AttachmentsBucket = "problem-attachments"

// ErrNotExist is returned by Get and Delete for an unknown path.
var ErrNotExist = errors.New("storage: object does not exist")

type ObjectInfo struct {
	Path        string
	ContentType string
	Size        int64
}

type BlobStore interface {
	// Put stores r under path. size is the expected length; a short read
	// is an error.
	Put(ctx context.Context, path string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, path string) (io.ReadCloser, *ObjectInfo, error)
	Delete(ctx context.Context, path string) error
	// PublicURL derives the download URL. It does not check existence.
	PublicURL(path string) string
}
