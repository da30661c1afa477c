// Package b2store puts attachments in a Backblaze B2 bucket through
// github.com/kurin/blazer. Public URLs point straight at B2, so the bucket
// must allow public reads for downloads to work.
package b2store

import (
	"context"
	"fmt"
	"io"

	"github.com/kurin/blazer/b2"

	"github.com/stazh-ux/lavendel-ask-resolve/internal/storage"
)

var _ storage.BlobStore = (*Store)(nil)

type Store struct {
	bucket *b2.Bucket
}

func Open(ctx context.Context, accountID, appKey, bucketName string) (*Store, error) {
	client, err := b2.NewClient(ctx, accountID, appKey)
	if err != nil {
		return nil, fmt.Errorf("b2store: creating client: %w", err)
	}

	bucket, err := client.Bucket(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("b2store: opening bucket %s: %w", bucketName, err)
	}

	return &Store{bucket: bucket}, nil
}

func (s *Store) Put(ctx context.Context, path string, r io.Reader, size int64, contentType string) error {
	w := s.bucket.Object(path).NewWriter(ctx).WithAttrs(&b2.Attrs{ContentType: contentType})

	n, err := io.Copy(w, io.LimitReader(r, size+1))
	if err != nil {
		w.Close()
		return fmt.Errorf("b2store: writing %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("b2store: closing writer for %s: %w", path, err)
	}
	if n != size {
		// the object is already committed; remove it again
		_ = s.bucket.Object(path).Delete(ctx)
		return fmt.Errorf("b2store: %s: got %d bytes, want %d", path, n, size)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, path string) (io.ReadCloser, *storage.ObjectInfo, error) {
	obj := s.bucket.Object(path)

	attrs, err := obj.Attrs(ctx)
	if err != nil {
		if b2.IsNotExist(err) {
			return nil, nil, fmt.Errorf("b2store: getting %s: %w", path, storage.ErrNotExist)
		}
		return nil, nil, fmt.Errorf("b2store: reading attrs of %s: %w", path, err)
	}

	return obj.NewReader(ctx), &storage.ObjectInfo{
		Path:        path,
		ContentType: attrs.ContentType,
		Size:        attrs.Size,
	}, nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	if err := s.bucket.Object(path).Delete(ctx); err != nil {
		if b2.IsNotExist(err) {
			return fmt.Errorf("b2store: deleting %s: %w", path, storage.ErrNotExist)
		}
		return fmt.Errorf("b2store: deleting %s: %w", path, err)
	}
	return nil
}

func (s *Store) PublicURL(path string) string {
	return s.bucket.Object(path).URL()
}
