// Package boltstore keeps blobs in a single bbolt file. Each blob is one
// key in the data bucket; its content type sits under the same key in a
// sibling bucket.
package boltstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/stazh-ux/lavendel-ask-resolve/internal/storage"
)

var _ storage.BlobStore = (*Store)(nil)

type Store struct {
	db      *bbolt.DB
	data    []byte
	meta    []byte
	baseURL string
}

// Open creates the file if needed. baseURL is prefixed to "/files/<path>"
// when building public URLs; it may be empty for same-origin links.
func Open(path, bucket, baseURL string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("boltstore: creating directory: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("boltstore: opening %s: %w", path, err)
	}

	s := &Store{
		db:      db,
		data:    []byte(bucket),
		meta:    []byte(bucket + ".meta"),
		baseURL: strings.TrimRight(baseURL, "/"),
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{s.data, s.meta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltstore: creating buckets: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Put(ctx context.Context, path string, r io.Reader, size int64, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// read one byte past size to catch oversized input
	body, err := io.ReadAll(io.LimitReader(r, size+1))
	if err != nil {
		return fmt.Errorf("boltstore: reading %s: %w", path, err)
	}
	if int64(len(body)) != size {
		return fmt.Errorf("boltstore: %s: got %d bytes, want %d", path, len(body), size)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(s.data).Put([]byte(path), body); err != nil {
			return err
		}
		return tx.Bucket(s.meta).Put([]byte(path), []byte(contentType))
	})
	if err != nil {
		return fmt.Errorf("boltstore: putting %s: %w", path, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, path string) (io.ReadCloser, *storage.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var (
		body []byte
		info storage.ObjectInfo
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(s.data).Get([]byte(path))
		if v == nil {
			return storage.ErrNotExist
		}
		// v is only valid inside the transaction
		body = bytes.Clone(v)
		info = storage.ObjectInfo{
			Path:        path,
			ContentType: string(tx.Bucket(s.meta).Get([]byte(path))),
			Size:        int64(len(v)),
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("boltstore: getting %s: %w", path, err)
	}
	return io.NopCloser(bytes.NewReader(body)), &info, nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(s.data).Get([]byte(path)) == nil {
			return storage.ErrNotExist
		}
		if err := tx.Bucket(s.data).Delete([]byte(path)); err != nil {
			return err
		}
		return tx.Bucket(s.meta).Delete([]byte(path))
	})
	if err != nil {
		return fmt.Errorf("boltstore: deleting %s: %w", path, err)
	}
	return nil
}

func (s *Store) PublicURL(path string) string {
	return s.baseURL + "/files/" + path
}
