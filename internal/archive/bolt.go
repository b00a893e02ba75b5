package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rohankatakam/dashi/internal/errors"
	bolt "go.etcd.io/bbolt"
)

const rootBucket = "pages"

// ErrNotFound is returned by Fetch for a page that was never recorded
var ErrNotFound = stderrors.New("archived page not found")

// BoltArchive keeps the raw body of every fetched API page in a BoltDB
// file, one bucket per host, keyed by a digest of the page URL.
type BoltArchive struct {
	db   *bolt.DB
	once sync.Once
}

// Open opens (or creates) an archive at path
func Open(path string) (*BoltArchive, error) {
	if path == "" {
		return nil, errors.ConfigError("archive path is required")
	}

	cleaned := filepath.Clean(path)
	if dir := filepath.Dir(cleaned); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.FileSystemErrorf(err, "create archive directory %s", dir)
		}
	}

	db, err := bolt.Open(cleaned, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.FileSystemErrorf(err, "open archive %s", cleaned)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(rootBucket))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltArchive{db: db}, nil
}

// RecordPage stores body under the page URL, replacing an earlier copy
func (a *BoltArchive) RecordPage(ctx context.Context, pageURL string, body []byte) error {
	host, key := pageKey(pageURL)
	return a.db.Update(func(tx *bolt.Tx) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		root := tx.Bucket([]byte(rootBucket))
		if root == nil {
			return errors.New(errors.ErrorTypeInternal, errors.SeverityCritical, "archive root bucket missing")
		}

		hostBucket, err := root.CreateBucketIfNotExists([]byte(host))
		if err != nil {
			return err
		}

		return hostBucket.Put(key, body)
	})
}

// Fetch returns the archived body of pageURL
func (a *BoltArchive) Fetch(ctx context.Context, pageURL string) ([]byte, error) {
	host, key := pageKey(pageURL)

	var result []byte
	err := a.db.View(func(tx *bolt.Tx) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		root := tx.Bucket([]byte(rootBucket))
		if root == nil {
			return ErrNotFound
		}
		hostBucket := root.Bucket([]byte(host))
		if hostBucket == nil {
			return ErrNotFound
		}

		data := hostBucket.Get(key)
		if data == nil {
			return ErrNotFound
		}

		// bolt memory is only valid inside the transaction
		result = append([]byte{}, data...)
		return nil
	})
	return result, err
}

// Count returns the number of archived pages for host
func (a *BoltArchive) Count(host string) (int, error) {
	n := 0
	err := a.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket([]byte(rootBucket))
		if root == nil {
			return nil
		}
		if b := root.Bucket([]byte(host)); b != nil {
			n = b.Stats().KeyN
		}
		return nil
	})
	return n, err
}

// Close shuts down the Bolt DB
func (a *BoltArchive) Close() error {
	var err error
	a.once.Do(func() {
		err = a.db.Close()
	})
	return err
}

func pageKey(pageURL string) (string, []byte) {
	host := "unknown"
	if u, err := url.Parse(pageURL); err == nil && u.Host != "" {
		host = u.Host
	}
	sum := sha256.Sum256([]byte(pageURL))
	return host, []byte(hex.EncodeToString(sum[:]))
}
