package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

const flagBucket = "notification_flags"

var flagSet = []byte{1}

// FlagStore provides a BoltDB-backed set of "already notified" flags. Flags
// are never cleared; a flag, once set, stays set for the life of the file.
type FlagStore struct {
	db *bbolt.DB
}

// OpenFlags opens a BoltDB-backed flag store at the provided path.
func OpenFlags(path string) (*FlagStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("flag storage path is required")
	}

	cleanPath := filepath.Clean(path)
	if err := ensureDir(cleanPath); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(cleanPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open flag db: %w", err)
	}

	store := &FlagStore{db: db}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying BoltDB database.
func (s *FlagStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// WasSent reports whether key has been marked.
func (s *FlagStore) WasSent(ctx context.Context, key string) (bool, error) {
	if err := s.check(ctx, key); err != nil {
		return false, err
	}

	var sent bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(flagBucket))
		if bucket == nil {
			return fmt.Errorf("flag bucket is missing")
		}
		sent = bucket.Get([]byte(key)) != nil
		return nil
	})
	return sent, err
}

// MarkOnce sets key and reports whether this call was the one that set it.
// Concurrent callers for the same key see exactly one true.
func (s *FlagStore) MarkOnce(ctx context.Context, key string) (bool, error) {
	if err := s.check(ctx, key); err != nil {
		return false, err
	}

	var first bool
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(flagBucket))
		if bucket == nil {
			return fmt.Errorf("flag bucket is missing")
		}
		if bucket.Get([]byte(key)) != nil {
			return nil
		}
		first = true
		return bucket.Put([]byte(key), flagSet)
	})
	if err != nil {
		return false, fmt.Errorf("mark flag %s: %w", key, err)
	}
	return first, nil
}

// List returns every flag that has been set.
func (s *FlagStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	var keys []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(flagBucket))
		if bucket == nil {
			return fmt.Errorf("flag bucket is missing")
		}
		return bucket.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

func (s *FlagStore) check(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("flag key is required")
	}
	return nil
}

func (s *FlagStore) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(flagBucket)); err != nil {
			return fmt.Errorf("create flag bucket: %w", err)
		}
		return nil
	})
}
