package urlcache

import (
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("resolved-urls")

// Store is the small persisted key-value store backing the cache. It keeps
// resolved URLs across process restarts on a best-effort basis; losing it
// only costs a re-resolution.
type Store struct {
	db *bolt.DB
}

// OpenStore opens (or creates) the bbolt database at path.
func OpenStore(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open url cache store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create url cache bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Get returns the stored value for key, or ok=false when absent.
func (s *Store) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketName).Get([]byte(key)); v != nil {
			value = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("url cache store get: %w", err)
	}
	return value, value != nil, nil
}

// Put stores value under key.
func (s *Store) Put(key string, value []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("url cache store put: %w", err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(key string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("url cache store delete: %w", err)
	}
	return nil
}

// ForEach iterates over all stored entries.
func (s *Store) ForEach(fn func(key string, value []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).ForEach(func(k, v []byte) error {
			return fn(string(k), v)
		})
	})
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
