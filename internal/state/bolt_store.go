package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketServices = []byte("services")
	bucketMeta     = []byte("meta")
	keySavedAt     = []byte("saved_at")
)

// BoltStore persists snapshots in a bbolt database, one record per endpoint.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketServices, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Load reads all endpoint records.
func (s *BoltStore) Load(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	snapshot := emptySnapshot()
	err := s.db.View(func(tx *bolt.Tx) error {
		if raw := tx.Bucket(bucketMeta).Get(keySavedAt); raw != nil {
			if err := snapshot.SavedAt.UnmarshalText(raw); err != nil {
				return fmt.Errorf("decode saved_at: %w", err)
			}
		}
		return tx.Bucket(bucketServices).ForEach(func(k, v []byte) error {
			var entry ServiceState
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("decode %s: %w", k, err)
			}
			snapshot.Services[string(k)] = entry
			return nil
		})
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snapshot, nil
}

// Save replaces all endpoint records in a single transaction.
func (s *BoltStore) Save(ctx context.Context, snapshot Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketServices); err != nil {
			return err
		}
		services, err := tx.CreateBucket(bucketServices)
		if err != nil {
			return err
		}
		for key, entry := range snapshot.Services {
			data, err := json.Marshal(entry)
			if err != nil {
				return err
			}
			if err := services.Put([]byte(key), data); err != nil {
				return err
			}
		}

		savedAt, err := snapshot.SavedAt.MarshalText()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(keySavedAt, savedAt)
	})
}
