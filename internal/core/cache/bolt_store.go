package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/markdave123-py/documind/internal/core"
	"github.com/markdave123-py/documind/internal/models"
)

var _ core.CacheStore = (*BoltStore)(nil)

var bucketQueryCache = []byte("query_cache")

// BoltStore persists entries in a bbolt file so answers survive restarts.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBoltStore opens (or creates) the cache file at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open cache file %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketQueryCache)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create cache bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: bolt %s: %v", core.ErrCacheUnavailable, op, err)
}

func (s *BoltStore) Get(_ context.Context, key string) (*models.CacheEntry, error) {
	var entry *models.CacheEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketQueryCache).Get([]byte(key))
		if raw == nil {
			return nil
		}
		var e models.CacheEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			// unreadable entries behave as misses and are overwritten by the next Set
			return nil
		}
		entry = &e
		return nil
	})
	if err != nil {
		return nil, unavailable("get", err)
	}
	return entry, nil
}

func (s *BoltStore) Set(_ context.Context, entry *models.CacheEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketQueryCache).Put([]byte(entry.Key), raw)
	})
	if err != nil {
		return unavailable("set", err)
	}
	return nil
}

func (s *BoltStore) DeletePrefix(_ context.Context, prefix string) error {
	p := []byte(prefix)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketQueryCache).Cursor()
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Seek(p) {
			if err := c.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return unavailable("delete", err)
	}
	return nil
}

func (s *BoltStore) EvictExpired(_ context.Context, now time.Time) (int, error) {
	var expired [][]byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketQueryCache).ForEach(func(k, v []byte) error {
			var e models.CacheEntry
			if err := json.Unmarshal(v, &e); err != nil || e.Expired(now) {
				expired = append(expired, bytes.Clone(k))
			}
			return nil
		})
	})
	if err != nil {
		return 0, unavailable("scan", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketQueryCache)
		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, unavailable("evict", err)
	}
	return len(expired), nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
