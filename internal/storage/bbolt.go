package storage

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"chatsync/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketEntries = []byte("entries")
	bucketMeta    = []byte("meta")
)

var ErrUnsupportedValue = errors.New("unsupported cache value")

// BboltStorage persists the query cache between sessions. It implements
// cache.Persister.
type BboltStorage struct {
	db  *bbolt.DB
	now func() time.Time
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketEntries); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketMeta); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db, now: time.Now}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// BindUser makes the store belong to userID. Entries cached for another user
// are dropped.
func (s *BboltStorage) BindUser(userID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		owner := &DBOwner{UserID: userID}

		if data := meta.Get(owner.Key()); data != nil {
			var prev DBOwner
			if err := prev.UnmarshalBinary(data); err != nil {
				return fmt.Errorf("failed to unmarshal owner: %w", err)
			}
			if prev.UserID == userID {
				return nil
			}
		}

		if err := tx.DeleteBucket(bucketEntries); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return err
		}
		if _, err := tx.CreateBucket(bucketEntries); err != nil {
			return err
		}

		data, err := owner.MarshalBinary()
		if err != nil {
			return err
		}
		return meta.Put(owner.Key(), data)
	})
}

// Save stores the value of a cache key. Messages still waiting for their
// confirmation are not written.
func (s *BboltStorage) Save(key string, value any) error {
	entry := &DBEntry{CacheKey: key, UpdatedAt: s.now().UnixMilli()}
	switch v := value.(type) {
	case []models.Message:
		entry.Kind = KindMessages
		entry.Messages = slices.DeleteFunc(slices.Clone(v), models.Message.IsPending)
	case []models.DirectChannel:
		entry.Kind = KindDMChannels
		entry.Channels = v
	case []models.Group:
		entry.Kind = KindGroups
		entry.Groups = v
	default:
		return fmt.Errorf("%w: %T for key %s", ErrUnsupportedValue, value, key)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := entry.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal entry: %w", err)
		}
		return tx.Bucket(bucketEntries).Put(entry.Key(), data)
	})
}

func (s *BboltStorage) Delete(key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEntries).Delete([]byte(key))
	})
}

// Load returns every stored cache key with its value.
func (s *BboltStorage) Load() (map[string]any, error) {
	values := make(map[string]any)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEntries).ForEach(func(k, v []byte) error {
			var entry DBEntry
			if err := entry.UnmarshalBinary(v); err != nil {
				return fmt.Errorf("corrupt entry %s: %w", string(k), err)
			}
			value, ok := entry.Value()
			if !ok {
				return fmt.Errorf("entry %s has unknown kind %q", string(k), entry.Kind)
			}
			values[entry.CacheKey] = value
			return nil
		})
	})
	return values, err
}

// Entries lists the stored entries without decoding their values into the
// cache, for inspection.
func (s *BboltStorage) Entries() ([]DBEntry, error) {
	var entries []DBEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEntries).ForEach(func(k, v []byte) error {
			var entry DBEntry
			if err := entry.UnmarshalBinary(v); err != nil {
				return err
			}
			entries = append(entries, entry)
			return nil
		})
	})
	return entries, err
}
