package state

import (
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/alexjbarnes/solara-sync/internal/errors"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// keyPrefix marks queue keys. The zero-padded millisecond timestamp
// that follows makes bbolt's byte order match insertion order.
const keyPrefix = "upload-"

// Record is one undelivered photo submission. Records are written once
// and deleted after delivery, never updated in place.
type Record struct {
	Key       string    `json:"-"`
	Ciclo     string    `json:"ciclo"`
	Sector    string    `json:"sector"`
	Ruta      string    `json:"ruta"`
	Tecnico   string    `json:"tecnico"`
	Nombre    string    `json:"nombre"`
	Contenido string    `json:"contenido"`
	QueuedAt  time.Time `json:"queued_at"`
}

// NewKey returns a fresh queue key. The uuid suffix keeps keys unique
// when several records are inserted within the same millisecond.
func NewKey(now time.Time) string {
	return fmt.Sprintf("%s%013d-%s", keyPrefix, now.UnixMilli(), uuid.NewString())
}

// Insert stores rec under a newly generated key and returns the key.
// Any key already set on rec is ignored: keys are never reused.
func (s *State) Insert(rec Record) (string, error) {
	now := time.Now()
	key := NewKey(now)

	if rec.QueuedAt.IsZero() {
		rec.QueuedAt = now.UTC()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("%w: encoding record: %w", apperrors.ErrStorage, err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(queueBucket).Put([]byte(key), data)
	})
	if err != nil {
		return "", fmt.Errorf("%w: inserting %s: %w", apperrors.ErrStorage, key, err)
	}

	return key, nil
}

// Keys returns every queued key in a stable order (bbolt byte order).
func (s *State) Keys() ([]string, error) {
	var keys []string

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(queueBucket).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: listing keys: %w", apperrors.ErrStorage, err)
	}

	return keys, nil
}

// Get returns the record for key, or nil if it is not queued.
func (s *State) Get(key string) (*Record, error) {
	var rec *Record

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(queueBucket).Get([]byte(key))
		if v == nil {
			return nil
		}

		rec = &Record{}

		return json.Unmarshal(v, rec)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", apperrors.ErrStorage, key, err)
	}

	if rec != nil {
		rec.Key = key
	}

	return rec, nil
}

// Remove deletes key from the queue. Removing a missing key is a no-op.
func (s *State) Remove(key string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(queueBucket).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("%w: removing %s: %w", apperrors.ErrStorage, key, err)
	}

	return nil
}

// Count returns the number of queued records.
func (s *State) Count() (int, error) {
	count := 0

	err := s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(queueBucket).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: counting: %w", apperrors.ErrStorage, err)
	}

	return count, nil
}

// Records returns all queued records in key order. Content is included,
// so callers listing a large queue should expect large allocations.
func (s *State) Records() ([]Record, error) {
	var records []Record

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(queueBucket).ForEach(func(k, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}

			rec.Key = string(k)
			records = append(records, rec)

			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: listing records: %w", apperrors.ErrStorage, err)
	}

	return records, nil
}
