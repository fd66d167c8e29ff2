package billing

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketIntervals = []byte("intervals")

// Store persists usage intervals in a BoltDB database so a ledger restart
// does not lose open intervals.
type Store struct {
	db *bolt.DB
}

// OpenStore creates or opens the billing database at the given path.
func OpenStore(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketIntervals)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying BoltDB.
func (s *Store) Close() error {
	return s.db.Close()
}

// intervalKey orders a container's intervals chronologically within the
// bucket: "{containerID}::{RFC3339Nano(start)}".
func intervalKey(iv Interval) []byte {
	return []byte(fmt.Sprintf("%s::%s", iv.ContainerID, iv.Start.UTC().Format(time.RFC3339Nano)))
}

// Put writes an interval, replacing any previous version of the same run.
func (s *Store) Put(iv Interval) error {
	data, err := json.Marshal(iv)
	if err != nil {
		return fmt.Errorf("marshal interval: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIntervals).Put(intervalKey(iv), data)
	})
}

// Active returns all intervals still marked active, for startup restore.
func (s *Store) Active() ([]Interval, error) {
	var out []Interval
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIntervals).ForEach(func(k, v []byte) error {
			var iv Interval
			if err := json.Unmarshal(v, &iv); err != nil {
				return nil // skip malformed values
			}
			if iv.Status == StatusActive {
				out = append(out, iv)
			}
			return nil
		})
	})
	return out, err
}

// ByUser returns every interval owned by the given user.
func (s *Store) ByUser(userID string) ([]Interval, error) {
	var out []Interval
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIntervals).ForEach(func(k, v []byte) error {
			var iv Interval
			if err := json.Unmarshal(v, &iv); err != nil {
				return nil
			}
			if iv.UserID == userID {
				out = append(out, iv)
			}
			return nil
		})
	})
	return out, err
}

// DeleteCompletedBefore removes completed intervals whose end time is before
// the cutoff and returns how many were deleted. Active intervals are never
// touched.
func (s *Store) DeleteCompletedBefore(cutoff time.Time) (int, error) {
	deleted := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIntervals)
		c := b.Cursor()

		var stale [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var iv Interval
			if err := json.Unmarshal(v, &iv); err != nil {
				continue
			}
			if iv.Status != StatusCompleted || iv.End == nil || !iv.End.Before(cutoff) {
				continue
			}
			keyCopy := make([]byte, len(k))
			copy(keyCopy, k)
			stale = append(stale, keyCopy)
		}

		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}
