// Package blobstore implements the BlobStore from spec §3/§4.4: an
// out-of-band byte store addressed by opaque IDs, with per-upload
// visibility (server-only vs shared) and eager deletion after
// consumption. It is grounded on the teacher's pkg/storage/boltdb.go
// bucket-per-entity bbolt pattern, adapted to one bucket of opaque blobs
// instead of one bucket per domain entity.
package blobstore

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/lattice-fl/lattice/pkg/errs"
	"github.com/lattice-fl/lattice/pkg/metrics"
)

var bucketBlobs = []byte("blobs")

// Visibility controls who may fetch a blob.
type Visibility int

const (
	// Shared blobs are fetchable by any authenticated role.
	Shared Visibility = iota
	// ServerOnly blobs are fetchable only by the server role, per spec §9's
	// resolution of the partially-commented-out permission checks.
	ServerOnly
)

type record struct {
	Data       []byte
	Visibility Visibility
	UploadedAt time.Time
}

// Store is a bbolt-backed blob store. The zero value is not usable;
// construct with Open.
type Store struct {
	mu sync.Mutex
	db *bolt.DB
}

// Open creates/opens a bbolt file at path and ensures the blobs bucket
// exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("blobstore: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketBlobs)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("blobstore: init buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put uploads data and returns a newly-minted blob ID.
func (s *Store) Put(data []byte, vis Visibility) (string, error) {
	id := uuid.NewString()
	rec := record{Data: data, Visibility: vis, UploadedAt: time.Now()}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlobs).Put([]byte(id), encodeRecord(rec))
	})
	if err != nil {
		return "", fmt.Errorf("blobstore: put: %w", err)
	}
	metrics.BlobsStoredTotal.Inc()
	return id, nil
}

// StartLeakSweep launches a background ticker that deletes any blob
// still present after maxAge and counts it as leaked, per spec §3's "blob
// unfetched within a run is considered leaked" note: a blob consumed via
// GetAndDelete (or removed via Delete) is gone well before maxAge. Get
// does not remove a blob, so one that was only read through Get is still
// swept and counted as leaked. Mirrors pkg/topology's liveness-observer
// ticker shape. Returns a function that stops the sweep.
func (s *Store) StartLeakSweep(maxAge, interval time.Duration) func() {
	stopCh := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.sweepLeaked(maxAge)
			case <-stopCh:
				return
			}
		}
	}()
	return func() { close(stopCh) }
}

func (s *Store) sweepLeaked(maxAge time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var stale [][]byte
	_ = s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlobs).ForEach(func(k, v []byte) error {
			if now.Sub(decodeRecord(v).UploadedAt) > maxAge {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
	})
	if len(stale) == 0 {
		return
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlobs)
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return
	}
	metrics.BlobsLeakedTotal.Add(float64(len(stale)))
}

// Get fetches blob id's bytes, enforcing visibility: callerIsServer must
// be true to fetch a ServerOnly blob. It does not delete the blob; callers
// that intend single-consumption semantics must call Delete explicitly
// after confirming receipt, per spec §3's "blob unfetched within a run is
// considered leaked" note — deletion is the caller's responsibility so a
// fetch failure downstream of Get does not silently lose the blob.
func (s *Store) Get(id string, callerIsServer bool) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rec record
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketBlobs).Get([]byte(id))
		if raw == nil {
			return nil
		}
		found = true
		rec = decodeRecord(raw)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("blobstore: get: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("blobstore: %s: %w", id, errs.ErrNotFound)
	}
	if rec.Visibility == ServerOnly && !callerIsServer {
		return nil, fmt.Errorf("blobstore: %s: %w", id, errs.ErrForbidden)
	}
	return rec.Data, nil
}

// Delete removes blob id. Deleting an absent ID is not an error (matches
// at-most-once delete semantics expected by spec property 4).
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlobs).Delete([]byte(id))
	})
}

// GetAndDelete fetches then deletes id in one call, the common
// fetch-then-consume pattern used by the server when absorbing a
// StatusUpdate's file references and by workers fetching pre-staged
// checkpoints.
func (s *Store) GetAndDelete(id string, callerIsServer bool) ([]byte, error) {
	data, err := s.Get(id, callerIsServer)
	if err != nil {
		return nil, err
	}
	if err := s.Delete(id); err != nil {
		return nil, fmt.Errorf("blobstore: delete after fetch: %w", err)
	}
	return data, nil
}
