// Package storage implements the durable half of the Open Question
// decision recorded for spec §4.8/§4.7: only Topology node snapshots and
// the Auth user table survive a process restart (all other operation
// state — Distributions, the command tree, in-flight status — lives in
// memory only and is rebuilt from scratch). It is grounded on the
// teacher's pkg/storage/boltdb.go bucket-per-entity bbolt pattern
// (already reused once by pkg/blobstore), trimmed from that file's nine
// container-orchestration buckets (nodes/services/containers/secrets/
// volumes/networks/ca/ingresses/tls_certificates — none of which have an
// FL-coordination analogue) down to the two buckets this system actually
// needs to survive a restart.
package storage

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/lattice-fl/lattice/pkg/auth"
	"github.com/lattice-fl/lattice/pkg/topology"
	"github.com/lattice-fl/lattice/pkg/types"
)

var (
	bucketNodes = []byte("nodes")
	bucketUsers = []byte("users")
)

// Store is a small bbolt-backed persistence layer for the two pieces of
// state the server needs to recover across a restart: the node
// inventory's last-known identity (not liveness — see
// topology.Topology.Restore) and the local user table. The zero value is
// not usable; construct with Open.
type Store struct {
	db *bolt.DB
}

// Open creates/opens a bbolt file at path and ensures both buckets exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketNodes); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketUsers)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: init buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveTopology persists the full result of topology.Topology.Snapshot,
// replacing whatever was previously saved.
func (s *Store) SaveTopology(nodes []types.Node) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := clearBucket(tx, bucketNodes); err != nil {
			return err
		}
		b := tx.Bucket(bucketNodes)
		for _, n := range nodes {
			data, err := json.Marshal(n)
			if err != nil {
				return fmt.Errorf("marshal node %s: %w", n.Name, err)
			}
			if err := b.Put([]byte(n.Name), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadTopology reads back every persisted node, in no particular order,
// suitable for passing directly to topology.Topology.Restore.
func (s *Store) LoadTopology() ([]types.Node, error) {
	var out []types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).ForEach(func(_, v []byte) error {
			var n types.Node
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}
			out = append(out, n)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("storage: load topology: %w", err)
	}
	return out, nil
}

// RestoreTopology loads the persisted nodes directly into t.
func (s *Store) RestoreTopology(t *topology.Topology) error {
	nodes, err := s.LoadTopology()
	if err != nil {
		return err
	}
	t.Restore(nodes)
	return nil
}

// SaveUsers persists the full result of auth.Store.Users, replacing
// whatever was previously saved. Password hashes are stored as given
// (already bcrypt-hashed) and never re-hashed.
func (s *Store) SaveUsers(users []auth.User) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		if err := clearBucket(tx, bucketUsers); err != nil {
			return err
		}
		for _, u := range users {
			data, err := json.Marshal(u)
			if err != nil {
				return fmt.Errorf("marshal user %s: %w", u.Username, err)
			}
			if err := b.Put([]byte(u.Username), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadUsers reads back every persisted user, in no particular order.
func (s *Store) LoadUsers() ([]auth.User, error) {
	var out []auth.User
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(_, v []byte) error {
			var u auth.User
			if err := json.Unmarshal(v, &u); err != nil {
				return err
			}
			out = append(out, u)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("storage: load users: %w", err)
	}
	return out, nil
}

// RestoreUsers loads the persisted users directly into store via AddUser,
// which accepts an already-hashed password and performs no re-hashing.
func (s *Store) RestoreUsers(store *auth.Store) error {
	users, err := s.LoadUsers()
	if err != nil {
		return err
	}
	for _, u := range users {
		store.AddUser(u.Username, u.PasswordHash, u.Role)
	}
	return nil
}

func clearBucket(tx *bolt.Tx, name []byte) error {
	b := tx.Bucket(name)
	var keys [][]byte
	if err := b.ForEach(func(k, _ []byte) error {
		keys = append(keys, append([]byte(nil), k...))
		return nil
	}); err != nil {
		return err
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}
