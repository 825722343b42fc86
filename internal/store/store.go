// Package store persists the header index and block bodies in an
// embedded ordered key-value store, spec.md §6: "The header index and
// block store use an embedded ordered key-value store (LMDB-equivalent)
// with a single writer, many-reader transaction model." bbolt is the
// closest Go-ecosystem match to that description and replaces the
// teacher's jackc/pgx/v5 Postgres store, whose relational schema (coinjoin
// risk tables) has no equivalent here — see DESIGN.md for the full
// justification of dropping pgx.
package store

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/rawblock/mwnode/internal/crypto"
	"github.com/rawblock/mwnode/internal/types"
)

var (
	bucketHeaders = []byte("headers")
	bucketBlocks  = []byte("blocks")
	bucketHeight  = []byte("height_index")
	bucketMeta    = []byte("meta")
)

// Store wraps a single bbolt database file holding every durable index
// the chain needs to recover its header tree and block bodies across a
// restart (spec.md §6 "Persisted state layout").
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) the bbolt database at path and
// ensures its top-level buckets exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketHeaders, bucketBlocks, bucketHeight, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: initializing buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database file handle.
func (s *Store) Close() error { return s.db.Close() }

func init() {
	gob.Register(types.Header{})
	gob.Register(types.TransactionBody{})
}

// PutHeader durably indexes a header by hash and by height.
func (s *Store) PutHeader(h types.Header) error {
	hash := h.Hash()
	return s.db.Update(func(tx *bolt.Tx) error {
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(h); err != nil {
			return err
		}
		if err := tx.Bucket(bucketHeaders).Put(hash[:], buf.Bytes()); err != nil {
			return err
		}
		return tx.Bucket(bucketHeight).Put(heightKey(h.Height), hash[:])
	})
}

// GetHeader loads a previously stored header by hash.
func (s *Store) GetHeader(hash crypto.Hash) (types.Header, bool, error) {
	var h types.Header
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketHeaders).Get(hash[:])
		if v == nil {
			return nil
		}
		found = true
		return gob.NewDecoder(bytes.NewReader(v)).Decode(&h)
	})
	return h, found, err
}

// HashAtHeight resolves the hash most recently stored for a given
// height; a later PutHeader at the same height overwrites the entry.
func (s *Store) HashAtHeight(height uint64) (crypto.Hash, bool, error) {
	var out crypto.Hash
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketHeight).Get(heightKey(height))
		if v == nil {
			return nil
		}
		found = true
		copy(out[:], v)
		return nil
	})
	return out, found, err
}

// PutBlockBody persists a block's transaction body keyed by header hash.
func (s *Store) PutBlockBody(hash crypto.Hash, body types.TransactionBody) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
		return tx.Bucket(bucketBlocks).Put(hash[:], buf.Bytes())
	})
}

// GetBlockBody loads a previously stored block body by header hash.
func (s *Store) GetBlockBody(hash crypto.Hash) (types.TransactionBody, bool, error) {
	var body types.TransactionBody
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketBlocks).Get(hash[:])
		if v == nil {
			return nil
		}
		found = true
		return gob.NewDecoder(bytes.NewReader(v)).Decode(&body)
	})
	return body, found, err
}

// PutMeta stores a small opaque value under a string key, used for the
// head/header_head pointers and similar singleton state.
func (s *Store) PutMeta(key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put([]byte(key), value)
	})
}

// GetMeta retrieves a value previously stored by PutMeta.
func (s *Store) GetMeta(key string) ([]byte, bool, error) {
	var out []byte
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get([]byte(key))
		if v == nil {
			return nil
		}
		found = true
		out = append([]byte(nil), v...)
		return nil
	})
	return out, found, err
}

func heightKey(h uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], h)
	return b[:]
}
