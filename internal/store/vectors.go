// Package store persists embedding vectors in a bbolt file so technique
// vectors survive restarts. Keys are the embedder's cache keys; values are a
// little-endian uint32 length followed by the float32 components.
package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketVectors = []byte("vectors")

// VectorStore implements mapper.VectorCache on bbolt.
type VectorStore struct {
	db *bolt.DB
}

// Open opens (or creates) the database at path.
func Open(path string) (*VectorStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("bbolt open: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketVectors)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("bbolt init: %w", err)
	}
	return &VectorStore{db: db}, nil
}

// Close closes the underlying database.
func (s *VectorStore) Close() error {
	return s.db.Close()
}

// GetVector returns the vector stored under key.
func (s *VectorStore) GetVector(key string) ([]float32, bool, error) {
	var vec []float32
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketVectors).Get([]byte(key))
		if data == nil {
			return nil
		}
		// data is only valid inside the transaction; decode copies it out.
		v, err := decodeVector(data)
		if err != nil {
			return fmt.Errorf("vector %s: %w", key, err)
		}
		vec = v
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return vec, vec != nil, nil
}

// PutVector stores vec under key, replacing any previous value.
func (s *VectorStore) PutVector(key string, vec []float32) error {
	data := encodeVector(vec)
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVectors).Put([]byte(key), data)
	})
}

// Len reports how many vectors are stored.
func (s *VectorStore) Len() (int, error) {
	n := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketVectors).Stats().KeyN
		return nil
	})
	return n, err
}

// Clear removes every stored vector.
func (s *VectorStore) Clear() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketVectors); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketVectors)
		return err
	})
}

var errCorrupt = errors.New("corrupt vector record")

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4+4*len(vec))
	binary.LittleEndian.PutUint32(buf[:4], uint32(len(vec)))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4+4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(data []byte) ([]float32, error) {
	if len(data) < 4 {
		return nil, errCorrupt
	}
	n := int(binary.LittleEndian.Uint32(data[:4]))
	if len(data) != 4+4*n {
		return nil, errCorrupt
	}
	vec := make([]float32, n)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4+4*i:]))
	}
	return vec, nil
}
