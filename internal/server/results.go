package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/storage/memory/v2"
	"github.com/gofiber/storage/redis/v3"
)

// ErrResultNotFound is returned for unknown or expired result IDs.
var ErrResultNotFound = errors.New("result not found or expired")

// StoredResult holds the downloadable artifacts of one mapping run.
type StoredResult struct {
	Filename string `json:"filename"`
	CSV      []byte `json:"csv"`
	Layer    []byte `json:"layer"`
}

// blobStorage is the subset of the gofiber storage drivers used here.
type blobStorage interface {
	Get(key string) ([]byte, error)
	Set(key string, val []byte, exp time.Duration) error
	Close() error
}

// ResultStore keeps results for a limited time so downloads can follow the
// result page.
type ResultStore struct {
	storage blobStorage
	ttl     time.Duration
}

const (
	resultKeyPrefix = "attackmap:result:"
	uploadKeyPrefix = "attackmap:upload:"
)

// NewMemoryResultStore keeps results in process memory. Expired entries are
// collected every ten seconds.
func NewMemoryResultStore(ttl time.Duration) *ResultStore {
	return &ResultStore{storage: memory.New(memory.Config{GCInterval: 10 * time.Second}), ttl: ttl}
}

// NewRedisResultStore keeps results in Redis, shared across replicas.
func NewRedisResultStore(url string, ttl time.Duration) *ResultStore {
	return &ResultStore{storage: redis.New(redis.Config{URL: url}), ttl: ttl}
}

// Put stores res under id.
func (s *ResultStore) Put(id string, res StoredResult) error {
	return s.put(resultKeyPrefix+id, res)
}

// Get loads the result stored under id.
func (s *ResultStore) Get(id string) (StoredResult, error) {
	return s.get(resultKeyPrefix + id)
}

// PutUpload keeps a previewed upload until the user confirms the mapping.
// Only Filename and CSV are used.
func (s *ResultStore) PutUpload(id string, up StoredResult) error {
	return s.put(uploadKeyPrefix+id, up)
}

// GetUpload loads a previewed upload.
func (s *ResultStore) GetUpload(id string) (StoredResult, error) {
	return s.get(uploadKeyPrefix + id)
}

func (s *ResultStore) put(key string, res StoredResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := s.storage.Set(key, data, s.ttl); err != nil {
		return fmt.Errorf("store result: %w", err)
	}
	return nil
}

func (s *ResultStore) get(key string) (StoredResult, error) {
	data, err := s.storage.Get(key)
	if err != nil {
		return StoredResult{}, fmt.Errorf("load result: %w", err)
	}
	if len(data) == 0 {
		return StoredResult{}, ErrResultNotFound
	}
	var res StoredResult
	if err := json.Unmarshal(data, &res); err != nil {
		return StoredResult{}, fmt.Errorf("decode result: %w", err)
	}
	return res, nil
}

// Close releases the storage connection.
func (s *ResultStore) Close() error {
	return s.storage.Close()
}
