package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

type PutResult struct {
	Key      string
	Location string
	ETag     string
}

// ObjectStore keeps settlement reports. Put overwrites an existing key.
type ObjectStore interface {
	Put(ctx context.Context, key string, contentType string, body io.Reader) (*PutResult, error)
	Get(ctx context.Context, key string) ([]byte, error)
	PublicURL(key string) string
}

// MemoryObjectStore keeps objects in process memory. Used when R2 is not configured and in tests.
type MemoryObjectStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{objects: make(map[string][]byte)}
}

func (m *MemoryObjectStore) Put(ctx context.Context, key string, contentType string, body io.Reader) (*PutResult, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return nil, fmt.Errorf("failed to read object body (key: %s): %w", key, err)
	}
	m.mu.Lock()
	m.objects[key] = buf.Bytes()
	m.mu.Unlock()
	return &PutResult{Key: key, Location: m.PublicURL(key)}, nil
}

func (m *MemoryObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return append([]byte(nil), obj...), nil
}

func (m *MemoryObjectStore) PublicURL(key string) string {
	return "memory://" + key
}
