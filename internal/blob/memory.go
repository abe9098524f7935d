package blob

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// MemoryStore keeps photos in memory. Useful for tests and demos.
// It is safe for concurrent use.
type MemoryStore struct {
	baseURL string
	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	data        []byte
	contentType string
}

// NewMemoryStore creates an empty store whose URLs start with baseURL.
func NewMemoryStore(baseURL string) *MemoryStore {
	if baseURL == "" {
		baseURL = "memory://blobs"
	}
	return &MemoryStore{
		baseURL: baseURL,
		objects: make(map[string]memoryObject),
	}
}

// Put stores the photo under key.
func (m *MemoryStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("blob: reading content: %w", err)
	}
	if int64(len(data)) != size {
		return "", fmt.Errorf("blob: size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memoryObject{data: data, contentType: contentType}
	return joinURL(m.baseURL, key), nil
}

// Get returns a stored photo and its content type.
func (m *MemoryStore) Get(key string) ([]byte, string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	return obj.data, obj.contentType, ok
}

// Len is the number of stored photos.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

var _ Store = (*MemoryStore)(nil)
