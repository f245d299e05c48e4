package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// Memory is an in-process Store for tests and local runs without MinIO.
type Memory struct {
	mu      sync.Mutex
	objects map[string]MemoryObject
	// FailUpload, when set, makes Upload fail for the matching key.
	FailUpload func(key string) bool
}

type MemoryObject struct {
	Data        []byte
	ContentType string
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string]MemoryObject)}
}

func (m *Memory) Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	if m.FailUpload != nil && m.FailUpload(key) {
		return fmt.Errorf("objectstore: put %s: injected failure", key)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("objectstore: put %s: %w", key, err)
	}
	m.mu.Lock()
	m.objects[key] = MemoryObject{Data: data, ContentType: contentType}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	obj, ok := m.objects[key]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.Data)), nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

// Get returns a stored object.
func (m *Memory) Get(key string) (MemoryObject, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	return obj, ok
}

// Len returns the number of stored objects.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
