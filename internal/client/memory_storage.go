package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// MemoryStorage keeps blobs in process memory. Used for development and tests.
type MemoryStorage struct {
	mu      sync.RWMutex
	baseURL string
	objects map[string]memoryObject
	// Unavailable makes every call fail as if the backend were unreachable.
	Unavailable bool
}

type memoryObject struct {
	data        []byte
	contentType string
}

func NewMemoryStorage(baseURL string) *MemoryStorage {
	return &MemoryStorage{
		baseURL: baseURL,
		objects: make(map[string]memoryObject),
	}
}

func (m *MemoryStorage) Upload(_ context.Context, key string, body io.Reader, contentType string) (string, error) {
	if m.Unavailable {
		return "", fmt.Errorf("failed to upload to storage: backend unreachable")
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	m.objects[key] = memoryObject{data: data, contentType: contentType}
	m.mu.Unlock()
	return m.URLForKey(key), nil
}

func (m *MemoryStorage) Open(_ context.Context, key string) (*Object, error) {
	if m.Unavailable {
		return nil, fmt.Errorf("failed to read from storage: backend unreachable")
	}
	m.mu.RLock()
	obj, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrObjectNotFound
	}
	ct := obj.contentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	return &Object{
		Body:        io.NopCloser(bytes.NewReader(obj.data)),
		ContentType: ct,
		Length:      int64(len(obj.data)),
	}, nil
}

func (m *MemoryStorage) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStorage) URLForKey(key string) string {
	return m.baseURL + "/" + key
}

func (m *MemoryStorage) KeyFromURL(raw string) (string, bool) {
	return keyFromPrefixes(raw, []string{m.baseURL + "/"})
}
