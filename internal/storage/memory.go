package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const memScheme = "mem:"

// Memory — хранилище в памяти. Безопасно для конкурентного использования.
type Memory struct {
	mu      sync.RWMutex
	content map[string][]byte
}

// NewMemory создаёт пустое хранилище в памяти.
func NewMemory() *Memory {
	return &Memory{content: make(map[string][]byte)}
}

// Name реализует Backend.
func (m *Memory) Name() string { return "memory" }

// Put реализует Backend.
func (m *Memory) Put(_ context.Context, bucketID uuid.UUID, key string, r io.Reader, size *int64) (*Object, error) {
	hr := newHashingReader(r)
	data, err := io.ReadAll(hr)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения данных: %w", err)
	}
	if err := checkSize(size, hr.n); err != nil {
		return nil, err
	}

	name := objectName(bucketID, key)
	m.mu.Lock()
	m.content[name] = data
	m.mu.Unlock()

	return &Object{URI: memScheme + name, Size: hr.n, Checksum: hr.checksum()}, nil
}

// Open реализует Backend.
func (m *Memory) Open(_ context.Context, uri string) (io.ReadCloser, error) {
	name, ok := strings.CutPrefix(uri, memScheme)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}
	m.mu.RLock()
	data, found := m.content[name]
	m.mu.RUnlock()
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete реализует Backend.
func (m *Memory) Delete(_ context.Context, uri string) error {
	name, ok := strings.CutPrefix(uri, memScheme)
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}
	m.mu.Lock()
	delete(m.content, name)
	m.mu.Unlock()
	return nil
}

// Len возвращает число хранимых объектов.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.content)
}
