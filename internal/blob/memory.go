package blob

import (
	"context"
	"sort"
	"strings"
	"sync"

	cserrors "github.com/xtxerr/contentstore/internal/errors"
)

// Memory is an in-process Store for tests and local runs.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]*Object
	closed  bool
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string]*Object)}
}

// Put implements Store.
func (m *Memory) Put(ctx context.Context, key string, data []byte, contentType string, tags map[string]string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	clean, err := CleanTags(tags)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return cserrors.ErrClosed
	}
	m.objects[key] = &Object{
		Key:         key,
		Data:        append([]byte(nil), data...),
		ContentType: contentType,
		Tags:        clean,
	}
	return nil
}

// Get implements Store.
func (m *Memory) Get(ctx context.Context, key string) (*Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, cserrors.ErrClosed
	}
	obj, ok := m.objects[key]
	if !ok {
		return nil, cserrors.NewNotFound("object", key)
	}
	tags := make(map[string]string, len(obj.Tags))
	for k, v := range obj.Tags {
		tags[k] = v
	}
	return &Object{Key: key, Data: append([]byte(nil), obj.Data...), ContentType: obj.ContentType, Tags: tags}, nil
}

// List implements Store.
func (m *Memory) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, cserrors.ErrClosed
	}
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete implements Store.
func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return cserrors.ErrClosed
	}
	delete(m.objects, key)
	return nil
}

// Len returns the number of objects.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// Close implements Store.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
