package store

import (
	"bytes"
	"sort"
	"sync"
)

// MemoryKV é um KV em memória, usado em testes e em nós sem disco
type MemoryKV struct {
	buckets map[string]map[string][]byte
	mutex   sync.RWMutex
	closed  bool
}

// NewMemoryKV cria um KV em memória vazio
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{buckets: make(map[string]map[string][]byte)}
}

func (m *MemoryKV) Put(bucket string, key, value []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.closed {
		return ErrClosed
	}
	bkt, ok := m.buckets[bucket]
	if !ok {
		bkt = make(map[string][]byte)
		m.buckets[bucket] = bkt
	}
	bkt[string(key)] = bytes.Clone(value)
	return nil
}

func (m *MemoryKV) Get(bucket string, key []byte) ([]byte, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	value, ok := m.buckets[bucket][string(key)]
	if !ok {
		return nil, nil
	}
	return bytes.Clone(value), nil
}

func (m *MemoryKV) Contains(bucket string, key []byte) (bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.buckets[bucket][string(key)]
	return ok, nil
}

func (m *MemoryKV) Delete(bucket string, key []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.closed {
		return ErrClosed
	}
	delete(m.buckets[bucket], string(key))
	return nil
}

func (m *MemoryKV) ForEach(bucket string, fn func(key, value []byte) error) error {
	m.mutex.RLock()
	if m.closed {
		m.mutex.RUnlock()
		return ErrClosed
	}
	keys := make([]string, 0, len(m.buckets[bucket]))
	for k := range m.buckets[bucket] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = bytes.Clone(m.buckets[bucket][k])
	}
	m.mutex.RUnlock()

	// fn roda sem o lock, sobre uma cópia
	for i, k := range keys {
		if err := fn([]byte(k), values[i]); err != nil {
			return err
		}
	}
	return nil
}

// Close marca o KV como fechado; operações seguintes retornam ErrClosed
func (m *MemoryKV) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.closed = true
	return nil
}
