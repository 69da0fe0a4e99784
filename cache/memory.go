package cache

import (
	"context"
	"sort"
	"sync"
)

// MemoryStorage keeps all stores in process memory.
// Used mainly in tests, where it can also be told to fail.
type MemoryStorage struct {
	mutex  *sync.RWMutex
	stores map[string]*memStore
	order  []string

	fail error
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		mutex:  &sync.RWMutex{},
		stores: make(map[string]*memStore),
	}
}

// SetFail makes every following operation return err. A nil err restores
// normal operation.
func (m *MemoryStorage) SetFail(err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.fail = err
}

func (m *MemoryStorage) Open(_ context.Context, name string) (Store, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}
	s, ok := m.stores[name]
	if !ok {
		s = &memStore{storage: m, name: name, db: make(map[string][]byte)}
		m.stores[name] = s
		m.order = append(m.order, name)
	}
	return s, nil
}

func (m *MemoryStorage) Keys(_ context.Context) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if m.fail != nil {
		return nil, m.fail
	}
	names := make([]string, len(m.order))
	copy(names, m.order)
	return names, nil
}

func (m *MemoryStorage) Delete(_ context.Context, name string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.fail != nil {
		return false, m.fail
	}
	s, ok := m.stores[name]
	if !ok {
		return false, nil
	}
	s.deleted = true
	delete(m.stores, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (m *MemoryStorage) Has(_ context.Context, name string) (bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if m.fail != nil {
		return false, m.fail
	}
	_, ok := m.stores[name]
	return ok, nil
}

// memStore shares the mutex of its storage.
type memStore struct {
	storage *MemoryStorage
	name    string
	db      map[string][]byte
	deleted bool
}

func (s *memStore) Name() string {
	return s.name
}

func (s *memStore) Match(_ context.Context, key string) ([]byte, bool, error) {
	s.storage.mutex.RLock()
	defer s.storage.mutex.RUnlock()
	if s.storage.fail != nil {
		return nil, false, s.storage.fail
	}
	if s.deleted {
		return nil, false, nil
	}
	bytes, ok := s.db[key]
	return bytes, ok, nil
}

func (s *memStore) Put(_ context.Context, key string, bytes []byte) error {
	s.storage.mutex.Lock()
	defer s.storage.mutex.Unlock()
	if s.storage.fail != nil {
		return s.storage.fail
	}
	if s.deleted {
		return ErrStoreDeleted
	}
	s.db[key] = append([]byte(nil), bytes...)
	return nil
}

func (s *memStore) Delete(_ context.Context, key string) (bool, error) {
	s.storage.mutex.Lock()
	defer s.storage.mutex.Unlock()
	if s.storage.fail != nil {
		return false, s.storage.fail
	}
	_, ok := s.db[key]
	delete(s.db, key)
	return ok, nil
}

func (s *memStore) Keys(_ context.Context) ([]string, error) {
	s.storage.mutex.RLock()
	defer s.storage.mutex.RUnlock()
	if s.storage.fail != nil {
		return nil, s.storage.fail
	}
	keys := make([]string, 0, len(s.db))
	if s.deleted {
		return keys, nil
	}
	for key := range s.db {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}
