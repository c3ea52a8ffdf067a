package cache

import (
	"sort"
	"sync"
)

type MemCache struct {
	mutex *sync.RWMutex
	db    map[string]map[string]CacheEntry
}

func NewMemCache() MemCache {
	return MemCache{
		mutex: &sync.RWMutex{},
		db:    make(map[string]map[string]CacheEntry),
	}
}

func (m MemCache) Partitions() ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	names := make([]string, 0, len(m.db))
	for name := range m.db {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m MemCache) HasPartition(name string) (bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	_, ok := m.db[name]
	return ok, nil
}

func (m MemCache) OpenPartition(name string) error {
	if name == "" {
		return ErrNoPartition
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.db[name]; !ok {
		m.db[name] = make(map[string]CacheEntry)
	}
	return nil
}

func (m MemCache) DeletePartition(name string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	_, ok := m.db[name]
	delete(m.db, name)
	return ok, nil
}

func (m MemCache) Get(partition, key string) (CacheEntry, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	entry, ok := m.db[partition][key]
	if !ok {
		return CacheEntry{Key: key}, false, nil
	}
	return copyEntry(entry), true, nil
}

func (m MemCache) Put(partition string, entry CacheEntry) error {
	return m.Populate(map[string][]CacheEntry{partition: {entry}})
}

func (m MemCache) Populate(batch map[string][]CacheEntry) error {
	for partition := range batch {
		if partition == "" {
			return ErrNoPartition
		}
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for partition, entries := range batch {
		p, ok := m.db[partition]
		if !ok {
			p = make(map[string]CacheEntry)
			m.db[partition] = p
		}
		for _, ce := range entries {
			p[ce.Key] = copyEntry(ce)
		}
	}
	return nil
}

func (m MemCache) Purge(partition, key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.db[partition], key)
	return nil
}

func (m MemCache) Keys(partition string, cb func(string)) error {
	m.mutex.RLock()
	keys := make([]string, 0, len(m.db[partition]))
	for key := range m.db[partition] {
		keys = append(keys, key)
	}
	m.mutex.RUnlock()
	sort.Strings(keys)
	for _, key := range keys {
		cb(key)
	}
	return nil
}

func (m MemCache) Close() error {
	return nil
}

// copyEntry makes sure callers never share the stored byte slice.
func copyEntry(ce CacheEntry) CacheEntry {
	ce.Bytes = append([]byte(nil), ce.Bytes...)
	return ce
}
