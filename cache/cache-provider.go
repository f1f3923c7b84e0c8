package cache

import (
	"errors"
	"sort"
	"sync"
)

// ErrCacheMiss is returned when a partition holds no entry for a key.
var ErrCacheMiss = errors.New("cache miss")

// CacheProvider is an interface for a cache provider.
// It stores and retrieves []byte values, which represent HTTP responses,
// grouped in named partitions.
// A partition exists from the first Open until Delete, whether or not it holds entries.
//
// Implementations must be thread-safe!
type CacheProvider interface {
	// Open creates the partition if it does not exist yet.
	Open(partition string) error
	// Partitions returns the names of all existing partitions.
	Partitions() ([]string, error)
	// Get returns the stored bytes for the key in the partition, if they exist.
	// It also returns a boolean indicating whether retrieval was successful.
	Get(partition, key string) ([]byte, bool, error)
	// Put stores the bytes under the key, replacing any previous entry wholesale.
	// The partition is opened if needed.
	Put(partition, key string, bytes []byte) error
	// Purge removes the entry for the given key.
	Purge(partition, key string) error
	// Has checks if the specified key exists in the partition.
	Has(partition, key string) bool
	// Keys calls the given callback for each key in the partition.
	Keys(partition string, cb func(string)) error
	// Delete removes the partition together with all of its entries.
	Delete(partition string) error
	// Close releases the underlying storage.
	Close() error
}

type MemCache struct {
	mutex *sync.RWMutex
	db    map[string]map[string][]byte
}

func NewMemCache() MemCache {
	return MemCache{
		mutex: &sync.RWMutex{},
		db:    make(map[string]map[string][]byte),
	}
}

func (m MemCache) Open(partition string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.open(partition)
	return nil
}

func (m MemCache) open(partition string) map[string][]byte {
	p, ok := m.db[partition]
	if !ok {
		p = make(map[string][]byte)
		m.db[partition] = p
	}
	return p
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

func (m MemCache) Get(partition, key string) ([]byte, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	bytes, ok := m.db[partition][key]
	return bytes, ok, nil
}

func (m MemCache) Put(partition, key string, bytes []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	// copy so later changes to the caller's slice cannot patch the entry
	m.open(partition)[key] = append([]byte(nil), bytes...)
	return nil
}

func (m MemCache) Purge(partition, key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.db[partition], key)
	return nil
}

func (m MemCache) Has(partition, key string) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	_, ok := m.db[partition][key]
	return ok
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

func (m MemCache) Delete(partition string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.db, partition)
	return nil
}

func (m MemCache) Close() error {
	return nil
}
