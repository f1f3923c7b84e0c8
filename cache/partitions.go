package cache

import (
	"fmt"
)

// Purpose identifies what a partition stores.
type Purpose string

const (
	Static  Purpose = "static"
	API     Purpose = "api"
	Images  Purpose = "images"
	Offline Purpose = "offline"
)

// Purposes lists every purpose a running version owns a partition for.
var Purposes = []Purpose{Static, API, Images, Offline}

// Manager owns the versioned partitions of one cache.
// Exactly one partition per purpose is current: the one named after the running version.
type Manager struct {
	provider CacheProvider
	name     string
	version  string
}

func NewManager(provider CacheProvider, name, version string) *Manager {
	return &Manager{
		provider: provider,
		name:     name,
		version:  version,
	}
}

// Name returns the partition name for a purpose, e.g. "octo-books-api-v1".
func (m *Manager) Name(purpose Purpose) string {
	return fmt.Sprintf("%s-%s-%s", m.name, purpose, m.version)
}

// Current returns the names of the partitions of the running version.
func (m *Manager) Current() []string {
	names := make([]string, 0, len(Purposes))
	for _, purpose := range Purposes {
		names = append(names, m.Name(purpose))
	}
	return names
}

// Partition returns the current partition for a purpose.
func (m *Manager) Partition(purpose Purpose) Partition {
	return Partition{Name: m.Name(purpose), provider: m.provider}
}

// Open creates all current partitions.
func (m *Manager) Open() error {
	for _, name := range m.Current() {
		if err := m.provider.Open(name); err != nil {
			return fmt.Errorf("open partition %s: %w", name, err)
		}
	}
	return nil
}

// Activate deletes every partition that the running version does not reference,
// together with all of its entries. Current partitions are left untouched.
// It returns the names of the deleted partitions.
func (m *Manager) Activate() ([]string, error) {
	existing, err := m.provider.Partitions()
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	current := make(map[string]struct{})
	for _, name := range m.Current() {
		current[name] = struct{}{}
	}
	deleted := make([]string, 0)
	for _, name := range existing {
		if _, ok := current[name]; ok {
			continue
		}
		if err := m.provider.Delete(name); err != nil {
			return deleted, fmt.Errorf("delete partition %s: %w", name, err)
		}
		deleted = append(deleted, name)
	}
	return deleted, nil
}

// Partition is a named bucket of stored responses.
type Partition struct {
	Name     string
	provider CacheProvider
}

// Match returns the stored bytes for the key, or ErrCacheMiss.
func (p Partition) Match(key string) ([]byte, error) {
	bytes, ok, err := p.provider.Get(p.Name, key)
	if err != nil {
		return nil, fmt.Errorf("read %s from %s: %w", key, p.Name, err)
	}
	if !ok {
		return nil, ErrCacheMiss
	}
	return bytes, nil
}

// Put stores the bytes under the key, overwriting any previous entry.
func (p Partition) Put(key string, bytes []byte) error {
	if err := p.provider.Put(p.Name, key, bytes); err != nil {
		return fmt.Errorf("write %s to %s: %w", key, p.Name, err)
	}
	return nil
}

// Has checks if the partition holds an entry for the key.
func (p Partition) Has(key string) bool {
	return p.provider.Has(p.Name, key)
}

// Purge removes the entry for the key.
func (p Partition) Purge(key string) error {
	return p.provider.Purge(p.Name, key)
}

// Keys returns all keys in the partition.
func (p Partition) Keys() ([]string, error) {
	keys := make([]string, 0)
	err := p.provider.Keys(p.Name, func(key string) {
		keys = append(keys, key)
	})
	return keys, err
}
