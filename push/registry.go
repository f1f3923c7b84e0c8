// Package push keeps the push subscriptions of the catalog's readers
// and delivers book notifications to them.
package push

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Subscription is a browser push subscription.
// The endpoint is its natural key.
type Subscription struct {
	ID           string    `json:"id"`
	Endpoint     string    `json:"endpoint"`
	P256dh       string    `json:"p256dh"`
	Auth         string    `json:"auth"`
	UserAgent    string    `json:"userAgent,omitempty"`
	SubscribedAt time.Time `json:"subscribedAt"`
	LastUsedAt   time.Time `json:"lastUsedAt"`
}

// Registry stores subscriptions.
//
// Implementations must be thread-safe!
type Registry interface {
	// Upsert inserts the subscription, or on an existing endpoint overwrites its keys
	// and user agent and refreshes its last use. It returns the id of the stored subscription.
	Upsert(ctx context.Context, sub Subscription) (string, error)
	// Remove deletes the subscription with the endpoint and returns the number of removed rows.
	// Removing an unknown endpoint is not an error.
	Remove(ctx context.Context, endpoint string) (int64, error)
	// List returns all subscriptions, newest subscribed first.
	List(ctx context.Context) ([]Subscription, error)
	// Count returns the number of subscriptions.
	Count(ctx context.Context) (int, error)
	// Stats returns a summary of the subscriptions that is safe to display.
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

type Stats struct {
	TotalSubscriptions int         `json:"totalSubscriptions"`
	Subscriptions      []StatEntry `json:"subscriptions"`
}

type StatEntry struct {
	// Truncated, see TruncateEndpoint
	EndpointPrefix string    `json:"endpointPrefix"`
	UserAgent      string    `json:"userAgent"`
	SubscribedAt   time.Time `json:"subscribedAt"`
}

const endpointDisplayLength = 50

// TruncateEndpoint shortens an endpoint for display.
// Endpoints identify a browser installation, so full endpoints never leave the registry in summaries.
func TruncateEndpoint(endpoint string) string {
	if len(endpoint) > endpointDisplayLength {
		endpoint = endpoint[:endpointDisplayLength]
	}
	return endpoint + "..."
}

func statsOf(subs []Subscription) Stats {
	stats := Stats{
		TotalSubscriptions: len(subs),
		Subscriptions:      make([]StatEntry, 0, len(subs)),
	}
	for _, s := range subs {
		stats.Subscriptions = append(stats.Subscriptions, StatEntry{
			EndpointPrefix: TruncateEndpoint(s.Endpoint),
			UserAgent:      s.UserAgent,
			SubscribedAt:   s.SubscribedAt,
		})
	}
	return stats
}

// MemRegistry keeps subscriptions in memory.
type MemRegistry struct {
	mutex *sync.RWMutex
	subs  map[string]Subscription
	// insertion order, to order subscriptions with equal timestamps
	seq   map[string]int
	next  int
	clock func() time.Time
}

func NewMemRegistry() *MemRegistry {
	return &MemRegistry{
		mutex: &sync.RWMutex{},
		subs:  make(map[string]Subscription),
		seq:   make(map[string]int),
		clock: time.Now,
	}
}

func (m *MemRegistry) Upsert(ctx context.Context, sub Subscription) (string, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	now := m.clock()
	if existing, ok := m.subs[sub.Endpoint]; ok {
		existing.P256dh = sub.P256dh
		existing.Auth = sub.Auth
		existing.UserAgent = sub.UserAgent
		existing.LastUsedAt = now
		m.subs[sub.Endpoint] = existing
		return existing.ID, nil
	}
	sub.ID = uuid.NewString()
	sub.SubscribedAt = now
	sub.LastUsedAt = now
	m.subs[sub.Endpoint] = sub
	m.seq[sub.Endpoint] = m.next
	m.next++
	return sub.ID, nil
}

func (m *MemRegistry) Remove(ctx context.Context, endpoint string) (int64, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.subs[endpoint]; !ok {
		return 0, nil
	}
	delete(m.subs, endpoint)
	delete(m.seq, endpoint)
	return 1, nil
}

func (m *MemRegistry) List(ctx context.Context) ([]Subscription, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	subs := make([]Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	sort.Slice(subs, func(i, j int) bool {
		if !subs[i].SubscribedAt.Equal(subs[j].SubscribedAt) {
			return subs[i].SubscribedAt.After(subs[j].SubscribedAt)
		}
		return m.seq[subs[i].Endpoint] > m.seq[subs[j].Endpoint]
	})
	return subs, nil
}

func (m *MemRegistry) Count(ctx context.Context) (int, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.subs), nil
}

func (m *MemRegistry) Stats(ctx context.Context) (Stats, error) {
	subs, err := m.List(ctx)
	if err != nil {
		return Stats{}, err
	}
	return statsOf(subs), nil
}

func (m *MemRegistry) Close() error {
	return nil
}
