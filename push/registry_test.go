package push

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registries(t *testing.T) map[string]Registry {
	t.Helper()
	sqlite, err := NewSQLiteRegistry(filepath.Join(t.TempDir(), "push.db"))
	require.NoError(t, err)
	memDB, err := NewSQLiteRegistry("")
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlite.Close()
		memDB.Close()
	})
	return map[string]Registry{
		"memory":        NewMemRegistry(),
		"sqlite":        sqlite,
		"sqlite-memory": memDB,
	}
}

func subscription(endpoint string) Subscription {
	return Subscription{
		Endpoint:  endpoint,
		P256dh:    "p256dh-" + endpoint,
		Auth:      "auth-" + endpoint,
		UserAgent: "Mozilla/5.0",
	}
}

func TestUpsertUpdatesWithoutGrowing(t *testing.T) {
	ctx := context.Background()
	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			id, err := reg.Upsert(ctx, subscription("https://push.example.com/a"))
			require.NoError(t, err)
			require.NotEmpty(t, id)

			updated := subscription("https://push.example.com/a")
			updated.P256dh = "rotated"
			updated.Auth = "rotated-auth"
			sameID, err := reg.Upsert(ctx, updated)
			require.NoError(t, err)
			assert.Equal(t, id, sameID)

			n, err := reg.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			subs, err := reg.List(ctx)
			require.NoError(t, err)
			require.Len(t, subs, 1)
			assert.Equal(t, "rotated", subs[0].P256dh)
			assert.Equal(t, "rotated-auth", subs[0].Auth)
			assert.False(t, subs[0].LastUsedAt.Before(subs[0].SubscribedAt))
		})
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			_, err := reg.Upsert(ctx, subscription("https://push.example.com/a"))
			require.NoError(t, err)

			removed, err := reg.Remove(ctx, "https://push.example.com/a")
			require.NoError(t, err)
			assert.EqualValues(t, 1, removed)

			removed, err = reg.Remove(ctx, "https://push.example.com/a")
			require.NoError(t, err)
			assert.EqualValues(t, 0, removed)

			n, err := reg.Count(ctx)
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestListNewestFirst(t *testing.T) {
	ctx := context.Background()
	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			for _, e := range []string{"first", "second", "third"} {
				_, err := reg.Upsert(ctx, subscription("https://push.example.com/"+e))
				require.NoError(t, err)
			}
			subs, err := reg.List(ctx)
			require.NoError(t, err)
			endpoints := make([]string, 0)
			for _, s := range subs {
				endpoints = append(endpoints, strings.TrimPrefix(s.Endpoint, "https://push.example.com/"))
			}
			assert.Equal(t, []string{"third", "second", "first"}, endpoints)
		})
	}
}

func TestStatsTruncateEndpoints(t *testing.T) {
	ctx := context.Background()
	endpoint := "https://fcm.googleapis.com/fcm/send/" + strings.Repeat("x", 100)
	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			_, err := reg.Upsert(ctx, subscription(endpoint))
			require.NoError(t, err)

			stats, err := reg.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, stats.TotalSubscriptions)
			require.Len(t, stats.Subscriptions, 1)
			assert.Equal(t, endpoint[:50]+"...", stats.Subscriptions[0].EndpointPrefix)
			assert.Equal(t, "Mozilla/5.0", stats.Subscriptions[0].UserAgent)
		})
	}
}

func TestTruncateEndpoint(t *testing.T) {
	assert.Equal(t, "https://short...", TruncateEndpoint("https://short"))
	assert.Len(t, TruncateEndpoint(strings.Repeat("a", 200)), 53)
}
