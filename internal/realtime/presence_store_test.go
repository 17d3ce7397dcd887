package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHash struct {
	data map[string]map[string]string
	ttls map[string]time.Duration
}

func newFakeHash() *fakeHash {
	return &fakeHash{data: map[string]map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeHash) HSetWithTTL(_ context.Context, key, field, value string, ttl time.Duration) error {
	if f.data[key] == nil {
		f.data[key] = map[string]string{}
	}
	f.data[key][field] = value
	f.ttls[key] = ttl
	return nil
}

func (f *fakeHash) HDel(_ context.Context, key string, fields ...string) error {
	for _, field := range fields {
		delete(f.data[key], field)
	}
	return nil
}

func (f *fakeHash) HGetAll(_ context.Context, key string) (map[string]string, error) {
	out := map[string]string{}
	for k, v := range f.data[key] {
		out[k] = v
	}
	return out, nil
}

func (f *fakeHash) PresenceKey(channel string) string { return "kky:presence:" + channel }

func TestRedisPresenceStore(t *testing.T) {
	hash := newFakeHash()
	store := NewRedisPresenceStore(hash, time.Minute)
	ctx := context.Background()
	ch := OrderPresenceChannel(2)

	require.NoError(t, store.Add(ctx, ch, Member{ID: 9, Name: "Ben Reyes"}))
	require.NoError(t, store.Add(ctx, ch, Member{ID: 4, Name: "Ana Cruz"}))
	assert.JSONEq(t, `{"id":9,"name":"Ben Reyes"}`, hash.data["kky:presence:order.2.presence"]["9"])
	assert.Equal(t, time.Minute, hash.ttls["kky:presence:order.2.presence"])

	members, err := store.Members(ctx, ch)
	require.NoError(t, err)
	assert.Equal(t, []Member{{ID: 4, Name: "Ana Cruz"}, {ID: 9, Name: "Ben Reyes"}}, members)

	require.NoError(t, store.Remove(ctx, ch, 9))
	members, err = store.Members(ctx, ch)
	require.NoError(t, err)
	assert.Equal(t, []Member{{ID: 4, Name: "Ana Cruz"}}, members)
}

func TestRedisPresenceStoreSkipsCorruptEntries(t *testing.T) {
	hash := newFakeHash()
	hash.data["kky:presence:order.1.presence"] = map[string]string{"1": "{", "2": `{"id":2,"name":"B"}`}
	members, err := NewRedisPresenceStore(hash, 0).Members(context.Background(), OrderPresenceChannel(1))
	require.NoError(t, err)
	assert.Equal(t, []Member{{ID: 2, Name: "B"}}, members)
}

func TestMemoryPresenceStore(t *testing.T) {
	store := NewMemoryPresenceStore()
	ctx := context.Background()
	require.NoError(t, store.Add(ctx, "c", Member{ID: 1, Name: "A"}))
	require.NoError(t, store.Remove(ctx, "c", 1))
	require.NoError(t, store.Remove(ctx, "c", 1))
	members, err := store.Members(ctx, "c")
	require.NoError(t, err)
	assert.Empty(t, members)
}
