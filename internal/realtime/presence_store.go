package realtime

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Member is the presence payload for one user.
type Member struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

// PresenceStore mirrors presence membership outside the tracker so other
// processes can read who is online.
type PresenceStore interface {
	Add(ctx context.Context, channel string, m Member) error
	Remove(ctx context.Context, channel string, userID uint64) error
	Members(ctx context.Context, channel string) ([]Member, error)
}

type MemoryPresenceStore struct {
	mu       sync.Mutex
	channels map[string]map[uint64]Member
}

func NewMemoryPresenceStore() *MemoryPresenceStore {
	return &MemoryPresenceStore{channels: make(map[string]map[uint64]Member)}
}

func (s *MemoryPresenceStore) Add(_ context.Context, channel string, m Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.channels[channel]
	if !ok {
		set = make(map[uint64]Member)
		s.channels[channel] = set
	}
	set[m.ID] = m
	return nil
}

func (s *MemoryPresenceStore) Remove(_ context.Context, channel string, userID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.channels[channel]
	delete(set, userID)
	if len(set) == 0 {
		delete(s.channels, channel)
	}
	return nil
}

func (s *MemoryPresenceStore) Members(_ context.Context, channel string) ([]Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Member, 0, len(s.channels[channel]))
	for _, m := range s.channels[channel] {
		out = append(out, m)
	}
	sortMembers(out)
	return out, nil
}

type presenceHash interface {
	HSetWithTTL(ctx context.Context, key, field, value string, ttl time.Duration) error
	HDel(ctx context.Context, key string, fields ...string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	PresenceKey(channel string) string
}

// RedisPresenceStore keeps one hash per channel, field user id, value the
// JSON member. The hash expires if no process refreshes it.
type RedisPresenceStore struct {
	redis presenceHash
	ttl   time.Duration
}

func NewRedisPresenceStore(redis presenceHash, ttl time.Duration) *RedisPresenceStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisPresenceStore{redis: redis, ttl: ttl}
}

func (s *RedisPresenceStore) Add(ctx context.Context, channel string, m Member) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.redis.HSetWithTTL(ctx, s.redis.PresenceKey(channel), strconv.FormatUint(m.ID, 10), string(raw), s.ttl)
}

func (s *RedisPresenceStore) Remove(ctx context.Context, channel string, userID uint64) error {
	return s.redis.HDel(ctx, s.redis.PresenceKey(channel), strconv.FormatUint(userID, 10))
}

func (s *RedisPresenceStore) Members(ctx context.Context, channel string) ([]Member, error) {
	fields, err := s.redis.HGetAll(ctx, s.redis.PresenceKey(channel))
	if err != nil {
		return nil, err
	}
	out := make([]Member, 0, len(fields))
	for _, raw := range fields {
		var m Member
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	sortMembers(out)
	return out, nil
}

func sortMembers(ms []Member) {
	sort.Slice(ms, func(i, j int) bool { return ms[i].ID < ms[j].ID })
}
