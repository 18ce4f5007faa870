package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"timeclock/internal/timeclock/models"
	"timeclock/pkg/platform/sentinel"
)

const keyPrefix = "timeclock:presence:"

// DefaultTTL bounds how long a presence record outlives its last heartbeat.
const DefaultTTL = 15 * time.Minute

// RedisStore keeps the latest presence per entry with a TTL, so a device
// that stops reporting ages out on its own.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedis(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func key(entryID string) string {
	return keyPrefix + entryID
}

func (s *RedisStore) Save(ctx context.Context, p *models.Presence) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode presence: %w", err)
	}
	if err := s.client.Set(ctx, key(p.EntryID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("save presence: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, entryID string) (*models.Presence, error) {
	raw, err := s.client.Get(ctx, key(entryID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("presence for %s: %w", entryID, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get presence: %w", err)
	}
	var p models.Presence
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode presence: %w", err)
	}
	return &p, nil
}

func (s *RedisStore) Delete(ctx context.Context, entryID string) error {
	if err := s.client.Del(ctx, key(entryID)).Err(); err != nil {
		return fmt.Errorf("delete presence: %w", err)
	}
	return nil
}

// InMemory is used when Redis is not configured. Expiry is checked on read.
type InMemory struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	records map[string]memoryRecord
}

type memoryRecord struct {
	presence  models.Presence
	expiresAt time.Time
}

func NewInMemory(ttl time.Duration) *InMemory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &InMemory{ttl: ttl, now: time.Now, records: make(map[string]memoryRecord)}
}

func (s *InMemory) Save(_ context.Context, p *models.Presence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[p.EntryID] = memoryRecord{presence: *p, expiresAt: s.now().Add(s.ttl)}
	return nil
}

func (s *InMemory) Get(_ context.Context, entryID string) (*models.Presence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[entryID]
	if !ok || !s.now().Before(rec.expiresAt) {
		delete(s.records, entryID)
		return nil, fmt.Errorf("presence for %s: %w", entryID, sentinel.ErrNotFound)
	}
	p := rec.presence
	return &p, nil
}

func (s *InMemory) Delete(_ context.Context, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, entryID)
	return nil
}
