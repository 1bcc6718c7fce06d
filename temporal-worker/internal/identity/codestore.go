package identity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCodeNotFound is returned for unknown or expired handles
var ErrCodeNotFound = errors.New("code not found or expired")

// CodeEntry is a sent code and the identity it proves
type CodeEntry struct {
	Code     string
	Identity string
	Attempts int
}

// CodeStore keeps sent codes until they are used or expire
type CodeStore interface {
	Save(ctx context.Context, handle string, entry CodeEntry, ttl time.Duration) error
	Get(ctx context.Context, handle string) (CodeEntry, error)
	IncrementAttempts(ctx context.Context, handle string) (int, error)
	Delete(ctx context.Context, handle string) error
}

// RedisStore keeps codes in a Redis hash per handle
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a code store on an existing client
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// NewRedisClient connects to the Redis database used for codes
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

// incrementAttempts counts a wrong code without recreating an expired hash
var incrementAttempts = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -1
end
return redis.call("HINCRBY", KEYS[1], "attempts", 1)
`)

func otpKey(handle string) string {
	return "otp:" + handle
}

func (s *RedisStore) Save(ctx context.Context, handle string, entry CodeEntry, ttl time.Duration) error {
	key := otpKey(handle)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "code", entry.Code, "identity", entry.Identity, "attempts", entry.Attempts)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to cache code: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, handle string) (CodeEntry, error) {
	fields, err := s.client.HGetAll(ctx, otpKey(handle)).Result()
	if err != nil {
		return CodeEntry{}, fmt.Errorf("failed to retrieve code: %w", err)
	}
	if len(fields) == 0 {
		return CodeEntry{}, ErrCodeNotFound
	}
	attempts, _ := strconv.Atoi(fields["attempts"])
	return CodeEntry{
		Code:     fields["code"],
		Identity: fields["identity"],
		Attempts: attempts,
	}, nil
}

func (s *RedisStore) IncrementAttempts(ctx context.Context, handle string) (int, error) {
	n, err := incrementAttempts.Run(ctx, s.client, []string{otpKey(handle)}).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to count attempt: %w", err)
	}
	if n < 0 {
		return 0, ErrCodeNotFound
	}
	return n, nil
}

func (s *RedisStore) Delete(ctx context.Context, handle string) error {
	if err := s.client.Del(ctx, otpKey(handle)).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to delete code: %w", err)
	}
	return nil
}

// MemoryStore keeps codes in process memory. Used when no Redis is
// configured; codes do not survive a worker restart.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	CodeEntry
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Save(ctx context.Context, handle string, entry CodeEntry, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpired()
	s.entries[handle] = memoryEntry{CodeEntry: entry, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, handle string) (CodeEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(handle)
	if !ok {
		return CodeEntry{}, ErrCodeNotFound
	}
	return e.CodeEntry, nil
}

func (s *MemoryStore) IncrementAttempts(ctx context.Context, handle string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(handle)
	if !ok {
		return 0, ErrCodeNotFound
	}
	e.Attempts++
	s.entries[handle] = e
	return e.Attempts, nil
}

func (s *MemoryStore) Delete(ctx context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, handle)
	return nil
}

// live must be called with mu held
func (s *MemoryStore) live(handle string) (memoryEntry, bool) {
	e, ok := s.entries[handle]
	if !ok {
		return memoryEntry{}, false
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, handle)
		return memoryEntry{}, false
	}
	return e, true
}

func (s *MemoryStore) evictExpired() {
	now := s.now()
	for h, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, h)
		}
	}
}
