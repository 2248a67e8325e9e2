package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// RecordLocker guards a record against a second concurrent mutation.
// TryLock never waits: a held lock yields ErrRecordBusy.
type RecordLocker interface {
	TryLock(ctx context.Context, id uuid.UUID) (unlock func(), err error)
}

const lockKeyPrefix = "record:lock:"

// RedisLocker shares locks between every API instance.
type RedisLocker struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisLocker(rdb *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{rdb: rdb, ttl: ttl}
}

func (l *RedisLocker) TryLock(ctx context.Context, id uuid.UUID) (func(), error) {
	key := lockKeyPrefix + id.String()
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, &PersistenceError{Op: "acquire record lock", Err: err}
	}
	if !ok {
		return nil, ErrRecordBusy
	}
	return func() {
		// Delete only while the key still holds our token.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.rdb, []string{key}, token).Err(); err != nil && err != redis.Nil {
			log.WithError(err).WithField("record_id", id).Warn("Failed to release record lock")
		}
	}, nil
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// MemoryLocker is used when no Redis is configured and in tests.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[uuid.UUID]struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[uuid.UUID]struct{})}
}

func (l *MemoryLocker) TryLock(_ context.Context, id uuid.UUID) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[id]; busy {
		return nil, ErrRecordBusy
	}
	l.held[id] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, id)
			l.mu.Unlock()
		})
	}, nil
}
