package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/amalcenter/scheduling-api/pkg/errors"
)

// TherapistLocker serializes write paths that read-then-modify a single
// therapist's calendar. Holding the lease is required around the
// snapshot-compute-persist sequence of the generator, optimizer and bulk
// coordinator; read-only callers never take it.
type TherapistLocker interface {
	Acquire(ctx context.Context, therapistID string) (release func(), err error)
}

const lockKeyPrefix = "schedlock:therapist:"

// RedisTherapistLocker implements the lease with SET NX PX so it survives
// multiple API instances. Release only deletes a lease this holder owns.
type RedisTherapistLocker struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisTherapistLocker(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisTherapistLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisTherapistLocker{client: client, ttl: ttl, logger: logger}
}

func (l *RedisTherapistLocker) Acquire(ctx context.Context, therapistID string) (func(), error) {
	key := lockKeyPrefix + therapistID
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to acquire therapist lease")
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrLockUnavailable, "another scheduling operation is running for this therapist")
	}

	release := func() {
		// Compare-and-delete so an expired lease taken over by another
		// holder is never removed by us.
		const script = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`
		if err := l.client.Eval(context.Background(), script, []string{key}, token).Err(); err != nil {
			l.logger.Warn("failed to release therapist lease", zap.String("therapist_id", therapistID), zap.Error(err))
		}
	}
	return release, nil
}

// LocalTherapistLocker is the in-process fallback used when redis is not
// configured. Correct for a single API instance only.
type LocalTherapistLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalTherapistLocker() *LocalTherapistLocker {
	return &LocalTherapistLocker{held: make(map[string]struct{})}
}

func (l *LocalTherapistLocker) Acquire(_ context.Context, therapistID string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, taken := l.held[therapistID]; taken {
		return nil, appErrors.Clone(appErrors.ErrLockUnavailable, "another scheduling operation is running for this therapist")
	}
	l.held[therapistID] = struct{}{}
	release := func() {
		l.mu.Lock()
		delete(l.held, therapistID)
		l.mu.Unlock()
	}
	return release, nil
}
