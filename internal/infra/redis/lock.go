package redis

import (
	"context"
	"time"

	"subscription-billing/internal/domain"
	"subscription-billing/internal/usecase"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Compile-time check
var _ usecase.Locker = (*Locker)(nil)

// Locker is a SetNX-based distributed mutex. Unlock releases only if the
// token matches, so an expired holder cannot free a successor's lock.
type Locker struct {
	cli *redis.Client
}

func NewLocker(c *Client) *Locker {
	return &Locker{cli: c.cli}
}

func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	for i := 0; i < 5; i++ {
		ok, err := l.cli.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			continue
		}
		if ok {
			return token, nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return "", domain.ErrLockNotAcquired
}

var luaUnlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

func (l *Locker) Unlock(ctx context.Context, key, token string) error {
	_, err := luaUnlock.Run(ctx, l.cli, []string{key}, token).Result()
	return err
}
