package usecase

import (
	"context"
	"hash/fnv"
	"time"
)

// Clock supplies the current time. Injected everywhere so tests can run
// against a fixed instant.
type Clock func() time.Time

// EventEmitter records a billing event for asynchronous delivery. Emission
// must never fail the billing operation that produced the event;
// implementations swallow and log their own errors.
type EventEmitter interface {
	Emit(ctx context.Context, eventType string, payload any)
}

// Locker is an optional distributed mutex scoped to a single key, used to
// cheaply serialize invoice generation in front of the database constraint.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

// NopEmitter discards events; used when wiring without webhooks.
type NopEmitter struct{}

func (NopEmitter) Emit(context.Context, string, any) {}

func hashToInt64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64() & ((1 << 63) - 1))
}
