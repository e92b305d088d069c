package rate

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const lookupKeyPrefix = "rate:provider_lookup:"

type WindowStore interface {
	IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// Limiter bounds how often the provider is asked about one payment.
type Limiter struct {
	store  WindowStore
	window time.Duration
	limit  int
}

func NewLimiter(store WindowStore, window time.Duration, limit int) *Limiter {
	if limit < 0 {
		limit = 0
	}
	return &Limiter{
		store:  store,
		window: window,
		limit:  limit,
	}
}

// AllowLookup reports whether a provider lookup for externalID may go out
// now. A zero limit or window disables throttling.
func (l *Limiter) AllowLookup(ctx context.Context, externalID string) (int64, bool, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return 0, false, fmt.Errorf("external id is required")
	}
	if l == nil || l.limit == 0 || l.window <= 0 {
		return 0, true, nil
	}
	if l.store == nil {
		return 0, false, fmt.Errorf("rate limiter store is nil")
	}

	count, ttl, err := l.store.IncrementWindow(ctx, lookupKey(externalID), l.window)
	if err != nil {
		return 0, false, err
	}
	if count > int64(l.limit) {
		return ceilSeconds(ttl), false, nil
	}
	return 0, true, nil
}

func lookupKey(externalID string) string {
	return lookupKeyPrefix + externalID
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	sec := int64(d / time.Second)
	if d%time.Second != 0 {
		sec++
	}
	if sec <= 0 {
		sec = 1
	}
	return sec
}
