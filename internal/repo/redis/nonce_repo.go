package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const notificationNoncePrefix = "notify:nonce:"

type NonceRepo struct {
	client *goredis.Client
}

func NewNonceRepo(client *goredis.Client) *NonceRepo {
	return &NonceRepo{client: client}
}

// Claim records the nonce for ttl. It returns false when the nonce was
// already claimed inside its lifetime.
func (r *NonceRepo) Claim(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	nonce = strings.TrimSpace(nonce)
	if nonce == "" || ttl <= 0 {
		return false, fmt.Errorf("invalid nonce claim payload")
	}

	ok, err := r.client.SetNX(ctx, notificationNoncePrefix+nonce, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim notification nonce: %w", err)
	}
	return ok, nil
}

func (r *NonceRepo) Release(ctx context.Context, nonce string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	nonce = strings.TrimSpace(nonce)
	if nonce == "" {
		return fmt.Errorf("invalid nonce release payload")
	}

	if err := r.client.Del(ctx, notificationNoncePrefix+nonce).Err(); err != nil {
		return fmt.Errorf("release notification nonce: %w", err)
	}
	return nil
}
