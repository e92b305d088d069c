package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ivankudzin/creditpay/internal/domain/model"
)

type BalanceEventsRepo struct {
	client  *goredis.Client
	channel string
}

func NewBalanceEventsRepo(client *goredis.Client, channel string) *BalanceEventsRepo {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = "balance:changed"
	}
	return &BalanceEventsRepo{client: client, channel: channel}
}

func (r *BalanceEventsRepo) Name() string {
	return "redis"
}

func (r *BalanceEventsRepo) Publish(ctx context.Context, change model.BalanceChange) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}

	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal balance change: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish balance change: %w", err)
	}
	return nil
}
