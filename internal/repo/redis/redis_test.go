package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ivankudzin/creditpay/internal/domain/model"
)

func TestNonceRepoRejectsReplayUntilExpiry(t *testing.T) {
	mr, client := newMiniRedisClient(t)
	defer mr.Close()
	defer func() { _ = client.Close() }()

	repo := NewNonceRepo(client)
	ctx := context.Background()

	first, err := repo.Claim(ctx, "abc123", time.Minute)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if !first {
		t.Fatalf("first claim should succeed")
	}

	second, err := repo.Claim(ctx, "abc123", time.Minute)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if second {
		t.Fatalf("replayed nonce should not be claimable")
	}

	mr.FastForward(2 * time.Minute)

	third, err := repo.Claim(ctx, "abc123", time.Minute)
	if err != nil {
		t.Fatalf("claim after expiry: %v", err)
	}
	if !third {
		t.Fatalf("nonce should be claimable after ttl")
	}
}

func TestNonceRepoReleaseFreesNonce(t *testing.T) {
	mr, client := newMiniRedisClient(t)
	defer mr.Close()
	defer func() { _ = client.Close() }()

	repo := NewNonceRepo(client)
	ctx := context.Background()

	if ok, err := repo.Claim(ctx, "n-1", time.Minute); err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}
	if err := repo.Release(ctx, "n-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if mr.Exists(notificationNoncePrefix + "n-1") {
		t.Fatalf("released nonce key still present")
	}
	if ok, err := repo.Claim(ctx, "n-1", time.Minute); err != nil || !ok {
		t.Fatalf("claim after release: ok=%v err=%v", ok, err)
	}
	if err := repo.Release(ctx, " "); err == nil {
		t.Fatalf("expected error for blank nonce")
	}
}

func TestRateRepoWindowResets(t *testing.T) {
	mr, client := newMiniRedisClient(t)
	defer mr.Close()
	defer func() { _ = client.Close() }()

	repo := NewRateRepo(client)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		count, ttl, err := repo.IncrementWindow(ctx, "rate:test", 5*time.Second)
		if err != nil {
			t.Fatalf("increment #%d: %v", i, err)
		}
		if count != int64(i) {
			t.Fatalf("unexpected count on #%d: %d", i, count)
		}
		if ttl <= 0 || ttl > 5*time.Second {
			t.Fatalf("unexpected ttl on #%d: %s", i, ttl)
		}
	}

	mr.FastForward(6 * time.Second)

	count, _, err := repo.IncrementWindow(ctx, "rate:test", 5*time.Second)
	if err != nil {
		t.Fatalf("increment after window: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected a fresh window, got count=%d", count)
	}
}

func TestBalanceEventsRepoPublishesJSON(t *testing.T) {
	mr, client := newMiniRedisClient(t)
	defer mr.Close()
	defer func() { _ = client.Close() }()

	ctx := context.Background()
	sub := client.Subscribe(ctx, "balance:changed")
	defer func() { _ = sub.Close() }()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	repo := NewBalanceEventsRepo(client, "")
	change := model.BalanceChange{UserID: 7, Delta: 1000, Balance: 1000, Reason: "payment", Reference: "pay_1"}
	if err := repo.Publish(ctx, change); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		var got model.BalanceChange
		if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if got.UserID != 7 || got.Delta != 1000 || got.Reference != "pay_1" {
			t.Fatalf("unexpected event: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("balance event was not delivered")
	}
}

func newMiniRedisClient(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}

	client := goredis.NewClient(&goredis.Options{
		Addr: mr.Addr(),
	})

	return mr, client
}
