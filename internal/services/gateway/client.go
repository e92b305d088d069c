package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

const (
	defaultRequestTimeout  = 10 * time.Second
	defaultMaxAttempts     = 3
	defaultInitialInterval = 300 * time.Millisecond
)

type Options struct {
	RequestTimeout  time.Duration
	MaxAttempts     int
	InitialInterval time.Duration
}

// Client bounds every provider call with a timeout and retries creation
// on transient failures. Retries resend the same idempotency key.
type Client struct {
	provider        Provider
	timeout         time.Duration
	maxAttempts     int
	initialInterval time.Duration
	log             *zap.Logger
}

func NewClient(provider Provider, opts Options, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = defaultInitialInterval
	}

	return &Client{
		provider:        provider,
		timeout:         opts.RequestTimeout,
		maxAttempts:     opts.MaxAttempts,
		initialInterval: opts.InitialInterval,
		log:             log,
	}
}

func (c *Client) CreatePayment(ctx context.Context, req CreateRequest) (Intent, error) {
	if c.provider == nil {
		return Intent{}, fmt.Errorf("%w: provider is not configured", ErrGatewayUnavailable)
	}
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		return Intent{}, fmt.Errorf("idempotency key is required")
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.initialInterval
	policy.MaxInterval = 4 * c.initialInterval

	attempt := 0
	intent, err := backoff.Retry(ctx, func() (Intent, error) {
		attempt++
		intent, err := c.createOnce(ctx, req)
		if err == nil {
			return intent, nil
		}
		if errors.Is(err, ErrGatewayUnavailable) {
			return Intent{}, err
		}
		return Intent{}, backoff.Permanent(err)
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(c.maxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.log.Warn("gateway create payment retry",
				zap.Int("attempt", attempt),
				zap.Duration("next", next),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		if !errors.Is(err, ErrGatewayUnavailable) && !errors.Is(err, ErrGatewayRejected) {
			err = fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
		return Intent{}, err
	}
	if strings.TrimSpace(intent.ExternalID) == "" {
		return Intent{}, fmt.Errorf("%w: provider returned empty payment id", ErrGatewayRejected)
	}
	return intent, nil
}

// GetPayment queries the provider once. Polling callers retry on their own
// schedule, so no backoff here.
func (c *Client) GetPayment(ctx context.Context, externalID string) (Intent, error) {
	if c.provider == nil {
		return Intent{}, fmt.Errorf("%w: provider is not configured", ErrGatewayUnavailable)
	}
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return Intent{}, fmt.Errorf("external id is required")
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	intent, err := c.provider.GetPayment(callCtx, externalID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrGatewayUnavailable) {
			return Intent{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
		return Intent{}, err
	}
	return intent, nil
}

func (c *Client) createOnce(ctx context.Context, req CreateRequest) (Intent, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	intent, err := c.provider.CreatePayment(callCtx, req)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrGatewayUnavailable) {
		return Intent{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	return intent, err
}
