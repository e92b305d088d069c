package polling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ivankudzin/creditpay/internal/domain/enums"
	"github.com/ivankudzin/creditpay/internal/domain/model"
	pgrepo "github.com/ivankudzin/creditpay/internal/repo/postgres"
	"github.com/ivankudzin/creditpay/internal/services/gateway"
	"github.com/ivankudzin/creditpay/internal/services/reconcile"
)

const (
	defaultInterval = 2 * time.Second
	defaultMaxWait  = 25 * time.Second
)

var (
	ErrValidation      = errors.New("validation error")
	ErrForbidden       = errors.New("payment belongs to another user")
	ErrPaymentNotFound = errors.New("payment not found")
)

type PaymentStore interface {
	FindByExternalID(ctx context.Context, externalID string) (model.Payment, error)
	LatestPendingForUser(ctx context.Context, userID int64) (model.Payment, error)
}

type Gateway interface {
	GetPayment(ctx context.Context, externalID string) (gateway.Intent, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, conf reconcile.Confirmation) (reconcile.Result, error)
}

type Throttle interface {
	AllowLookup(ctx context.Context, externalID string) (int64, bool, error)
}

type CreditCatalog interface {
	CreditsFor(productKey string) (int64, error)
}

type Status struct {
	ExternalID     string
	Status         enums.PaymentStatus
	CreditsGranted int64
	RetryAfter     time.Duration
	// SoftError is set when the provider could not be asked; the caller
	// should poll again later.
	SoftError error
}

type Service struct {
	payments   PaymentStore
	gateway    Gateway
	reconciler Reconciler
	throttle   Throttle
	catalog    CreditCatalog
	interval   time.Duration
	maxWait    time.Duration
	log        *zap.Logger
}

type Dependencies struct {
	Payments   PaymentStore
	Gateway    Gateway
	Reconciler Reconciler
	Throttle   Throttle
	Catalog    CreditCatalog
	Interval   time.Duration
	MaxWait    time.Duration
	Logger     *zap.Logger
}

func NewService(deps Dependencies) *Service {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	interval := deps.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	maxWait := deps.MaxWait
	if maxWait <= 0 {
		maxWait = defaultMaxWait
	}
	return &Service{
		payments:   deps.Payments,
		gateway:    deps.Gateway,
		reconciler: deps.Reconciler,
		throttle:   deps.Throttle,
		catalog:    deps.Catalog,
		interval:   interval,
		maxWait:    maxWait,
		log:        log,
	}
}

// Check reports the payment's status, asking the provider when the stored
// row is still pending. An empty externalID means the user's latest
// pending payment.
func (s *Service) Check(ctx context.Context, userID int64, externalID string) (Status, error) {
	if userID <= 0 {
		return Status{}, ErrValidation
	}
	if s.payments == nil || s.gateway == nil || s.reconciler == nil {
		return Status{}, fmt.Errorf("polling dependencies are not configured")
	}

	payment, err := s.load(ctx, userID, strings.TrimSpace(externalID))
	if err != nil {
		return Status{}, err
	}
	if payment.UserID != userID {
		s.log.Warn("payment status requested by non-owner",
			zap.Int64("user_id", userID),
			zap.String("external_id", payment.ExternalID),
		)
		return Status{}, ErrForbidden
	}

	switch payment.Status {
	case enums.PaymentStatusSucceeded:
		return Status{
			ExternalID:     payment.ExternalID,
			Status:         payment.Status,
			CreditsGranted: s.creditsFor(payment.ProductKey),
		}, nil
	case enums.PaymentStatusFailed, enums.PaymentStatusCanceled:
		return Status{ExternalID: payment.ExternalID, Status: payment.Status}, nil
	}

	pending := Status{ExternalID: payment.ExternalID, Status: enums.PaymentStatusPending}

	if s.throttle != nil {
		retryAfter, allowed, err := s.throttle.AllowLookup(ctx, payment.ExternalID)
		if err != nil {
			s.log.Warn("provider lookup throttle unavailable", zap.Error(err))
		} else if !allowed {
			pending.RetryAfter = time.Duration(retryAfter) * time.Second
			return pending, nil
		}
	}

	intent, err := s.gateway.GetPayment(ctx, payment.ExternalID)
	if err != nil {
		s.log.Warn("provider payment lookup failed",
			zap.String("external_id", payment.ExternalID),
			zap.Error(err),
		)
		pending.SoftError = err
		return pending, nil
	}
	if intent.Status == enums.PaymentStatusPending {
		return pending, nil
	}

	result, err := s.reconciler.Reconcile(ctx, reconcile.Confirmation{
		ExternalID:  payment.ExternalID,
		Status:      intent.Status,
		AmountMinor: intent.AmountMinor,
		Currency:    intent.Currency,
		Source:      enums.ConfirmationSourcePoll,
	})
	if err != nil {
		if errors.Is(err, reconcile.ErrPersistence) {
			pending.SoftError = err
			return pending, nil
		}
		return Status{}, err
	}

	return Status{
		ExternalID:     payment.ExternalID,
		Status:         result.Status,
		CreditsGranted: result.CreditsGranted,
	}, nil
}

// Await repeats Check until the payment leaves pending or the wait window
// closes. The window is capped by the configured maximum.
func (s *Service) Await(ctx context.Context, userID int64, externalID string, wait time.Duration) (Status, error) {
	if wait > s.maxWait {
		wait = s.maxWait
	}
	deadline := time.Now().Add(wait)

	for {
		status, err := s.Check(ctx, userID, externalID)
		if err != nil || status.Status != enums.PaymentStatusPending {
			return status, err
		}
		externalID = status.ExternalID

		next := s.interval
		if status.RetryAfter > next {
			next = status.RetryAfter
		}
		if time.Until(deadline) < next {
			return status, nil
		}

		timer := time.NewTimer(next)
		select {
		case <-ctx.Done():
			timer.Stop()
			return status, ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Service) load(ctx context.Context, userID int64, externalID string) (model.Payment, error) {
	var (
		payment model.Payment
		err     error
	)
	if externalID == "" {
		payment, err = s.payments.LatestPendingForUser(ctx, userID)
	} else {
		payment, err = s.payments.FindByExternalID(ctx, externalID)
	}
	if err != nil {
		if errors.Is(err, pgrepo.ErrPaymentNotFound) {
			return model.Payment{}, ErrPaymentNotFound
		}
		return model.Payment{}, err
	}
	return payment, nil
}

func (s *Service) creditsFor(productKey string) int64 {
	if s.catalog == nil {
		return 0
	}
	credits, err := s.catalog.CreditsFor(productKey)
	if err != nil {
		return 0
	}
	return credits
}
