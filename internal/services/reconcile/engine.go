package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ivankudzin/creditpay/internal/domain/enums"
	"github.com/ivankudzin/creditpay/internal/domain/model"
	pgrepo "github.com/ivankudzin/creditpay/internal/repo/postgres"
)

var (
	ErrPaymentNotFound   = errors.New("payment not found")
	ErrAmountMismatch    = errors.New("reported amount does not match payment")
	ErrUnknownProduct    = errors.New("payment product has no credit amount")
	ErrUnsupportedStatus = errors.New("unsupported payment status")
	ErrPersistence       = errors.New("reconciliation persistence failed")
)

type PaymentStore interface {
	FindByExternalID(ctx context.Context, externalID string) (model.Payment, error)
	MarkSucceeded(ctx context.Context, externalID string) (model.Payment, bool, error)
	MarkTerminal(ctx context.Context, externalID string, status enums.PaymentStatus) (model.Payment, bool, error)
	ListSucceededWithoutLedger(ctx context.Context, filter pgrepo.UnappliedFilter) ([]model.Payment, error)
}

type CreditStore interface {
	ApplyCredit(ctx context.Context, payment model.Payment, credits int64, source enums.ConfirmationSource) (model.BalanceChange, bool, error)
}

type CreditCatalog interface {
	CreditsFor(productKey string) (int64, error)
}

type Publisher interface {
	PublishBalanceChanged(ctx context.Context, change model.BalanceChange) error
}

type Alerter interface {
	Alert(ctx context.Context, text string) error
}

// Confirmation is what a provider (pushed or polled) says about a payment.
type Confirmation struct {
	ExternalID  string
	Status      enums.PaymentStatus
	AmountMinor int64
	Currency    string
	Source      enums.ConfirmationSource
}

type Result struct {
	Payment        model.Payment
	Status         enums.PaymentStatus
	CreditsGranted int64
	// AlreadyApplied is set when another caller already reconciled the payment.
	AlreadyApplied bool
}

type Engine struct {
	payments   PaymentStore
	credits    CreditStore
	catalog    CreditCatalog
	publisher  Publisher
	alerter    Alerter
	log        *zap.Logger
	sweepGrace time.Duration

	sweepMu       sync.Mutex
	sweepFailures map[string]int
	sweepSkipped  map[string]struct{}
}

type Dependencies struct {
	Payments  PaymentStore
	Credits   CreditStore
	Catalog   CreditCatalog
	Publisher Publisher
	Alerter   Alerter
	Logger    *zap.Logger
	// SweepGrace is how long a succeeded payment may wait for its credit
	// before the sweep treats it as stuck.
	SweepGrace time.Duration
}

func NewEngine(deps Dependencies) *Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	grace := deps.SweepGrace
	if grace <= 0 {
		grace = defaultSweepGrace
	}
	return &Engine{
		payments:      deps.Payments,
		credits:       deps.Credits,
		catalog:       deps.Catalog,
		publisher:     deps.Publisher,
		alerter:       deps.Alerter,
		log:           log,
		sweepGrace:    grace,
		sweepFailures: make(map[string]int),
		sweepSkipped:  make(map[string]struct{}),
	}
}

// Reconcile applies a provider confirmation. It is safe to call any number
// of times, concurrently, for the same payment: the pending -> succeeded
// update has one winner and only the winner credits the balance.
func (e *Engine) Reconcile(ctx context.Context, conf Confirmation) (Result, error) {
	if e.payments == nil || e.credits == nil || e.catalog == nil {
		return Result{}, fmt.Errorf("reconcile dependencies are not configured")
	}
	conf.ExternalID = strings.TrimSpace(conf.ExternalID)
	if conf.ExternalID == "" {
		return Result{}, ErrPaymentNotFound
	}

	payment, err := e.payments.FindByExternalID(ctx, conf.ExternalID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrPaymentNotFound) {
			return Result{}, ErrPaymentNotFound
		}
		return Result{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	switch conf.Status {
	case enums.PaymentStatusPending:
		return e.resultFor(payment, false), nil
	case enums.PaymentStatusFailed, enums.PaymentStatusCanceled:
		return e.markTerminal(ctx, payment, conf)
	case enums.PaymentStatusSucceeded:
		return e.confirm(ctx, payment, conf)
	default:
		return Result{}, ErrUnsupportedStatus
	}
}

func (e *Engine) confirm(ctx context.Context, payment model.Payment, conf Confirmation) (Result, error) {
	if conf.AmountMinor != payment.AmountMinor ||
		(conf.Currency != "" && !strings.EqualFold(conf.Currency, payment.Currency)) {
		e.log.Error("payment amount mismatch",
			zap.String("external_id", payment.ExternalID),
			zap.Int64("user_id", payment.UserID),
			zap.Int64("stored_amount", payment.AmountMinor),
			zap.Int64("reported_amount", conf.AmountMinor),
			zap.String("stored_currency", payment.Currency),
			zap.String("reported_currency", conf.Currency),
			zap.String("source", string(conf.Source)),
		)
		e.alert(ctx, fmt.Sprintf("amount mismatch for payment %s (user %d): stored %d %s, reported %d %s via %s",
			payment.ExternalID, payment.UserID, payment.AmountMinor, payment.Currency, conf.AmountMinor, conf.Currency, conf.Source))
		return Result{}, ErrAmountMismatch
	}

	credits, err := e.catalog.CreditsFor(payment.ProductKey)
	if err != nil {
		e.log.Error("no credit amount for paid product",
			zap.String("external_id", payment.ExternalID),
			zap.String("product_key", payment.ProductKey),
			zap.Error(err),
		)
		e.alert(ctx, fmt.Sprintf("payment %s has unknown product %q, left pending", payment.ExternalID, payment.ProductKey))
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownProduct, payment.ProductKey)
	}

	updated, won, err := e.payments.MarkSucceeded(ctx, payment.ExternalID)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !won {
		current, err := e.payments.FindByExternalID(ctx, payment.ExternalID)
		if err != nil {
			current = payment
		}
		if current.Status != enums.PaymentStatusSucceeded {
			e.log.Warn("success reported for closed payment",
				zap.String("external_id", current.ExternalID),
				zap.String("status", string(current.Status)),
			)
			return e.resultFor(current, false), nil
		}
		e.log.Debug("payment already reconciled",
			zap.String("external_id", current.ExternalID),
			zap.String("source", string(conf.Source)),
		)
		result := e.resultFor(current, true)
		result.CreditsGranted = credits
		return result, nil
	}

	change, applied, err := e.credits.ApplyCredit(ctx, updated, credits, conf.Source)
	if err != nil {
		e.log.Error("payment confirmed but credit not applied, left for sweep",
			zap.String("external_id", updated.ExternalID),
			zap.Int64("user_id", updated.UserID),
			zap.Error(err),
		)
		return Result{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	e.log.Info("payment reconciled",
		zap.String("external_id", updated.ExternalID),
		zap.Int64("user_id", updated.UserID),
		zap.Int64("credits", credits),
		zap.Bool("applied", applied),
		zap.String("source", string(conf.Source)),
	)
	if applied {
		e.publish(ctx, change)
	}

	return Result{
		Payment:        updated,
		Status:         enums.PaymentStatusSucceeded,
		CreditsGranted: credits,
		AlreadyApplied: !applied,
	}, nil
}

func (e *Engine) markTerminal(ctx context.Context, payment model.Payment, conf Confirmation) (Result, error) {
	updated, changed, err := e.payments.MarkTerminal(ctx, payment.ExternalID, conf.Status)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !changed {
		return e.resultFor(payment, payment.Status == conf.Status), nil
	}

	e.log.Info("payment closed without credit",
		zap.String("external_id", updated.ExternalID),
		zap.String("status", string(updated.Status)),
		zap.String("source", string(conf.Source)),
	)
	return e.resultFor(updated, false), nil
}

func (e *Engine) resultFor(payment model.Payment, alreadyApplied bool) Result {
	result := Result{
		Payment:        payment,
		Status:         payment.Status,
		AlreadyApplied: alreadyApplied,
	}
	if payment.Status == enums.PaymentStatusSucceeded {
		if credits, err := e.catalog.CreditsFor(payment.ProductKey); err == nil {
			result.CreditsGranted = credits
		}
	}
	return result
}

func (e *Engine) publish(ctx context.Context, change model.BalanceChange) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.PublishBalanceChanged(ctx, change); err != nil {
		e.log.Warn("balance change not published",
			zap.Int64("user_id", change.UserID),
			zap.String("reference", change.Reference),
			zap.Error(err),
		)
	}
}

func (e *Engine) alert(ctx context.Context, text string) {
	if e.alerter == nil {
		return
	}
	if err := e.alerter.Alert(ctx, text); err != nil {
		e.log.Warn("operator alert failed", zap.Error(err))
	}
}
