package payments

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ivankudzin/creditpay/internal/domain/enums"
	"github.com/ivankudzin/creditpay/internal/domain/model"
	"github.com/ivankudzin/creditpay/internal/services/catalog"
	"github.com/ivankudzin/creditpay/internal/services/gateway"
)

var (
	ErrValidation  = errors.New("validation error")
	ErrPersistence = errors.New("payment persistence failed")
)

type PaymentStore interface {
	CreatePending(ctx context.Context, payment model.Payment) (model.Payment, bool, error)
}

type Gateway interface {
	CreatePayment(ctx context.Context, req gateway.CreateRequest) (gateway.Intent, error)
}

type Catalog interface {
	Lookup(productKey string) (catalog.Product, error)
}

type Service struct {
	payments  PaymentStore
	gateway   Gateway
	catalog   Catalog
	returnURL string
	log       *zap.Logger
	now       func() time.Time
}

type Dependencies struct {
	Payments  PaymentStore
	Gateway   Gateway
	Catalog   Catalog
	ReturnURL string
	Logger    *zap.Logger
}

type CreateInput struct {
	ProductKey string
	// RequestedAt is the client's request timestamp; zero means now.
	RequestedAt time.Time
}

type CreateResult struct {
	PaymentID  string
	ExternalID string
	PaymentURL string
	Status     enums.PaymentStatus
	Credits    int64
	Idempotent bool
}

func NewService(deps Dependencies) *Service {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		payments:  deps.Payments,
		gateway:   deps.Gateway,
		catalog:   deps.Catalog,
		returnURL: strings.TrimSpace(deps.ReturnURL),
		log:       log,
		now:       time.Now,
	}
}

// Create opens a payment intent with the provider and records it as pending.
// The redirect URL is only returned once the pending row is stored.
func (s *Service) Create(ctx context.Context, userID int64, in CreateInput) (CreateResult, error) {
	if userID <= 0 {
		return CreateResult{}, ErrValidation
	}
	if s.payments == nil || s.gateway == nil || s.catalog == nil {
		return CreateResult{}, fmt.Errorf("payments dependencies are not configured")
	}

	product, err := s.catalog.Lookup(in.ProductKey)
	if err != nil {
		return CreateResult{}, err
	}

	requestedAt := in.RequestedAt
	if requestedAt.IsZero() {
		requestedAt = s.now().UTC().Truncate(time.Second)
	}
	key := IdempotencyKey(userID, product.Key, requestedAt)

	intent, err := s.gateway.CreatePayment(ctx, gateway.CreateRequest{
		IdempotencyKey: key,
		UserID:         userID,
		ProductKey:     product.Key,
		Description:    product.Title,
		AmountMinor:    product.PriceMinor,
		Currency:       product.Currency,
		ReturnURL:      s.returnURL,
	})
	if err != nil {
		s.log.Warn("gateway create payment failed",
			zap.Int64("user_id", userID),
			zap.String("product_key", product.Key),
			zap.Error(err),
		)
		return CreateResult{}, err
	}

	stored, created, err := s.payments.CreatePending(ctx, model.Payment{
		ExternalID:      intent.ExternalID,
		UserID:          userID,
		ProductKey:      product.Key,
		AmountMinor:     product.PriceMinor,
		Currency:        product.Currency,
		Status:          enums.PaymentStatusPending,
		IdempotencyKey:  key,
		ConfirmationURL: intent.ConfirmationURL,
	})
	if err != nil {
		s.log.Error("persist pending payment failed",
			zap.Int64("user_id", userID),
			zap.String("external_id", intent.ExternalID),
			zap.String("idempotency_key", key),
			zap.Error(err),
		)
		return CreateResult{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	if created {
		s.log.Info("payment created",
			zap.String("payment_id", stored.ID),
			zap.String("external_id", stored.ExternalID),
			zap.Int64("user_id", userID),
			zap.String("product_key", product.Key),
		)
	}

	return CreateResult{
		PaymentID:  stored.ID,
		ExternalID: stored.ExternalID,
		PaymentURL: stored.ConfirmationURL,
		Status:     stored.Status,
		Credits:    product.Credits,
		Idempotent: !created,
	}, nil
}

// IdempotencyKey derives the provider idempotency key from the purchase
// request, so a client retry of the same request maps to one provider charge.
func IdempotencyKey(userID int64, productKey string, requestedAt time.Time) string {
	raw := strconv.FormatInt(userID, 10) + "|" +
		strings.ToLower(strings.TrimSpace(productKey)) + "|" +
		strconv.FormatInt(requestedAt.UTC().UnixMilli(), 10)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
