package gateway

import (
	"context"
	"errors"

	"github.com/ivankudzin/creditpay/internal/domain/enums"
)

var (
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrGatewayRejected    = errors.New("payment gateway rejected request")
)

type CreateRequest struct {
	IdempotencyKey string
	UserID         int64
	ProductKey     string
	Description    string
	AmountMinor    int64
	Currency       string
	ReturnURL      string
}

// Intent is the provider's view of one payment.
type Intent struct {
	ExternalID      string
	ConfirmationURL string
	Status          enums.PaymentStatus
	AmountMinor     int64
	Currency        string
}

// Provider is implemented by concrete payment gateways. Implementations
// must wrap transport failures in ErrGatewayUnavailable and provider
// refusals in ErrGatewayRejected.
type Provider interface {
	CreatePayment(ctx context.Context, req CreateRequest) (Intent, error)
	GetPayment(ctx context.Context, externalID string) (Intent, error)
}
