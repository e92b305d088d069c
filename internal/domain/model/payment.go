package model

import (
	"time"

	"github.com/ivankudzin/creditpay/internal/domain/enums"
)

type Payment struct {
	ID              string              `json:"id"`
	ExternalID      string              `json:"external_id"`
	UserID          int64               `json:"user_id"`
	ProductKey      string              `json:"product_key"`
	AmountMinor     int64               `json:"amount_minor"`
	Currency        string              `json:"currency"`
	Status          enums.PaymentStatus `json:"status"`
	IdempotencyKey  string              `json:"idempotency_key"`
	ConfirmationURL string              `json:"confirmation_url"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}
