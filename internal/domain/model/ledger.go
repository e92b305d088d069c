package model

import (
	"time"

	"github.com/ivankudzin/creditpay/internal/domain/enums"
)

type LedgerLine struct {
	ID        int64                    `json:"id"`
	PaymentID string                   `json:"payment_id"`
	UserID    int64                    `json:"user_id"`
	Credits   int64                    `json:"credits"`
	Source    enums.ConfirmationSource `json:"source"`
	CreatedAt time.Time                `json:"created_at"`
}
