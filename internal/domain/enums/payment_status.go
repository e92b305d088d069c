package enums

import "strings"

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCanceled  PaymentStatus = "canceled"
)

// ParsePaymentStatus maps provider spellings onto the internal status set.
// Unknown values are reported with ok=false.
func ParsePaymentStatus(raw string) (PaymentStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending", "waiting_for_capture":
		return PaymentStatusPending, true
	case "succeeded", "success", "paid":
		return PaymentStatusSucceeded, true
	case "failed", "failure":
		return PaymentStatusFailed, true
	case "canceled", "cancelled":
		return PaymentStatusCanceled, true
	default:
		return "", false
	}
}

func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusSucceeded || s == PaymentStatusFailed || s == PaymentStatusCanceled
}
