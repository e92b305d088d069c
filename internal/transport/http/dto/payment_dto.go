package dto

type PaymentCreateRequest struct {
	ProductKey string `json:"product_key"`
}

type PaymentCreateResponse struct {
	PaymentID  string `json:"payment_id"`
	ExternalID string `json:"external_id"`
	PaymentURL string `json:"payment_url"`
	Status     string `json:"status"`
	Credits    int64  `json:"credits"`
	Idempotent bool   `json:"idempotent"`
}

type PaymentStatusResponse struct {
	ExternalID     string `json:"external_id"`
	Status         string `json:"status"`
	CreditsGranted int64  `json:"credits_granted,omitempty"`
	RetryAfterSec  int64  `json:"retry_after_sec,omitempty"`
	Message        string `json:"message"`
}
