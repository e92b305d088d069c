package dto

import "strings"

type NotificationAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

// NotificationObject is the provider's native payment object, sent when the
// callback uses the {"event","object"} envelope.
type NotificationObject struct {
	ID       string              `json:"id"`
	Status   string              `json:"status"`
	Amount   *NotificationAmount `json:"amount,omitempty"`
	Metadata map[string]any      `json:"metadata,omitempty"`
}

type NotificationRequest struct {
	EventType     string              `json:"event_type"`
	PaymentStatus string              `json:"payment_status"`
	ExternalID    string              `json:"external_id"`
	Amount        *NotificationAmount `json:"amount,omitempty"`
	Metadata      map[string]any      `json:"metadata,omitempty"`

	Type   string              `json:"type,omitempty"`
	Event  string              `json:"event,omitempty"`
	Object *NotificationObject `json:"object,omitempty"`
}

// Normalize folds the native envelope into the flat fields.
func (r NotificationRequest) Normalize() NotificationRequest {
	out := r
	if strings.TrimSpace(out.EventType) == "" {
		out.EventType = r.Event
	}
	if r.Object != nil {
		if strings.TrimSpace(out.ExternalID) == "" {
			out.ExternalID = r.Object.ID
		}
		if strings.TrimSpace(out.PaymentStatus) == "" {
			out.PaymentStatus = r.Object.Status
		}
		if out.Amount == nil {
			out.Amount = r.Object.Amount
		}
		if out.Metadata == nil {
			out.Metadata = r.Object.Metadata
		}
	}
	out.EventType = strings.TrimSpace(out.EventType)
	out.ExternalID = strings.TrimSpace(out.ExternalID)
	out.PaymentStatus = strings.TrimSpace(out.PaymentStatus)
	if out.PaymentStatus == "" {
		// payment.succeeded / payment.canceled carry the status in the event name.
		if i := strings.LastIndex(out.EventType, "."); i >= 0 {
			out.PaymentStatus = out.EventType[i+1:]
		}
	}
	return out
}

type NotificationResponse struct {
	OK bool `json:"ok"`
}
