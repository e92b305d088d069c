package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ivankudzin/creditpay/internal/domain/enums"
	authsvc "github.com/ivankudzin/creditpay/internal/services/auth"
	"github.com/ivankudzin/creditpay/internal/services/catalog"
	"github.com/ivankudzin/creditpay/internal/services/gateway"
	paymentsvc "github.com/ivankudzin/creditpay/internal/services/payments"
	pollingsvc "github.com/ivankudzin/creditpay/internal/services/polling"
	"github.com/ivankudzin/creditpay/internal/services/reconcile"
	"github.com/ivankudzin/creditpay/internal/transport/http/dto"
	httperrors "github.com/ivankudzin/creditpay/internal/transport/http/errors"
)

const (
	requestTimestampHeader = "X-Request-Timestamp"
	maxStatusWait          = 60 * time.Second
)

type PaymentHandler struct {
	payments *paymentsvc.Service
	polling  *pollingsvc.Service
}

func NewPaymentHandler(payments *paymentsvc.Service, polling *pollingsvc.Service) *PaymentHandler {
	return &PaymentHandler{
		payments: payments,
		polling:  polling,
	}
}

func (h *PaymentHandler) Create(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, r, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.payments == nil {
		writeInternal(w, r, "PAYMENTS_SERVICE_UNAVAILABLE", "payments service is unavailable")
		return
	}

	var req dto.PaymentCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, r, "VALIDATION_ERROR", "invalid request body")
		return
	}
	requestedAt, err := parseRequestTimestamp(r.Header.Get(requestTimestampHeader))
	if err != nil {
		writeBadRequest(w, r, "VALIDATION_ERROR", "invalid "+requestTimestampHeader+" header")
		return
	}

	result, err := h.payments.Create(r.Context(), identity.UserID, paymentsvc.CreateInput{
		ProductKey:  req.ProductKey,
		RequestedAt: requestedAt,
	})
	if err != nil {
		switch {
		case errors.Is(err, catalog.ErrInvalidProduct):
			writeBadRequest(w, r, "INVALID_PRODUCT", "unknown product")
		case errors.Is(err, paymentsvc.ErrValidation):
			writeBadRequest(w, r, "VALIDATION_ERROR", "invalid payment request")
		case errors.Is(err, gateway.ErrGatewayUnavailable):
			httperrors.Write(w, http.StatusServiceUnavailable, httperrors.New(r, "GATEWAY_UNAVAILABLE", "payment provider is unavailable, try again later"))
		case errors.Is(err, gateway.ErrGatewayRejected):
			httperrors.Write(w, http.StatusBadGateway, httperrors.New(r, "GATEWAY_REJECTED", "payment provider rejected the payment"))
		default:
			writeInternal(w, r, "INTERNAL_ERROR", "failed to create payment")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, dto.PaymentCreateResponse{
		PaymentID:  result.PaymentID,
		ExternalID: result.ExternalID,
		PaymentURL: result.PaymentURL,
		Status:     string(result.Status),
		Credits:    result.Credits,
		Idempotent: result.Idempotent,
	})
}

// Status checks one payment, optionally holding the request open for up
// to wait seconds while the payment is still pending.
func (h *PaymentHandler) Status(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, r, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.polling == nil {
		writeInternal(w, r, "POLLING_SERVICE_UNAVAILABLE", "payment status service is unavailable")
		return
	}

	externalID := strings.TrimSpace(r.URL.Query().Get("external_id"))
	wait := time.Duration(0)
	if raw := strings.TrimSpace(r.URL.Query().Get("wait")); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds < 0 {
			writeBadRequest(w, r, "VALIDATION_ERROR", "wait must be a non-negative number of seconds")
			return
		}
		wait = time.Duration(seconds) * time.Second
		if wait > maxStatusWait {
			wait = maxStatusWait
		}
	}

	var (
		status pollingsvc.Status
		err    error
	)
	if wait > 0 {
		status, err = h.polling.Await(r.Context(), identity.UserID, externalID, wait)
	} else {
		status, err = h.polling.Check(r.Context(), identity.UserID, externalID)
	}
	if err != nil {
		switch {
		case errors.Is(err, pollingsvc.ErrValidation):
			writeBadRequest(w, r, "VALIDATION_ERROR", "invalid payment status request")
		case errors.Is(err, pollingsvc.ErrForbidden):
			writeForbidden(w, r, "FORBIDDEN", "payment belongs to another user")
		case errors.Is(err, pollingsvc.ErrPaymentNotFound), errors.Is(err, reconcile.ErrPaymentNotFound):
			writeNotFound(w, r, "PAYMENT_NOT_FOUND", "payment not found")
		case errors.Is(err, reconcile.ErrAmountMismatch), errors.Is(err, reconcile.ErrUnknownProduct):
			httperrors.Write(w, http.StatusConflict, httperrors.New(r, "PAYMENT_NOT_CONFIRMED", "payment could not be confirmed, contact support"))
		default:
			writeInternal(w, r, "INTERNAL_ERROR", "failed to check payment status")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, dto.PaymentStatusResponse{
		ExternalID:     status.ExternalID,
		Status:         string(status.Status),
		CreditsGranted: status.CreditsGranted,
		RetryAfterSec:  int64(status.RetryAfter / time.Second),
		Message:        statusMessage(status.Status),
	})
}

func statusMessage(status enums.PaymentStatus) string {
	switch status {
	case enums.PaymentStatusSucceeded:
		return "credited"
	case enums.PaymentStatusFailed, enums.PaymentStatusCanceled:
		return "payment was not completed"
	default:
		return "processing"
	}
}

// parseRequestTimestamp accepts unix milliseconds or RFC 3339. Empty means
// the server picks the time.
func parseRequestTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if millis, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if millis <= 0 {
			return time.Time{}, errors.New("timestamp must be positive")
		}
		return time.UnixMilli(millis).UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}
