package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	authsvc "github.com/ivankudzin/creditpay/internal/services/auth"
	"github.com/ivankudzin/creditpay/internal/transport/http/dto"
)

func withUser(req *http.Request, userID int64, role string) *http.Request {
	return req.WithContext(authsvc.WithIdentity(req.Context(), authsvc.Identity{
		UserID: userID,
		Role:   role,
	}))
}

func checkStatus(t *testing.T, stack testStack, userID int64, query string) dto.PaymentStatusResponse {
	t.Helper()
	req := withUser(httptest.NewRequest(http.MethodGet, "/v1/payments/status?"+query, nil), userID, "user")
	rr := httptest.NewRecorder()
	stack.payments.Status(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d body=%s", rr.Code, rr.Body.String())
	}
	var payload dto.PaymentStatusResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode status response: %v", err)
	}
	return payload
}

func postNotification(t *testing.T, stack testStack, body string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/payments/notifications", strings.NewReader(body))
	rr := httptest.NewRecorder()
	stack.notifications.Handle(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected notification status: got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestPollThenLateNotificationCreditsOnce(t *testing.T) {
	stack := newTestStack()

	req := withUser(httptest.NewRequest(http.MethodPost, "/v1/payments", strings.NewReader(`{"product_key":"basic"}`)), 7, "user")
	req.Header.Set(requestTimestampHeader, "1767225600000")
	rr := httptest.NewRecorder()
	stack.payments.Create(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("create payment: got %d body=%s", rr.Code, rr.Body.String())
	}
	var created dto.PaymentCreateResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.ExternalID != "pay_1" || created.Status != "pending" || created.PaymentURL == "" {
		t.Fatalf("unexpected create response: %+v", created)
	}

	first := checkStatus(t, stack, 7, "external_id=pay_1")
	if first.Status != "pending" || first.Message != "processing" {
		t.Fatalf("expected pending before payment, got %+v", first)
	}

	stack.provider.confirm("pay_1")
	second := checkStatus(t, stack, 7, "external_id=pay_1")
	if second.Status != "succeeded" || second.CreditsGranted != 1000 || second.Message != "credited" {
		t.Fatalf("expected credited after payment, got %+v", second)
	}
	if got := stack.store.balance(7); got != 1000 {
		t.Fatalf("expected balance 1000, got %d", got)
	}

	postNotification(t, stack, `{"event_type":"payment.succeeded","payment_status":"succeeded","external_id":"pay_1","amount":{"value":"490.00","currency":"RUB"}}`)
	if got := stack.store.balance(7); got != 1000 {
		t.Fatalf("late notification must not credit again, balance=%d", got)
	}
}

func TestCreatePaymentRetryIsIdempotent(t *testing.T) {
	stack := newTestStack()

	for i := 0; i < 2; i++ {
		req := withUser(httptest.NewRequest(http.MethodPost, "/v1/payments", strings.NewReader(`{"product_key":"basic"}`)), 7, "user")
		req.Header.Set(requestTimestampHeader, "2026-01-01T00:00:00Z")
		rr := httptest.NewRecorder()
		stack.payments.Create(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("create payment #%d: got %d", i+1, rr.Code)
		}
		var created dto.PaymentCreateResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
			t.Fatalf("decode create response: %v", err)
		}
		if created.Idempotent != (i == 1) {
			t.Fatalf("unexpected idempotent flag on attempt %d: %+v", i+1, created)
		}
	}
}

func TestCreatePaymentRejectsUnknownProduct(t *testing.T) {
	stack := newTestStack()

	req := withUser(httptest.NewRequest(http.MethodPost, "/v1/payments", strings.NewReader(`{"product_key":"gold"}`)), 7, "user")
	rr := httptest.NewRecorder()
	stack.payments.Create(rr, req)
	if rr.Code != http.StatusBadRequest || !strings.Contains(rr.Body.String(), "INVALID_PRODUCT") {
		t.Fatalf("unexpected response: %d %s", rr.Code, rr.Body.String())
	}
	if stack.provider.created != 0 {
		t.Fatalf("provider must not be called for an unknown product")
	}
}

func TestCreatePaymentRequiresIdentity(t *testing.T) {
	stack := newTestStack()

	rr := httptest.NewRecorder()
	stack.payments.Create(rr, httptest.NewRequest(http.MethodPost, "/v1/payments", strings.NewReader(`{"product_key":"basic"}`)))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestStatusRejectsForeignPayment(t *testing.T) {
	stack := newTestStack()

	req := withUser(httptest.NewRequest(http.MethodPost, "/v1/payments", strings.NewReader(`{"product_key":"basic"}`)), 7, "user")
	stack.payments.Create(httptest.NewRecorder(), req)

	rr := httptest.NewRecorder()
	stack.payments.Status(rr, withUser(httptest.NewRequest(http.MethodGet, "/v1/payments/status?external_id=pay_1", nil), 8, "user"))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusForbidden)
	}
}

func TestStatusRejectsInvalidWait(t *testing.T) {
	stack := newTestStack()

	rr := httptest.NewRecorder()
	stack.payments.Status(rr, withUser(httptest.NewRequest(http.MethodGet, "/v1/payments/status?wait=soon", nil), 7, "user"))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestParseRequestTimestamp(t *testing.T) {
	ts, err := parseRequestTimestamp("1767225600000")
	if err != nil || ts.Year() != 2026 {
		t.Fatalf("unexpected millis parse: %s %v", ts, err)
	}
	ts, err = parseRequestTimestamp("")
	if err != nil || !ts.IsZero() {
		t.Fatalf("empty header must yield zero time: %s %v", ts, err)
	}
	if _, err := parseRequestTimestamp("yesterday"); err == nil {
		t.Fatalf("expected error for garbage timestamp")
	}
}
