package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/ivankudzin/creditpay/internal/config"
	"github.com/ivankudzin/creditpay/internal/domain/enums"
	"github.com/ivankudzin/creditpay/internal/domain/model"
	pgrepo "github.com/ivankudzin/creditpay/internal/repo/postgres"
	adjsvc "github.com/ivankudzin/creditpay/internal/services/adjustments"
	"github.com/ivankudzin/creditpay/internal/services/catalog"
	"github.com/ivankudzin/creditpay/internal/services/gateway"
	paymentsvc "github.com/ivankudzin/creditpay/internal/services/payments"
	pollingsvc "github.com/ivankudzin/creditpay/internal/services/polling"
	"github.com/ivankudzin/creditpay/internal/services/reconcile"
)

// memLedger stands in for the postgres payment and balance repositories.
type memLedger struct {
	mu       sync.Mutex
	payments map[string]model.Payment
	byKey    map[string]string
	ledger   map[string]int64
	balances map[int64]int64
	adjustID int64
}

func newMemLedger() *memLedger {
	return &memLedger{
		payments: make(map[string]model.Payment),
		byKey:    make(map[string]string),
		ledger:   make(map[string]int64),
		balances: make(map[int64]int64),
	}
}

func (m *memLedger) CreatePending(_ context.Context, payment model.Payment) (model.Payment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if externalID, ok := m.byKey[payment.IdempotencyKey]; ok {
		return m.payments[externalID], false, nil
	}
	payment.ID = "pid-" + payment.ExternalID
	payment.CreatedAt = time.Now().UTC()
	m.payments[payment.ExternalID] = payment
	m.byKey[payment.IdempotencyKey] = payment.ExternalID
	return payment, true, nil
}

func (m *memLedger) FindByExternalID(_ context.Context, externalID string) (model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	payment, ok := m.payments[externalID]
	if !ok {
		return model.Payment{}, pgrepo.ErrPaymentNotFound
	}
	return payment, nil
}

func (m *memLedger) LatestPendingForUser(_ context.Context, userID int64) (model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, payment := range m.payments {
		if payment.UserID == userID && payment.Status == enums.PaymentStatusPending {
			return payment, nil
		}
	}
	return model.Payment{}, pgrepo.ErrPaymentNotFound
}

func (m *memLedger) MarkSucceeded(ctx context.Context, externalID string) (model.Payment, bool, error) {
	return m.MarkTerminal(ctx, externalID, enums.PaymentStatusSucceeded)
}

func (m *memLedger) MarkTerminal(_ context.Context, externalID string, status enums.PaymentStatus) (model.Payment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	payment, ok := m.payments[externalID]
	if !ok || payment.Status != enums.PaymentStatusPending {
		return model.Payment{}, false, nil
	}
	payment.Status = status
	m.payments[externalID] = payment
	return payment, true, nil
}

func (m *memLedger) ListSucceededWithoutLedger(context.Context, pgrepo.UnappliedFilter) ([]model.Payment, error) {
	return nil, nil
}

func (m *memLedger) ApplyCredit(_ context.Context, payment model.Payment, credits int64, _ enums.ConfirmationSource) (model.BalanceChange, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ledger[payment.ID]; ok {
		return model.BalanceChange{}, false, nil
	}
	m.ledger[payment.ID] = credits
	m.balances[payment.UserID] += credits
	return model.BalanceChange{UserID: payment.UserID, Delta: credits, Balance: m.balances[payment.UserID]}, true, nil
}

func (m *memLedger) GetBalance(_ context.Context, userID int64) (model.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return model.Balance{UserID: userID, Credits: m.balances[userID]}, nil
}

func (m *memLedger) AdjustBalance(_ context.Context, userID, delta int64, actor, reason string) (model.Adjustment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current := m.balances[userID]
	if current+delta < 0 {
		return model.Adjustment{}, &pgrepo.InsufficientCreditsError{Current: current}
	}
	m.balances[userID] = current + delta
	m.adjustID++
	return model.Adjustment{
		ID:           m.adjustID,
		UserID:       userID,
		Delta:        delta,
		Actor:        actor,
		Reason:       reason,
		BalanceAfter: m.balances[userID],
	}, nil
}

func (m *memLedger) balance(userID int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[userID]
}

func (m *memLedger) setBalance(userID, credits int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[userID] = credits
}

type fakeProvider struct {
	mu       sync.Mutex
	statuses map[string]enums.PaymentStatus
	created  int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{statuses: make(map[string]enums.PaymentStatus)}
}

func (p *fakeProvider) CreatePayment(_ context.Context, req gateway.CreateRequest) (gateway.Intent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created++
	externalID := "pay_1"
	p.statuses[externalID] = enums.PaymentStatusPending
	return gateway.Intent{
		ExternalID:      externalID,
		ConfirmationURL: "https://pay.example/confirm/" + externalID,
		Status:          enums.PaymentStatusPending,
		AmountMinor:     req.AmountMinor,
		Currency:        req.Currency,
	}, nil
}

func (p *fakeProvider) GetPayment(_ context.Context, externalID string) (gateway.Intent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	status, ok := p.statuses[externalID]
	if !ok {
		return gateway.Intent{}, gateway.ErrGatewayRejected
	}
	return gateway.Intent{ExternalID: externalID, Status: status, AmountMinor: 49000, Currency: "RUB"}, nil
}

func (p *fakeProvider) confirm(externalID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses[externalID] = enums.PaymentStatusSucceeded
}

type testStack struct {
	store         *memLedger
	provider      *fakeProvider
	payments      *PaymentHandler
	notifications *NotificationHandler
	balances      *BalanceHandler
}

func newTestStack() testStack {
	store := newMemLedger()
	provider := newFakeProvider()
	cat := catalog.New(config.Default().Catalog)
	client := gateway.NewClient(provider, gateway.Options{MaxAttempts: 1}, nil)
	engine := reconcile.NewEngine(reconcile.Dependencies{
		Payments: store,
		Credits:  store,
		Catalog:  cat,
	})
	payments := paymentsvc.NewService(paymentsvc.Dependencies{
		Payments:  store,
		Gateway:   client,
		Catalog:   cat,
		ReturnURL: "https://app.example/billing",
	})
	polling := pollingsvc.NewService(pollingsvc.Dependencies{
		Payments:   store,
		Gateway:    client,
		Reconciler: engine,
		Catalog:    cat,
		Interval:   5 * time.Millisecond,
	})
	adjustments := adjsvc.NewService(adjsvc.Dependencies{Balances: store})

	return testStack{
		store:         store,
		provider:      provider,
		payments:      NewPaymentHandler(payments, polling),
		notifications: NewNotificationHandler(engine, nil),
		balances:      NewBalanceHandler(adjustments),
	}
}
