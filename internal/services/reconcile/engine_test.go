package reconcile

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ivankudzin/creditpay/internal/config"
	"github.com/ivankudzin/creditpay/internal/domain/enums"
	"github.com/ivankudzin/creditpay/internal/domain/model"
	pgrepo "github.com/ivankudzin/creditpay/internal/repo/postgres"
	"github.com/ivankudzin/creditpay/internal/services/catalog"
)

type ledgerStoreStub struct {
	mu       sync.Mutex
	payments map[string]model.Payment
	balances map[int64]int64
	ledger   map[string]model.LedgerLine
	failNext int

	lastFilter pgrepo.UnappliedFilter
}

func newLedgerStoreStub(payments ...model.Payment) *ledgerStoreStub {
	s := &ledgerStoreStub{
		payments: make(map[string]model.Payment),
		balances: make(map[int64]int64),
		ledger:   make(map[string]model.LedgerLine),
	}
	for _, p := range payments {
		s.payments[p.ExternalID] = p
	}
	return s
}

func (s *ledgerStoreStub) FindByExternalID(_ context.Context, externalID string) (model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[externalID]
	if !ok {
		return model.Payment{}, pgrepo.ErrPaymentNotFound
	}
	return p, nil
}

func (s *ledgerStoreStub) MarkSucceeded(_ context.Context, externalID string) (model.Payment, bool, error) {
	return s.transition(externalID, enums.PaymentStatusSucceeded)
}

func (s *ledgerStoreStub) MarkTerminal(_ context.Context, externalID string, status enums.PaymentStatus) (model.Payment, bool, error) {
	return s.transition(externalID, status)
}

func (s *ledgerStoreStub) transition(externalID string, status enums.PaymentStatus) (model.Payment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[externalID]
	if !ok || p.Status != enums.PaymentStatusPending {
		return model.Payment{}, false, nil
	}
	p.Status = status
	p.UpdatedAt = time.Now().UTC()
	s.payments[externalID] = p
	return p, true, nil
}

func (s *ledgerStoreStub) ListSucceededWithoutLedger(_ context.Context, filter pgrepo.UnappliedFilter) ([]model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFilter = filter

	excluded := make(map[string]bool, len(filter.ExcludeIDs))
	for _, id := range filter.ExcludeIDs {
		excluded[id] = true
	}
	out := make([]model.Payment, 0)
	for _, p := range s.payments {
		if p.Status != enums.PaymentStatusSucceeded || excluded[p.ID] {
			continue
		}
		if _, ok := s.ledger[p.ID]; ok {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *ledgerStoreStub) ApplyCredit(_ context.Context, payment model.Payment, credits int64, source enums.ConfirmationSource) (model.BalanceChange, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext > 0 {
		s.failNext--
		return model.BalanceChange{}, false, errors.New("connection reset by peer")
	}
	if _, ok := s.ledger[payment.ID]; ok {
		return model.BalanceChange{}, false, nil
	}
	s.ledger[payment.ID] = model.LedgerLine{PaymentID: payment.ID, UserID: payment.UserID, Credits: credits, Source: source}
	s.balances[payment.UserID] += credits
	return model.BalanceChange{
		UserID:    payment.UserID,
		Delta:     credits,
		Balance:   s.balances[payment.UserID],
		Reason:    "payment",
		Reference: payment.ExternalID,
	}, true, nil
}

func (s *ledgerStoreStub) balance(userID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userID]
}

func (s *ledgerStoreStub) ledgerLines() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ledger)
}

type publisherStub struct {
	mu      sync.Mutex
	changes []model.BalanceChange
}

func (p *publisherStub) PublishBalanceChanged(_ context.Context, change model.BalanceChange) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, change)
	return nil
}

type alerterStub struct {
	mu    sync.Mutex
	texts []string
}

func (a *alerterStub) Alert(_ context.Context, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.texts = append(a.texts, text)
	return nil
}

func pendingPayment(externalID string, userID int64) model.Payment {
	return model.Payment{
		ID:          "pid-" + externalID,
		ExternalID:  externalID,
		UserID:      userID,
		ProductKey:  "basic",
		AmountMinor: 49000,
		Currency:    "RUB",
		Status:      enums.PaymentStatusPending,
	}
}

func newTestEngine(store *ledgerStoreStub) (*Engine, *publisherStub, *alerterStub) {
	pub := &publisherStub{}
	alerts := &alerterStub{}
	engine := NewEngine(Dependencies{
		Payments:  store,
		Credits:   store,
		Catalog:   catalog.New(config.Default().Catalog),
		Publisher: pub,
		Alerter:   alerts,
	})
	return engine, pub, alerts
}

func succeeded(externalID string, source enums.ConfirmationSource) Confirmation {
	return Confirmation{
		ExternalID:  externalID,
		Status:      enums.PaymentStatusSucceeded,
		AmountMinor: 49000,
		Currency:    "RUB",
		Source:      source,
	}
}

func TestReconcileCreditsExactlyOnceAcrossRepeatedCalls(t *testing.T) {
	store := newLedgerStoreStub(pendingPayment("pay_1", 7))
	engine, pub, _ := newTestEngine(store)

	first, err := engine.Reconcile(context.Background(), succeeded("pay_1", enums.ConfirmationSourceNotification))
	if err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	if first.AlreadyApplied || first.CreditsGranted != 1000 || first.Status != enums.PaymentStatusSucceeded {
		t.Fatalf("unexpected first result: %+v", first)
	}

	for i := 0; i < 5; i++ {
		res, err := engine.Reconcile(context.Background(), succeeded("pay_1", enums.ConfirmationSourcePoll))
		if err != nil {
			t.Fatalf("repeat reconcile #%d: %v", i+1, err)
		}
		if !res.AlreadyApplied || res.CreditsGranted != 1000 {
			t.Fatalf("repeat reconcile should be a no-op with credits shown: %+v", res)
		}
	}

	if got := store.balance(7); got != 1000 {
		t.Fatalf("expected balance 1000, got %d", got)
	}
	if got := store.ledgerLines(); got != 1 {
		t.Fatalf("expected one ledger line, got %d", got)
	}
	if len(pub.changes) != 1 {
		t.Fatalf("expected one published change, got %d", len(pub.changes))
	}
}

func TestReconcileConcurrentNotificationAndPoll(t *testing.T) {
	store := newLedgerStoreStub(pendingPayment("pay_1", 7))
	engine, _, _ := newTestEngine(store)

	const callers = 32
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		source := enums.ConfirmationSourceNotification
		if i%2 == 1 {
			source = enums.ConfirmationSourcePoll
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := engine.Reconcile(context.Background(), succeeded("pay_1", source))
			if err != nil {
				t.Errorf("reconcile: %v", err)
				return
			}
			if !res.AlreadyApplied {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
	if got := store.balance(7); got != 1000 {
		t.Fatalf("expected balance 1000, got %d", got)
	}
	if got := store.ledgerLines(); got != 1 {
		t.Fatalf("expected one ledger line, got %d", got)
	}
}

func TestReconcileRejectsAmountMismatch(t *testing.T) {
	store := newLedgerStoreStub(pendingPayment("pay_1", 7))
	engine, pub, alerts := newTestEngine(store)

	conf := succeeded("pay_1", enums.ConfirmationSourceNotification)
	conf.AmountMinor = 100
	if _, err := engine.Reconcile(context.Background(), conf); !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch, got %v", err)
	}

	conf = succeeded("pay_1", enums.ConfirmationSourceNotification)
	conf.Currency = "USD"
	if _, err := engine.Reconcile(context.Background(), conf); !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch for currency, got %v", err)
	}

	if got := store.balance(7); got != 0 {
		t.Fatalf("mismatch must not credit, balance=%d", got)
	}
	if p, _ := store.FindByExternalID(context.Background(), "pay_1"); p.Status != enums.PaymentStatusPending {
		t.Fatalf("mismatch must leave payment pending, got %s", p.Status)
	}
	if len(alerts.texts) != 2 {
		t.Fatalf("expected two operator alerts, got %d", len(alerts.texts))
	}
	if len(pub.changes) != 0 {
		t.Fatalf("mismatch must not publish")
	}
}

func TestReconcileUnknownPayment(t *testing.T) {
	engine, _, _ := newTestEngine(newLedgerStoreStub())
	if _, err := engine.Reconcile(context.Background(), succeeded("nope", enums.ConfirmationSourcePoll)); !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
}

func TestReconcilePendingIsNoop(t *testing.T) {
	store := newLedgerStoreStub(pendingPayment("pay_1", 7))
	engine, _, _ := newTestEngine(store)

	res, err := engine.Reconcile(context.Background(), Confirmation{ExternalID: "pay_1", Status: enums.PaymentStatusPending})
	if err != nil {
		t.Fatalf("reconcile pending: %v", err)
	}
	if res.Status != enums.PaymentStatusPending || store.balance(7) != 0 {
		t.Fatalf("pending confirmation must not change state: %+v", res)
	}
}

func TestReconcileCanceledClosesPaymentWithoutCredit(t *testing.T) {
	store := newLedgerStoreStub(pendingPayment("pay_1", 7))
	engine, _, _ := newTestEngine(store)

	res, err := engine.Reconcile(context.Background(), Confirmation{ExternalID: "pay_1", Status: enums.PaymentStatusCanceled})
	if err != nil {
		t.Fatalf("reconcile canceled: %v", err)
	}
	if res.Status != enums.PaymentStatusCanceled {
		t.Fatalf("expected canceled, got %s", res.Status)
	}

	res, err = engine.Reconcile(context.Background(), succeeded("pay_1", enums.ConfirmationSourcePoll))
	if err != nil {
		t.Fatalf("late success: %v", err)
	}
	if res.Status != enums.PaymentStatusCanceled || store.balance(7) != 0 {
		t.Fatalf("canceled payment must never be credited: %+v balance=%d", res, store.balance(7))
	}
}

func TestSucceededPaymentIsNeverCanceled(t *testing.T) {
	store := newLedgerStoreStub(pendingPayment("pay_1", 7))
	engine, _, _ := newTestEngine(store)

	if _, err := engine.Reconcile(context.Background(), succeeded("pay_1", enums.ConfirmationSourceNotification)); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	res, err := engine.Reconcile(context.Background(), Confirmation{ExternalID: "pay_1", Status: enums.PaymentStatusCanceled})
	if err != nil {
		t.Fatalf("late cancel: %v", err)
	}
	if res.Status != enums.PaymentStatusSucceeded {
		t.Fatalf("succeeded payment must stay succeeded, got %s", res.Status)
	}
}

func TestSweepHealsConfirmedButUncreditedPayment(t *testing.T) {
	store := newLedgerStoreStub(pendingPayment("pay_1", 7))
	store.failNext = 1
	engine, pub, alerts := newTestEngine(store)

	_, err := engine.Reconcile(context.Background(), succeeded("pay_1", enums.ConfirmationSourceNotification))
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if p, _ := store.FindByExternalID(context.Background(), "pay_1"); p.Status != enums.PaymentStatusSucceeded {
		t.Fatalf("payment should be succeeded after CAS, got %s", p.Status)
	}
	if store.balance(7) != 0 {
		t.Fatalf("credit should be missing before sweep")
	}

	res, err := engine.Sweep(context.Background(), 10)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Checked != 1 || res.Repaired != 1 {
		t.Fatalf("unexpected sweep result: %+v", res)
	}
	if store.balance(7) != 1000 || store.ledgerLines() != 1 {
		t.Fatalf("sweep should apply credit once: balance=%d lines=%d", store.balance(7), store.ledgerLines())
	}
	if len(pub.changes) != 1 || len(alerts.texts) != 1 {
		t.Fatalf("sweep repair should publish and alert: changes=%d alerts=%d", len(pub.changes), len(alerts.texts))
	}

	again, err := engine.Sweep(context.Background(), 10)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if again.Checked != 0 || store.balance(7) != 1000 {
		t.Fatalf("second sweep must be a no-op: %+v balance=%d", again, store.balance(7))
	}

	res2, err := engine.Reconcile(context.Background(), succeeded("pay_1", enums.ConfirmationSourcePoll))
	if err != nil {
		t.Fatalf("reconcile after sweep: %v", err)
	}
	if !res2.AlreadyApplied || store.balance(7) != 1000 {
		t.Fatalf("reconcile after sweep must be a no-op: %+v", res2)
	}
}

func succeededPayment(externalID, productKey string, userID int64) model.Payment {
	p := pendingPayment(externalID, userID)
	p.ProductKey = productKey
	p.Status = enums.PaymentStatusSucceeded
	return p
}

func TestSweepParksUnknownProductAndMovesOn(t *testing.T) {
	store := newLedgerStoreStub(
		succeededPayment("a_retired", "retired-plan", 7),
		succeededPayment("b_basic", "basic", 8),
	)
	engine, _, alerts := newTestEngine(store)

	res, err := engine.Sweep(context.Background(), 1)
	if !errors.Is(err, ErrUnknownProduct) {
		t.Fatalf("expected ErrUnknownProduct, got %v", err)
	}
	if res.Checked != 1 || res.Skipped != 1 || res.Repaired != 0 {
		t.Fatalf("unexpected first sweep: %+v", res)
	}

	res, err = engine.Sweep(context.Background(), 1)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if res.Repaired != 1 || store.balance(8) != 1000 {
		t.Fatalf("parked payment must not block the batch: %+v balance=%d", res, store.balance(8))
	}
	if got := store.lastFilter.ExcludeIDs; len(got) != 1 || got[0] != "pid-a_retired" {
		t.Fatalf("unexpected excluded ids: %v", got)
	}
	if len(alerts.texts) != 2 {
		t.Fatalf("expected park and repair alerts, got %v", alerts.texts)
	}
}

func TestSweepParksPaymentAfterRepeatedFailures(t *testing.T) {
	store := newLedgerStoreStub(succeededPayment("pay_1", "basic", 7))
	store.failNext = maxSweepAttempts
	engine, _, alerts := newTestEngine(store)

	for i := 1; i <= maxSweepAttempts; i++ {
		res, err := engine.Sweep(context.Background(), 10)
		if err == nil {
			t.Fatalf("attempt %d: expected credit error", i)
		}
		wantSkipped := 0
		if i == maxSweepAttempts {
			wantSkipped = 1
		}
		if res.Checked != 1 || res.Skipped != wantSkipped {
			t.Fatalf("attempt %d: unexpected result %+v", i, res)
		}
	}
	if len(alerts.texts) != 1 {
		t.Fatalf("expected one park alert, got %v", alerts.texts)
	}

	res, err := engine.Sweep(context.Background(), 10)
	if err != nil {
		t.Fatalf("sweep after park: %v", err)
	}
	if res.Checked != 0 || store.balance(7) != 0 {
		t.Fatalf("parked payment must be left for manual repair: %+v", res)
	}
}

func TestSweepPassesGraceToStore(t *testing.T) {
	store := newLedgerStoreStub()
	engine := NewEngine(Dependencies{
		Payments:   store,
		Credits:    store,
		Catalog:    catalog.New(config.Default().Catalog),
		SweepGrace: 90 * time.Second,
	})

	if _, err := engine.Sweep(context.Background(), 5); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if store.lastFilter.Grace != 90*time.Second || store.lastFilter.Limit != 5 {
		t.Fatalf("unexpected filter: %+v", store.lastFilter)
	}

	if _, err := NewEngine(Dependencies{Payments: store, Credits: store, Catalog: catalog.New(config.Default().Catalog)}).Sweep(context.Background(), 0); err != nil {
		t.Fatalf("sweep with defaults: %v", err)
	}
	if store.lastFilter.Grace != defaultSweepGrace || store.lastFilter.Limit != defaultSweepLimit {
		t.Fatalf("unexpected default filter: %+v", store.lastFilter)
	}
}
