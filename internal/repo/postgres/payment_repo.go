package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ivankudzin/creditpay/internal/domain/enums"
	"github.com/ivankudzin/creditpay/internal/domain/model"
)

var (
	ErrPaymentNotFound       = errors.New("payment not found")
	ErrExternalIDConflict    = errors.New("external id already attached to another payment")
	ErrInvalidTerminalStatus = errors.New("status is not a terminal failure status")
)

const paymentColumns = `id, external_id, user_id, product_key, amount_minor, currency, status, idempotency_key, confirmation_url, created_at, updated_at`

type PaymentRepo struct {
	pool *pgxpool.Pool
}

func NewPaymentRepo(pool *pgxpool.Pool) *PaymentRepo {
	return &PaymentRepo{pool: pool}
}

// CreatePending inserts a pending payment. A second insert with the same
// idempotency key returns the stored row and created=false.
func (r *PaymentRepo) CreatePending(ctx context.Context, payment model.Payment) (model.Payment, bool, error) {
	if r.pool == nil {
		return model.Payment{}, false, fmt.Errorf("postgres pool is nil")
	}
	externalID := strings.TrimSpace(payment.ExternalID)
	idempotencyKey := strings.TrimSpace(payment.IdempotencyKey)
	if payment.UserID <= 0 || externalID == "" || idempotencyKey == "" || payment.AmountMinor <= 0 {
		return model.Payment{}, false, fmt.Errorf("invalid payment create payload")
	}
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}

	record, err := scanPayment(r.pool.QueryRow(ctx, `
INSERT INTO payments (
	id,
	external_id,
	user_id,
	product_key,
	amount_minor,
	currency,
	status,
	idempotency_key,
	confirmation_url,
	created_at,
	updated_at
) VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7, $8, NOW(), NOW())
ON CONFLICT (idempotency_key) DO NOTHING
RETURNING `+paymentColumns+`
`,
		payment.ID,
		externalID,
		payment.UserID,
		strings.ToLower(strings.TrimSpace(payment.ProductKey)),
		payment.AmountMinor,
		strings.ToUpper(strings.TrimSpace(payment.Currency)),
		idempotencyKey,
		payment.ConfirmationURL,
	))
	if err == nil {
		return record, true, nil
	}
	if hasSQLState(err, sqlStateUniqueViolation) {
		return model.Payment{}, false, ErrExternalIDConflict
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Payment{}, false, fmt.Errorf("create pending payment: %w", err)
	}

	existing, err := scanPayment(r.pool.QueryRow(ctx, `
SELECT `+paymentColumns+`
FROM payments
WHERE idempotency_key = $1
LIMIT 1
`, idempotencyKey))
	if err != nil {
		return model.Payment{}, false, fmt.Errorf("find payment by idempotency key: %w", err)
	}
	return existing, false, nil
}

func (r *PaymentRepo) FindByExternalID(ctx context.Context, externalID string) (model.Payment, error) {
	if r.pool == nil {
		return model.Payment{}, fmt.Errorf("postgres pool is nil")
	}
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return model.Payment{}, ErrPaymentNotFound
	}

	record, err := scanPayment(r.pool.QueryRow(ctx, `
SELECT `+paymentColumns+`
FROM payments
WHERE external_id = $1
LIMIT 1
`, externalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Payment{}, ErrPaymentNotFound
		}
		return model.Payment{}, fmt.Errorf("find payment by external id: %w", err)
	}
	return record, nil
}

func (r *PaymentRepo) LatestPendingForUser(ctx context.Context, userID int64) (model.Payment, error) {
	if r.pool == nil {
		return model.Payment{}, fmt.Errorf("postgres pool is nil")
	}
	if userID <= 0 {
		return model.Payment{}, fmt.Errorf("invalid user id")
	}

	record, err := scanPayment(r.pool.QueryRow(ctx, `
SELECT `+paymentColumns+`
FROM payments
WHERE user_id = $1
  AND status = 'pending'
ORDER BY created_at DESC
LIMIT 1
`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Payment{}, ErrPaymentNotFound
		}
		return model.Payment{}, fmt.Errorf("find latest pending payment: %w", err)
	}
	return record, nil
}

// MarkSucceeded is the single pending -> succeeded transition. It reports
// false when the row was already moved by another caller or does not exist.
func (r *PaymentRepo) MarkSucceeded(ctx context.Context, externalID string) (model.Payment, bool, error) {
	return r.transition(ctx, externalID, enums.PaymentStatusSucceeded)
}

func (r *PaymentRepo) MarkTerminal(ctx context.Context, externalID string, status enums.PaymentStatus) (model.Payment, bool, error) {
	if status != enums.PaymentStatusFailed && status != enums.PaymentStatusCanceled {
		return model.Payment{}, false, ErrInvalidTerminalStatus
	}
	return r.transition(ctx, externalID, status)
}

func (r *PaymentRepo) transition(ctx context.Context, externalID string, status enums.PaymentStatus) (model.Payment, bool, error) {
	if r.pool == nil {
		return model.Payment{}, false, fmt.Errorf("postgres pool is nil")
	}
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return model.Payment{}, false, ErrPaymentNotFound
	}

	record, err := scanPayment(r.pool.QueryRow(ctx, `
UPDATE payments
SET
	status = $2,
	updated_at = NOW()
WHERE external_id = $1
  AND status = 'pending'
RETURNING `+paymentColumns+`
`, externalID, string(status)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Payment{}, false, nil
		}
		return model.Payment{}, false, fmt.Errorf("mark payment %s: %w", status, err)
	}
	return record, true, nil
}

// UnappliedFilter narrows the sweep scan. Grace keeps rows that a live
// reconcile may still be crediting out of the result.
type UnappliedFilter struct {
	Grace      time.Duration
	ExcludeIDs []string
	Limit      int
}

// ListSucceededWithoutLedger returns succeeded payments that never got
// their credit line, oldest first.
func (r *PaymentRepo) ListSucceededWithoutLedger(ctx context.Context, filter UnappliedFilter) ([]model.Payment, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	grace := filter.Grace
	if grace < 0 {
		grace = 0
	}
	exclude := filter.ExcludeIDs
	if exclude == nil {
		exclude = []string{}
	}

	rows, err := r.pool.Query(ctx, `
SELECT p.id, p.external_id, p.user_id, p.product_key, p.amount_minor, p.currency, p.status, p.idempotency_key, p.confirmation_url, p.created_at, p.updated_at
FROM payments p
LEFT JOIN credit_ledger l ON l.payment_id = p.id
WHERE p.status = 'succeeded'
  AND l.id IS NULL
  AND p.updated_at < NOW() - make_interval(secs => $1)
  AND NOT (p.id = ANY($2::text[]))
ORDER BY p.updated_at ASC
LIMIT $3
`, grace.Seconds(), exclude, limit)
	if err != nil {
		return nil, fmt.Errorf("list unapplied payments: %w", err)
	}
	defer rows.Close()

	out := make([]model.Payment, 0, limit)
	for rows.Next() {
		record, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan unapplied payment: %w", err)
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unapplied payments: %w", err)
	}
	return out, nil
}

func scanPayment(row pgx.Row) (model.Payment, error) {
	var (
		record model.Payment
		status string
	)
	if err := row.Scan(
		&record.ID,
		&record.ExternalID,
		&record.UserID,
		&record.ProductKey,
		&record.AmountMinor,
		&record.Currency,
		&status,
		&record.IdempotencyKey,
		&record.ConfirmationURL,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		return model.Payment{}, err
	}
	record.Status = enums.PaymentStatus(status)
	return record, nil
}
