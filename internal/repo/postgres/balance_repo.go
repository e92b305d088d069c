package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ivankudzin/creditpay/internal/domain/enums"
	"github.com/ivankudzin/creditpay/internal/domain/model"
)

var ErrInsufficientCredits = errors.New("insufficient credits")

// InsufficientCreditsError carries the balance observed when a debit was refused.
type InsufficientCreditsError struct {
	Current int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: current balance %d", e.Current)
}

func (e *InsufficientCreditsError) Is(target error) bool {
	return target == ErrInsufficientCredits
}

type BalanceRepo struct {
	pool     *pgxpool.Pool
	attempts int
}

func NewBalanceRepo(pool *pgxpool.Pool) *BalanceRepo {
	return &BalanceRepo{pool: pool, attempts: defaultTxAttempts}
}

func (r *BalanceRepo) GetBalance(ctx context.Context, userID int64) (model.Balance, error) {
	if r.pool == nil {
		return model.Balance{}, fmt.Errorf("postgres pool is nil")
	}
	if userID <= 0 {
		return model.Balance{}, fmt.Errorf("invalid user id")
	}

	balance := model.Balance{UserID: userID}
	err := r.pool.QueryRow(ctx, `
SELECT credits, updated_at
FROM balances
WHERE user_id = $1
`, userID).Scan(&balance.Credits, &balance.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return balance, nil
		}
		return model.Balance{}, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

// ApplyCredit writes the ledger line for a succeeded payment and increments
// the owner's balance in one transaction. The ledger's unique payment_id
// makes repeated calls no-ops; applied=false in that case.
func (r *BalanceRepo) ApplyCredit(ctx context.Context, payment model.Payment, credits int64, source enums.ConfirmationSource) (model.BalanceChange, bool, error) {
	if r.pool == nil {
		return model.BalanceChange{}, false, fmt.Errorf("postgres pool is nil")
	}
	if payment.ID == "" || payment.UserID <= 0 || credits <= 0 {
		return model.BalanceChange{}, false, fmt.Errorf("invalid credit payload")
	}

	var (
		change  model.BalanceChange
		applied bool
	)
	err := WithRetryTx(ctx, r.pool, r.attempts, func(ctx context.Context, tx pgx.Tx) error {
		applied = false

		var createdAt time.Time
		err := tx.QueryRow(ctx, `
INSERT INTO credit_ledger (
	payment_id,
	user_id,
	credits,
	source,
	created_at
) VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (payment_id) DO NOTHING
RETURNING created_at
`, payment.ID, payment.UserID, credits, string(source)).Scan(&createdAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("insert ledger line: %w", err)
		}

		var balance int64
		if err := tx.QueryRow(ctx, `
INSERT INTO balances (user_id, credits, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (user_id) DO UPDATE
SET
	credits = balances.credits + EXCLUDED.credits,
	updated_at = NOW()
RETURNING credits
`, payment.UserID, credits).Scan(&balance); err != nil {
			return fmt.Errorf("increment balance: %w", err)
		}

		applied = true
		change = model.BalanceChange{
			UserID:    payment.UserID,
			Delta:     credits,
			Balance:   balance,
			Reason:    "payment",
			Reference: payment.ExternalID,
			At:        createdAt.UTC(),
		}
		return nil
	})
	if err != nil {
		return model.BalanceChange{}, false, err
	}
	return change, applied, nil
}

// AdjustBalance applies a signed administrative delta and its audit row
// atomically. A debit that would take the balance below zero returns
// *InsufficientCreditsError and changes nothing.
func (r *BalanceRepo) AdjustBalance(ctx context.Context, userID, delta int64, actor, reason string) (model.Adjustment, error) {
	if r.pool == nil {
		return model.Adjustment{}, fmt.Errorf("postgres pool is nil")
	}
	actor = strings.TrimSpace(actor)
	if userID <= 0 || delta == 0 || actor == "" {
		return model.Adjustment{}, fmt.Errorf("invalid adjustment payload")
	}

	var adjustment model.Adjustment
	err := WithRetryTx(ctx, r.pool, r.attempts, func(ctx context.Context, tx pgx.Tx) error {
		var balance int64
		if delta > 0 {
			if err := tx.QueryRow(ctx, `
INSERT INTO balances (user_id, credits, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (user_id) DO UPDATE
SET
	credits = balances.credits + EXCLUDED.credits,
	updated_at = NOW()
RETURNING credits
`, userID, delta).Scan(&balance); err != nil {
				return fmt.Errorf("increment balance: %w", err)
			}
		} else {
			err := tx.QueryRow(ctx, `
UPDATE balances
SET
	credits = credits + $2,
	updated_at = NOW()
WHERE user_id = $1
  AND credits + $2 >= 0
RETURNING credits
`, userID, delta).Scan(&balance)
			if errors.Is(err, pgx.ErrNoRows) {
				current, lookupErr := currentCredits(ctx, tx, userID)
				if lookupErr != nil {
					return lookupErr
				}
				return &InsufficientCreditsError{Current: current}
			}
			if err != nil {
				return fmt.Errorf("decrement balance: %w", err)
			}
		}

		adjustment = model.Adjustment{
			UserID:       userID,
			Delta:        delta,
			Actor:        actor,
			Reason:       strings.TrimSpace(reason),
			BalanceAfter: balance,
		}
		if err := tx.QueryRow(ctx, `
INSERT INTO balance_adjustments (
	user_id,
	delta,
	actor,
	reason,
	balance_after,
	created_at
) VALUES ($1, $2, $3, $4, $5, NOW())
RETURNING id, created_at
`, userID, delta, actor, adjustment.Reason, balance).Scan(&adjustment.ID, &adjustment.CreatedAt); err != nil {
			return fmt.Errorf("insert adjustment: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.Adjustment{}, err
	}
	return adjustment, nil
}

func currentCredits(ctx context.Context, tx pgx.Tx, userID int64) (int64, error) {
	var credits int64
	err := tx.QueryRow(ctx, `SELECT credits FROM balances WHERE user_id = $1`, userID).Scan(&credits)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("read current balance: %w", err)
	}
	return credits, nil
}
