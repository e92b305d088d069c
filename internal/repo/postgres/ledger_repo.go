package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ivankudzin/creditpay/internal/domain/enums"
	"github.com/ivankudzin/creditpay/internal/domain/model"
)

type LedgerRepo struct {
	pool *pgxpool.Pool
}

func NewLedgerRepo(pool *pgxpool.Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

// ListLines returns ledger lines created in [from, to).
func (r *LedgerRepo) ListLines(ctx context.Context, from, to time.Time) ([]model.LedgerLine, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if !to.After(from) {
		return nil, fmt.Errorf("invalid ledger range")
	}

	rows, err := r.pool.Query(ctx, `
SELECT id, payment_id, user_id, credits, source, created_at
FROM credit_ledger
WHERE created_at >= $1
  AND created_at < $2
ORDER BY id ASC
`, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("list ledger lines: %w", err)
	}
	defer rows.Close()

	out := make([]model.LedgerLine, 0)
	for rows.Next() {
		var (
			line   model.LedgerLine
			source string
		)
		if err := rows.Scan(&line.ID, &line.PaymentID, &line.UserID, &line.Credits, &source, &line.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger line: %w", err)
		}
		line.Source = enums.ConfirmationSource(source)
		out = append(out, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger lines: %w", err)
	}
	return out, nil
}
