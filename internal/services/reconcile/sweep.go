package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/ivankudzin/creditpay/internal/domain/enums"
	"github.com/ivankudzin/creditpay/internal/domain/model"
	pgrepo "github.com/ivankudzin/creditpay/internal/repo/postgres"
)

const (
	defaultSweepLimit = 100
	defaultSweepGrace = 2 * time.Minute
	maxSweepAttempts  = 3
)

type SweepResult struct {
	Checked  int
	Repaired int
	Skipped  int
}

// Sweep finds succeeded payments without a ledger line and applies their
// credit. The ledger's unique payment id keeps this idempotent. Payments
// that cannot be credited are parked for the life of the process so they
// do not crowd out the rest of the batch.
func (e *Engine) Sweep(ctx context.Context, limit int) (SweepResult, error) {
	if e.payments == nil || e.credits == nil || e.catalog == nil {
		return SweepResult{}, fmt.Errorf("reconcile dependencies are not configured")
	}
	if limit <= 0 {
		limit = defaultSweepLimit
	}

	pending, err := e.payments.ListSucceededWithoutLedger(ctx, pgrepo.UnappliedFilter{
		Grace:      e.sweepGrace,
		ExcludeIDs: e.parkedPayments(),
		Limit:      limit,
	})
	if err != nil {
		return SweepResult{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	var (
		result SweepResult
		errs   []error
	)
	for _, payment := range pending {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		result.Checked++

		credits, err := e.catalog.CreditsFor(payment.ProductKey)
		if err != nil {
			e.park(ctx, payment, fmt.Sprintf("product %q has no credit amount", payment.ProductKey))
			result.Skipped++
			errs = append(errs, fmt.Errorf("payment %s: %w", payment.ExternalID, ErrUnknownProduct))
			continue
		}

		change, applied, err := e.credits.ApplyCredit(ctx, payment, credits, enums.ConfirmationSourceSweep)
		if err != nil {
			e.log.Error("sweep credit failed",
				zap.String("external_id", payment.ExternalID),
				zap.Error(err),
			)
			if e.recordSweepFailure(payment.ID) >= maxSweepAttempts {
				e.park(ctx, payment, fmt.Sprintf("credit failed %d times: %v", maxSweepAttempts, err))
				result.Skipped++
			}
			errs = append(errs, fmt.Errorf("payment %s: %w", payment.ExternalID, err))
			continue
		}
		e.clearSweepFailures(payment.ID)
		if !applied {
			continue
		}

		result.Repaired++
		e.log.Warn("sweep applied missing credit",
			zap.String("external_id", payment.ExternalID),
			zap.Int64("user_id", payment.UserID),
			zap.Int64("credits", credits),
		)
		e.alert(ctx, fmt.Sprintf("sweep applied missing credit for payment %s (user %d, %d credits)",
			payment.ExternalID, payment.UserID, credits))
		e.publish(ctx, change)
	}

	return result, errors.Join(errs...)
}

func (e *Engine) parkedPayments() []string {
	e.sweepMu.Lock()
	defer e.sweepMu.Unlock()

	out := make([]string, 0, len(e.sweepSkipped))
	for id := range e.sweepSkipped {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) recordSweepFailure(paymentID string) int {
	e.sweepMu.Lock()
	defer e.sweepMu.Unlock()

	e.sweepFailures[paymentID]++
	return e.sweepFailures[paymentID]
}

func (e *Engine) clearSweepFailures(paymentID string) {
	e.sweepMu.Lock()
	defer e.sweepMu.Unlock()

	delete(e.sweepFailures, paymentID)
}

func (e *Engine) park(ctx context.Context, payment model.Payment, reason string) {
	e.sweepMu.Lock()
	delete(e.sweepFailures, payment.ID)
	e.sweepSkipped[payment.ID] = struct{}{}
	e.sweepMu.Unlock()

	e.log.Error("sweep parked payment",
		zap.String("external_id", payment.ExternalID),
		zap.Int64("user_id", payment.UserID),
		zap.String("reason", reason),
	)
	e.alert(ctx, fmt.Sprintf("sweep cannot credit payment %s (user %d): %s, manual adjustment needed",
		payment.ExternalID, payment.UserID, reason))
}
