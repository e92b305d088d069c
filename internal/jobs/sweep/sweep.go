package sweep

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ivankudzin/creditpay/internal/services/reconcile"
)

const defaultBatch = 100

type sweeper interface {
	Sweep(ctx context.Context, limit int) (reconcile.SweepResult, error)
}

// Job re-applies credits for payments that were confirmed but never
// reached the ledger.
type Job struct {
	engine sweeper
	batch  int
	logger *zap.Logger
}

func New(engine sweeper, batch int, logger *zap.Logger) *Job {
	if batch <= 0 {
		batch = defaultBatch
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Job{
		engine: engine,
		batch:  batch,
		logger: logger,
	}
}

// Run drains the backlog one batch at a time. It stops early when a batch
// repairs nothing, so payments that keep failing are not retried in a loop.
func (j *Job) Run(ctx context.Context) (reconcile.SweepResult, error) {
	if j.engine == nil {
		return reconcile.SweepResult{}, fmt.Errorf("sweep engine is nil")
	}

	var total reconcile.SweepResult
	for {
		result, err := j.engine.Sweep(ctx, j.batch)
		total.Checked += result.Checked
		total.Repaired += result.Repaired
		total.Skipped += result.Skipped
		if err != nil {
			return total, fmt.Errorf("sweep ledger gaps: %w", err)
		}
		if result.Checked < j.batch || result.Repaired == 0 {
			break
		}
	}

	if total.Repaired > 0 || total.Skipped > 0 {
		j.logger.Info("sweep completed",
			zap.Int("checked", total.Checked),
			zap.Int("repaired", total.Repaired),
			zap.Int("skipped", total.Skipped),
		)
	}
	return total, nil
}
