package workerapp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ivankudzin/creditpay/internal/app/platform"
	"github.com/ivankudzin/creditpay/internal/config"
	"github.com/ivankudzin/creditpay/internal/jobs/ledgerexport"
	"github.com/ivankudzin/creditpay/internal/jobs/sweep"
)

const (
	defaultSweepInterval  = time.Minute
	defaultExportInterval = 6 * time.Hour
)

// App runs the background loops: the ledger gap sweep and the daily
// ledger export.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	platform  *platform.Platform
	sweepJob  *sweep.Job
	exportJob *ledgerexport.Job
}

func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	p, err := platform.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if p.Postgres == nil {
		_ = p.Close()
		return nil, fmt.Errorf("worker requires postgres")
	}

	app := &App{
		cfg:      cfg,
		logger:   logger,
		platform: p,
		sweepJob: sweep.New(p.Engine, cfg.Worker.SweepBatch, logger),
	}

	if archive, err := p.Archive(); err != nil {
		logger.Warn("s3 init failed, ledger export disabled", zap.Error(err))
	} else {
		app.exportJob = ledgerexport.New(p.Ledger, archive, cfg.Worker.ExportPrefix, logger)
	}

	return app, nil
}

func (a *App) Run(ctx context.Context) error {
	a.logger.Info("worker started")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runLoop(ctx, a.logger, "sweep", orDefault(a.cfg.Worker.SweepInterval, defaultSweepInterval), func(ctx context.Context) error {
			_, err := a.sweepJob.Run(ctx)
			return err
		})
	})
	if a.exportJob != nil {
		g.Go(func() error {
			return runLoop(ctx, a.logger, "ledger_export", orDefault(a.cfg.Worker.ExportInterval, defaultExportInterval), func(ctx context.Context) error {
				_, err := a.exportJob.Run(ctx)
				return err
			})
		})
	}

	err := g.Wait()
	a.logger.Info("worker stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) Shutdown() error {
	return a.platform.Close()
}

// runLoop runs fn now and then every interval until ctx is done. A failed
// run is logged and retried on the next tick.
func runLoop(ctx context.Context, log *zap.Logger, name string, interval time.Duration, fn func(context.Context) error) error {
	run := func() {
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			log.Error("worker job failed", zap.String("job", name), zap.Error(err))
		}
	}

	run()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			run()
		}
	}
}

func orDefault(v, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return v
}
