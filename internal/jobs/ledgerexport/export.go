package ledgerexport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ivankudzin/creditpay/internal/domain/model"
	"github.com/ivankudzin/creditpay/internal/domain/rules"
)

const contentType = "application/x-ndjson"

type ledgerReader interface {
	ListLines(ctx context.Context, from, to time.Time) ([]model.LedgerLine, error)
}

type archive interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

type Job struct {
	ledger  ledgerReader
	storage archive
	prefix  string
	now     func() time.Time
	logger  *zap.Logger
}

type Result struct {
	Day   time.Time
	Key   string
	Lines int
}

func New(ledger ledgerReader, storage archive, prefix string, logger *zap.Logger) *Job {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Job{
		ledger:  ledger,
		storage: storage,
		prefix:  prefix,
		now:     time.Now,
		logger:  logger,
	}
}

// Run exports yesterday's ledger lines (UTC).
func (j *Job) Run(ctx context.Context) (Result, error) {
	return j.ExportDay(ctx, j.now().UTC().AddDate(0, 0, -1))
}

// ExportDay writes one JSON line per ledger line for the UTC day that
// contains day. Re-running overwrites the same object.
func (j *Job) ExportDay(ctx context.Context, day time.Time) (Result, error) {
	if j.ledger == nil || j.storage == nil {
		return Result{}, fmt.Errorf("ledger export is not configured")
	}

	from, to := rules.DayBounds(day, time.UTC)
	result := Result{Day: from, Key: rules.ArchiveKey(j.prefix, from)}

	lines, err := j.ledger.ListLines(ctx, from, to)
	if err != nil {
		return Result{}, fmt.Errorf("list ledger lines: %w", err)
	}
	if len(lines) == 0 {
		j.logger.Debug("ledger export skipped, no lines", zap.String("day", rules.DayKey(from, time.UTC)))
		return result, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, line := range lines {
		if err := enc.Encode(line); err != nil {
			return Result{}, fmt.Errorf("encode ledger line %d: %w", line.ID, err)
		}
	}

	if err := j.storage.Put(ctx, result.Key, buf.Bytes(), contentType); err != nil {
		return Result{}, fmt.Errorf("upload ledger export: %w", err)
	}
	result.Lines = len(lines)

	j.logger.Info("ledger export completed",
		zap.String("key", result.Key),
		zap.Int("lines", result.Lines),
	)
	return result, nil
}
