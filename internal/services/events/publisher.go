package events

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ivankudzin/creditpay/internal/domain/model"
)

type Sink interface {
	Name() string
	Publish(ctx context.Context, change model.BalanceChange) error
}

// Publisher fans a committed balance change out to every configured sink.
type Publisher struct {
	sinks []Sink
	log   *zap.Logger
}

func NewPublisher(log *zap.Logger, sinks ...Sink) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	filtered := make([]Sink, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			filtered = append(filtered, sink)
		}
	}
	return &Publisher{sinks: filtered, log: log}
}

// PublishBalanceChanged delivers to all sinks; one failing sink does not
// stop the others. The joined error lists every failure.
func (p *Publisher) PublishBalanceChanged(ctx context.Context, change model.BalanceChange) error {
	if p == nil || len(p.sinks) == 0 {
		return nil
	}

	errs := make([]error, len(p.sinks))
	var g errgroup.Group
	for i, sink := range p.sinks {
		g.Go(func() error {
			if err := sink.Publish(ctx, change); err != nil {
				p.log.Warn("balance event publish failed",
					zap.String("sink", sink.Name()),
					zap.Int64("user_id", change.UserID),
					zap.String("reference", change.Reference),
					zap.Error(err),
				)
				errs[i] = fmt.Errorf("%s: %w", sink.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}
