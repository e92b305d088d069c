package adjustments

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ivankudzin/creditpay/internal/domain/model"
	"github.com/ivankudzin/creditpay/internal/pkg/validate"
	pgrepo "github.com/ivankudzin/creditpay/internal/repo/postgres"
)

const (
	defaultMaxMagnitude = 1_000_000
	maxReasonLength     = 500
)

var (
	ErrInvalidAdjustment = errors.New("invalid adjustment")
	ErrWouldGoNegative   = errors.New("adjustment would make balance negative")
	ErrPersistence       = errors.New("adjustment persistence failed")
)

// WouldGoNegativeError reports the balance seen when a debit was refused.
type WouldGoNegativeError struct {
	Current int64
	Delta   int64
}

func (e *WouldGoNegativeError) Error() string {
	return fmt.Sprintf("adjustment %d would make balance %d negative", e.Delta, e.Current)
}

func (e *WouldGoNegativeError) Is(target error) bool {
	return target == ErrWouldGoNegative
}

type BalanceStore interface {
	GetBalance(ctx context.Context, userID int64) (model.Balance, error)
	AdjustBalance(ctx context.Context, userID, delta int64, actor, reason string) (model.Adjustment, error)
}

type Publisher interface {
	PublishBalanceChanged(ctx context.Context, change model.BalanceChange) error
}

type Service struct {
	balances     BalanceStore
	publisher    Publisher
	maxMagnitude int64
	log          *zap.Logger
	now          func() time.Time
}

type Dependencies struct {
	Balances     BalanceStore
	Publisher    Publisher
	MaxMagnitude int64
	Logger       *zap.Logger
}

type AdjustInput struct {
	UserID int64
	Delta  int64
	Actor  string
	Reason string
}

func NewService(deps Dependencies) *Service {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	maxMagnitude := deps.MaxMagnitude
	if maxMagnitude <= 0 {
		maxMagnitude = defaultMaxMagnitude
	}
	return &Service{
		balances:     deps.Balances,
		publisher:    deps.Publisher,
		maxMagnitude: maxMagnitude,
		log:          log,
		now:          time.Now,
	}
}

// Adjust applies a signed credit delta on behalf of an operator. Debits
// never take a balance below zero.
func (s *Service) Adjust(ctx context.Context, in AdjustInput) (model.Adjustment, error) {
	if s.balances == nil {
		return model.Adjustment{}, fmt.Errorf("balance store is not configured")
	}
	in.Actor = strings.TrimSpace(in.Actor)
	in.Reason = strings.TrimSpace(in.Reason)
	if err := s.validate(in); err != nil {
		return model.Adjustment{}, err
	}

	adjustment, err := s.balances.AdjustBalance(ctx, in.UserID, in.Delta, in.Actor, in.Reason)
	if err != nil {
		var insufficient *pgrepo.InsufficientCreditsError
		if errors.As(err, &insufficient) {
			s.log.Info("adjustment refused, balance too low",
				zap.Int64("user_id", in.UserID),
				zap.Int64("delta", in.Delta),
				zap.Int64("current", insufficient.Current),
				zap.String("actor", in.Actor),
			)
			return model.Adjustment{}, &WouldGoNegativeError{Current: insufficient.Current, Delta: in.Delta}
		}
		return model.Adjustment{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	s.log.Info("balance adjusted",
		zap.Int64("adjustment_id", adjustment.ID),
		zap.Int64("user_id", adjustment.UserID),
		zap.Int64("delta", adjustment.Delta),
		zap.Int64("balance_after", adjustment.BalanceAfter),
		zap.String("actor", adjustment.Actor),
		zap.String("reason", adjustment.Reason),
	)

	if s.publisher != nil {
		at := adjustment.CreatedAt
		if at.IsZero() {
			at = s.now().UTC()
		}
		change := model.BalanceChange{
			UserID:    adjustment.UserID,
			Delta:     adjustment.Delta,
			Balance:   adjustment.BalanceAfter,
			Reason:    "adjustment",
			Reference: "adjustment:" + strconv.FormatInt(adjustment.ID, 10),
			At:        at,
		}
		if err := s.publisher.PublishBalanceChanged(ctx, change); err != nil {
			s.log.Warn("balance change not published", zap.Int64("user_id", change.UserID), zap.Error(err))
		}
	}
	return adjustment, nil
}

func (s *Service) Balance(ctx context.Context, userID int64) (model.Balance, error) {
	if s.balances == nil {
		return model.Balance{}, fmt.Errorf("balance store is not configured")
	}
	if userID <= 0 {
		return model.Balance{}, fmt.Errorf("%w: user id must be positive", ErrInvalidAdjustment)
	}
	balance, err := s.balances.GetBalance(ctx, userID)
	if err != nil {
		return model.Balance{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return balance, nil
}

func (s *Service) validate(in AdjustInput) error {
	switch {
	case in.UserID <= 0:
		return fmt.Errorf("%w: user id must be positive", ErrInvalidAdjustment)
	case in.Delta == 0:
		return fmt.Errorf("%w: delta must not be zero", ErrInvalidAdjustment)
	case in.Delta > s.maxMagnitude || in.Delta < -s.maxMagnitude:
		return fmt.Errorf("%w: delta exceeds %d", ErrInvalidAdjustment, s.maxMagnitude)
	case !validate.Required(in.Actor):
		return fmt.Errorf("%w: actor is required", ErrInvalidAdjustment)
	case !validate.MaxRunes(in.Reason, maxReasonLength):
		return fmt.Errorf("%w: reason is too long", ErrInvalidAdjustment)
	}
	return nil
}
