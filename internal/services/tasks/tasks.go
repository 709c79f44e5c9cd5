package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/fastprodman/tcgpacks/internal/jobs"
	"github.com/fastprodman/tcgpacks/internal/services/credits"
	"github.com/fastprodman/tcgpacks/internal/services/packs"
)

const (
	TypePackOpening = "pack_opening"
	TypeBalance     = "get_balance"
	TypeDailyClaim  = "daily_claim"
)

var ErrForbidden = errors.New("request belongs to another user")

type PackOpener interface {
	OpenPack(ctx context.Context, userID string) (packs.Result, error)
}

type Ledger interface {
	GetBalance(ctx context.Context, userID string) (int64, error)
	ClaimDailyBonus(ctx context.Context, userID string) (credits.DailyClaim, error)
}

type Runner interface {
	Submit(ctx context.Context, j jobs.Job) (string, error)
	Status(id string) (jobs.Snapshot, error)
}

type BalanceResult struct {
	Balance int64 `json:"balance"`
}

// Service turns user requests into background jobs and answers status
// polls for them.
type Service struct {
	runner Runner
	packs  PackOpener
	ledger Ledger
}

func New(runner Runner, opener PackOpener, ledger Ledger) *Service {
	return &Service{runner: runner, packs: opener, ledger: ledger}
}

func (s *Service) OpenPack(ctx context.Context, userID string) (string, error) {
	return s.submit(ctx, TypePackOpening, userID, func(ctx context.Context) (any, error) {
		// *packs.Error already tells the runner whether to retry
		return s.packs.OpenPack(ctx, userID)
	})
}

func (s *Service) GetBalanceAsync(ctx context.Context, userID string) (string, error) {
	return s.submit(ctx, TypeBalance, userID, func(ctx context.Context) (any, error) {
		bal, err := s.ledger.GetBalance(ctx, userID)
		if err != nil {
			return nil, err
		}

		return BalanceResult{Balance: bal}, nil
	})
}

func (s *Service) ClaimDailyBonusAsync(ctx context.Context, userID string) (string, error) {
	return s.submit(ctx, TypeDailyClaim, userID, func(ctx context.Context) (any, error) {
		claim, err := s.ledger.ClaimDailyBonus(ctx, userID)
		if err != nil {
			if errors.Is(err, credits.ErrDailyBonusClaimed) || errors.Is(err, credits.ErrInvalidAmount) {
				return nil, jobs.Terminal(userFacing(err))
			}

			return nil, err
		}

		return claim, nil
	})
}

// GetStatus returns the state of a request owned by userID.
func (s *Service) GetStatus(_ context.Context, requestID, userID string) (jobs.Snapshot, error) {
	snap, err := s.runner.Status(requestID)
	if err != nil {
		return jobs.Snapshot{}, fmt.Errorf("task status: %w", err)
	}

	if snap.UserID != userID {
		return jobs.Snapshot{}, ErrForbidden
	}

	return snap, nil
}

func (s *Service) submit(ctx context.Context, taskType, userID string, run func(context.Context) (any, error)) (string, error) {
	id, err := s.runner.Submit(ctx, jobs.Job{Type: taskType, UserID: userID, Run: run})
	if err != nil {
		return "", fmt.Errorf("submit %s: %w", taskType, err)
	}

	return id, nil
}

// userFacing strips wrapping context so only the sentinel's text reaches
// the user.
func userFacing(err error) error {
	for _, sentinel := range []error{credits.ErrDailyBonusClaimed, credits.ErrInvalidAmount} {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}

	return err
}
