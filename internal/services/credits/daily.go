package credits

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fastprodman/tcgpacks/internal/infra/pgutils"
	"github.com/fastprodman/tcgpacks/internal/repos/ledger"
)

func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()

	return ay == by && am == bm && ad == bd
}

func (s *Service) CanClaimDailyBonus(ctx context.Context, userID string) (bool, error) {
	last, ok, err := s.ledger.LastDailyClaim(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("read last claim: %w", err)
	}

	return !ok || !sameUTCDay(last, s.now()), nil
}

// ClaimDailyBonus credits the daily bonus at most once per UTC day. The
// credit goes first and the day marker second, in one transaction, so a
// failed credit never burns the day and a concurrent winner rolls the
// credit back.
func (s *Service) ClaimDailyBonus(ctx context.Context, userID string) (DailyClaim, error) {
	ok, err := s.CanClaimDailyBonus(ctx, userID)
	if err != nil {
		return DailyClaim{}, err
	}

	if !ok {
		return DailyClaim{}, ErrDailyBonusClaimed
	}

	now := s.now().UTC()

	var rcpt Receipt

	err = s.retry.do(ctx, func() error {
		return pgutils.WithTx(ctx, s.db, func(tx *sql.Tx) error {
			var err error

			rcpt, err = s.apply(ctx, tx, userID, s.bonus, "Daily bonus claim", TypeDailyClaim)
			if err != nil {
				return err
			}

			err = s.ledger.MarkDailyClaim(ctx, tx, userID, now)
			if errors.Is(err, ledger.ErrDailyClaimExists) {
				return ErrDailyBonusClaimed
			}

			return err
		})
	})
	if err != nil {
		return DailyClaim{}, fmt.Errorf("claim daily bonus: %w", err)
	}

	s.PublishReceipt(ctx, rcpt)

	return DailyClaim{Amount: s.bonus, NewBalance: rcpt.BalanceAfter}, nil
}
