package packs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fastprodman/tcgpacks/internal/infra/pgutils"
	"github.com/fastprodman/tcgpacks/internal/repos/cards"
	"github.com/fastprodman/tcgpacks/internal/repos/users"
	"github.com/fastprodman/tcgpacks/internal/services/credits"
)

type Collection struct {
	Cards   []CardSummary `json:"cards"`
	Total   int           `json:"total"`
	Page    int           `json:"page"`
	PerPage int           `json:"per_page"`
}

// ClaimCard moves a single pool card into the user's collection for free.
func (s *Service) ClaimCard(ctx context.Context, userID string, cardID int64) (CardSummary, error) {
	err := s.users.Exists(ctx, userID)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			return CardSummary{}, newError(KindUserNotFound, "", err)
		}

		return CardSummary{}, fmt.Errorf("check user: %w", err)
	}

	var owned []cards.OwnedCard

	err = pgutils.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		c, err := s.cards.ClaimByID(ctx, tx, userID, cardID, s.now())
		if err != nil {
			if errors.Is(err, cards.ErrCardUnavailable) {
				return newError(KindCardUnavailable, "", err)
			}

			return newError(KindClaimFailed, "", err)
		}

		owned, err = s.cards.InsertOwned(ctx, tx, userID, []cards.PoolCard{c})
		if err != nil {
			return newError(KindClaimFailed, "", err)
		}

		return nil
	})
	if err != nil {
		return CardSummary{}, err
	}

	return summarize(owned[0]), nil
}

func (s *Service) Collection(ctx context.Context, userID string, page, perPage int) (Collection, error) {
	page, perPage = credits.ClampPage(page, perPage)

	owned, err := s.cards.ListOwned(ctx, userID, perPage, (page-1)*perPage)
	if err != nil {
		return Collection{}, fmt.Errorf("list collection: %w", err)
	}

	total, err := s.cards.CountOwned(ctx, userID)
	if err != nil {
		return Collection{}, fmt.Errorf("count collection: %w", err)
	}

	c := Collection{
		Cards:   make([]CardSummary, 0, len(owned)),
		Total:   total,
		Page:    page,
		PerPage: perPage,
	}

	for _, o := range owned {
		c.Cards = append(c.Cards, summarize(o))
	}

	return c, nil
}

// PoolStats reports how many unclaimed cards of each rarity remain and how
// many full packs that is enough for.
type PoolStats struct {
	Available     map[cards.Rarity]int `json:"available"`
	PacksPossible int                  `json:"packs_possible"`
}

func (s *Service) PoolStats(ctx context.Context) (PoolStats, error) {
	counts, err := s.cards.CountAvailable(ctx)
	if err != nil {
		return PoolStats{}, fmt.Errorf("pool stats: %w", err)
	}

	return PoolStats{Available: counts, PacksPossible: packsPossible(s.cfg, counts)}, nil
}

// packsPossible counts base-rarity packs only; upgrades are ignored.
func packsPossible(cfg Config, counts map[cards.Rarity]int) int {
	need := make(map[cards.Rarity]int)
	for _, slot := range cfg.Slots {
		need[slot.Rarity] += slot.Count
	}

	best := -1

	for r, n := range need {
		p := counts[r] / n
		if best < 0 || p < best {
			best = p
		}
	}

	return max(best, 0)
}

// AddToPool stores freshly generated cards as unclaimed.
func (s *Service) AddToPool(ctx context.Context, newCards []cards.NewCard) ([]int64, error) {
	if len(newCards) == 0 {
		return nil, nil
	}

	var ids []int64

	err := pgutils.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error

		ids, err = s.cards.InsertUnclaimed(ctx, tx, newCards)

		return err
	})
	if err != nil {
		return nil, fmt.Errorf("add to pool: %w", err)
	}

	return ids, nil
}
