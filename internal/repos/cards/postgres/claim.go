package cards

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fastprodman/tcgpacks/internal/repos/cards"
)

// ClaimRandom claims up to limit random available cards of one rarity.
// Rows locked by concurrent claimers are skipped, never waited on, so the
// result may be shorter than limit even when the pool is not empty.
func (r *cardsRepo) ClaimRandom(
	ctx context.Context,
	tx *sql.Tx,
	userID string,
	rarity cards.Rarity,
	limit int,
	at time.Time,
) ([]cards.PoolCard, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := tx.QueryContext(ctx, `
		WITH picked AS (
			SELECT id
			FROM unclaimed_cards
			WHERE NOT is_claimed AND rarity = $1
			ORDER BY random()
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE unclaimed_cards AS u
		SET is_claimed = TRUE, claimed_by_user_id = $3, claimed_at = $4
		FROM picked
		WHERE u.id = picked.id
		RETURNING u.id, u.name, u.card_data, u.image_path, u.rarity, u.set_name,
		          u.card_number, u.claimed_by_user_id, u.claimed_at
	`, rarity, limit, userID, at.UTC())
	if err != nil {
		return nil, fmt.Errorf("claim %s cards: %w", rarity, err)
	}
	//nolint:errcheck
	defer rows.Close()

	claimed := make([]cards.PoolCard, 0, limit)

	for rows.Next() {
		c, err := scanPoolCard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claimed card: %w", err)
		}

		claimed = append(claimed, c)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate claimed cards: %w", err)
	}

	return claimed, nil
}

func (r *cardsRepo) ClaimByID(
	ctx context.Context,
	tx *sql.Tx,
	userID string,
	cardID int64,
	at time.Time,
) (cards.PoolCard, error) {
	row := tx.QueryRowContext(ctx, `
		UPDATE unclaimed_cards
		SET is_claimed = TRUE, claimed_by_user_id = $2, claimed_at = $3
		WHERE id = $1 AND NOT is_claimed
		RETURNING `+poolColumns,
		cardID, userID, at.UTC())

	c, err := scanPoolCard(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return cards.PoolCard{}, cards.ErrCardUnavailable
		}

		return cards.PoolCard{}, fmt.Errorf("claim card %d: %w", cardID, err)
	}

	return c, nil
}
