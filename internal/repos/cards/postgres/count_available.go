package cards

import (
	"context"
	"fmt"

	"github.com/fastprodman/tcgpacks/internal/repos/cards"
)

// CountAvailable reports unclaimed cards per rarity. Every rarity is present
// in the result, zero when the pool has none.
func (r *cardsRepo) CountAvailable(ctx context.Context) (map[cards.Rarity]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT rarity, COUNT(*)
		FROM unclaimed_cards
		WHERE NOT is_claimed
		GROUP BY rarity
	`)
	if err != nil {
		return nil, fmt.Errorf("count available: %w", err)
	}
	//nolint:errcheck
	defer rows.Close()

	counts := make(map[cards.Rarity]int, len(cards.Rarities))
	for _, r := range cards.Rarities {
		counts[r] = 0
	}

	for rows.Next() {
		var (
			rarity cards.Rarity
			n      int
		)

		err = rows.Scan(&rarity, &n)
		if err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}

		counts[rarity] = n
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate counts: %w", err)
	}

	return counts, nil
}
