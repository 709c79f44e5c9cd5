package cards

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fastprodman/tcgpacks/internal/repos/cards"
)

func (r *cardsRepo) InsertUnclaimed(ctx context.Context, tx *sql.Tx, newCards []cards.NewCard) ([]int64, error) {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO unclaimed_cards (name, card_data, image_path, rarity, set_name, card_number)
		VALUES ($1, $2::jsonb, $3, $4, $5, $6)
		RETURNING id
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	//nolint:errcheck
	defer stmt.Close()

	ids := make([]int64, 0, len(newCards))

	for _, c := range newCards {
		_, err = cards.ParseRarity(string(c.Rarity))
		if err != nil {
			return nil, err
		}

		setName := c.SetName
		if setName == "" {
			setName = "GEN"
		}

		var id int64

		err = stmt.QueryRowContext(ctx,
			c.Name, jsonArg(c.CardData), c.ImagePath, c.Rarity, setName, c.CardNumber,
		).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("insert card %q: %w", c.Name, err)
		}

		ids = append(ids, id)
	}

	return ids, nil
}
