package cards

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fastprodman/tcgpacks/internal/infra/pgutils"
	"github.com/fastprodman/tcgpacks/internal/repos/cards"
)

// InsertOwned copies claimed pool cards into the user's collection.
func (r *cardsRepo) InsertOwned(
	ctx context.Context,
	tx *sql.Tx,
	userID string,
	claimed []cards.PoolCard,
) ([]cards.OwnedCard, error) {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO owned_cards (source_card_id, user_id, name, card_data, image_path, rarity, set_name, card_number, created_at)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, $8, clock_timestamp())
		RETURNING id, created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare insert owned: %w", err)
	}
	//nolint:errcheck
	defer stmt.Close()

	owned := make([]cards.OwnedCard, 0, len(claimed))

	for _, c := range claimed {
		o := cards.OwnedCard{
			SourceCardID: c.ID,
			UserID:       userID,
			Name:         c.Name,
			CardData:     c.CardData,
			ImagePath:    c.ImagePath,
			Rarity:       c.Rarity,
			SetName:      c.SetName,
			CardNumber:   c.CardNumber,
		}

		err = stmt.QueryRowContext(ctx,
			c.ID, userID, c.Name, jsonArg(c.CardData), c.ImagePath, c.Rarity, c.SetName, c.CardNumber,
		).Scan(&o.ID, &o.CreatedAt)
		if err != nil {
			if pgutils.IsUniqueViolation(err) {
				return nil, fmt.Errorf("card %d already owned: %w", c.ID, cards.ErrCardUnavailable)
			}

			return nil, fmt.Errorf("insert owned card %d: %w", c.ID, err)
		}

		owned = append(owned, o)
	}

	return owned, nil
}

func (r *cardsRepo) ListOwned(ctx context.Context, userID string, limit, offset int) ([]cards.OwnedCard, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, source_card_id, user_id, name, card_data, image_path, rarity, set_name, card_number, created_at
		FROM owned_cards
		WHERE user_id = $1
		ORDER BY id DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query owned cards: %w", err)
	}
	//nolint:errcheck
	defer rows.Close()

	owned := make([]cards.OwnedCard, 0, limit)

	for rows.Next() {
		var (
			o    cards.OwnedCard
			data []byte
		)

		err = rows.Scan(&o.ID, &o.SourceCardID, &o.UserID, &o.Name, &data,
			&o.ImagePath, &o.Rarity, &o.SetName, &o.CardNumber, &o.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan owned card: %w", err)
		}

		o.CardData = data
		owned = append(owned, o)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate owned cards: %w", err)
	}

	return owned, nil
}

func (r *cardsRepo) CountOwned(ctx context.Context, userID string) (int, error) {
	var n int

	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM owned_cards WHERE user_id = $1
	`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count owned cards: %w", err)
	}

	return n, nil
}
