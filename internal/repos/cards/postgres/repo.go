package cards

import (
	"database/sql"
	"encoding/json"

	"github.com/fastprodman/tcgpacks/internal/repos/cards"
)

var _ cards.Cards = (*cardsRepo)(nil)

type cardsRepo struct{ db *sql.DB }

func New(db *sql.DB) *cardsRepo {
	return &cardsRepo{db: db}
}

func jsonArg(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}

	return string(raw)
}

type scanner interface {
	Scan(dest ...any) error
}

const poolColumns = `id, name, card_data, image_path, rarity, set_name, card_number, claimed_by_user_id, claimed_at`

func scanPoolCard(s scanner) (cards.PoolCard, error) {
	var (
		c         cards.PoolCard
		data      []byte
		claimedBy sql.NullString
		claimedAt sql.NullTime
	)

	err := s.Scan(&c.ID, &c.Name, &data, &c.ImagePath, &c.Rarity, &c.SetName, &c.CardNumber, &claimedBy, &claimedAt)
	if err != nil {
		return cards.PoolCard{}, err
	}

	c.CardData = data
	c.ClaimedBy = claimedBy.String
	c.ClaimedAt = claimedAt.Time

	return c, nil
}
