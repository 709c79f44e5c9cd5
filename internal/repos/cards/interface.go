package cards

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrCardUnavailable means the card is missing or somebody else claimed it.
	ErrCardUnavailable = errors.New("card unavailable")
	ErrInvalidRarity   = errors.New("invalid rarity")
)

type Rarity string

const (
	Common   Rarity = "Common"
	Uncommon Rarity = "Uncommon"
	Rare     Rarity = "Rare"
	Mythic   Rarity = "Mythic"
)

var Rarities = []Rarity{Common, Uncommon, Rare, Mythic}

func ParseRarity(s string) (Rarity, error) {
	for _, r := range Rarities {
		if strings.EqualFold(strings.TrimSpace(s), string(r)) {
			return r, nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrInvalidRarity, s)
}

func (r *Rarity) UnmarshalText(b []byte) error {
	v, err := ParseRarity(string(b))
	if err != nil {
		return err
	}

	*r = v

	return nil
}

// PoolCard is a row of the shared pool.
type PoolCard struct {
	ID         int64
	Name       string
	CardData   json.RawMessage
	ImagePath  string
	Rarity     Rarity
	SetName    string
	CardNumber string
	ClaimedBy  string
	ClaimedAt  time.Time
}

type OwnedCard struct {
	ID           int64
	SourceCardID int64
	UserID       string
	Name         string
	CardData     json.RawMessage
	ImagePath    string
	Rarity       Rarity
	SetName      string
	CardNumber   string
	CreatedAt    time.Time
}

// NewCard is an unclaimed card handed over by the generation pipeline.
type NewCard struct {
	Name       string
	CardData   json.RawMessage
	ImagePath  string
	Rarity     Rarity
	SetName    string
	CardNumber string
}

type Cards interface {
	InsertUnclaimed(ctx context.Context, tx *sql.Tx, cards []NewCard) ([]int64, error)
	ClaimRandom(ctx context.Context, tx *sql.Tx, userID string, rarity Rarity, limit int, at time.Time) ([]PoolCard, error)
	ClaimByID(ctx context.Context, tx *sql.Tx, userID string, cardID int64, at time.Time) (PoolCard, error)
	InsertOwned(ctx context.Context, tx *sql.Tx, userID string, claimed []PoolCard) ([]OwnedCard, error)
	ListOwned(ctx context.Context, userID string, limit, offset int) ([]OwnedCard, error)
	CountOwned(ctx context.Context, userID string) (int, error)
	CountAvailable(ctx context.Context) (map[Rarity]int, error)
}
