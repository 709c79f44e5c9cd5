package packs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/fastprodman/tcgpacks/internal/infra/pgutils"
	"github.com/fastprodman/tcgpacks/internal/repos/cards"
	pgcards "github.com/fastprodman/tcgpacks/internal/repos/cards/postgres"
	"github.com/fastprodman/tcgpacks/internal/repos/users"
	pgusers "github.com/fastprodman/tcgpacks/internal/repos/users/postgres"
	"github.com/fastprodman/tcgpacks/internal/services/credits"
)

// CreditLedger is the part of the credit ledger the allocator needs.
type CreditLedger interface {
	GetBalance(ctx context.Context, userID string) (int64, error)
	SpendCreditsTx(ctx context.Context, tx *sql.Tx, userID string, amount int64, description, txType string) (credits.Receipt, error)
	PublishReceipt(ctx context.Context, r credits.Receipt)
}

type CardSummary struct {
	ID         int64           `json:"id"`
	Name       string          `json:"name"`
	Rarity     cards.Rarity    `json:"rarity"`
	ImagePath  string          `json:"image_path"`
	SetName    string          `json:"set_name"`
	CardNumber string          `json:"card_number"`
	CardData   json.RawMessage `json:"card_data,omitempty"`
}

type Result struct {
	Message          string        `json:"message"`
	Cards            []CardSummary `json:"cards"`
	CreditsRemaining int64         `json:"credits_remaining"`
	Cost             int64         `json:"cost"`
}

type Service struct {
	db      *sql.DB
	cfg     Config
	credits CreditLedger
	cards   cards.Cards
	users   users.Users
	roll    func() float64
	now     func() time.Time
}

type Option func(*Service)

// WithRoll replaces the random source used for rarity upgrades. It must
// return values in [0, 1).
func WithRoll(roll func() float64) Option {
	return func(s *Service) {
		if roll != nil {
			s.roll = roll
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(db *sql.DB, cfg Config, ledger CreditLedger, opts ...Option) *Service {
	s := &Service{
		db:      db,
		cfg:     cfg,
		credits: ledger,
		cards:   pgcards.New(db),
		users:   pgusers.New(db),
		roll:    rand.Float64,
		now:     time.Now,
	}

	for _, o := range opts {
		o(s)
	}

	return s
}

func (s *Service) Config() Config { return s.cfg }

// OpenPack draws a full pack for the user and debits its cost. Card claims,
// the debit and the new collection rows share one transaction: either the
// whole pack lands or nothing does.
func (s *Service) OpenPack(ctx context.Context, userID string) (Result, error) {
	log := slog.With("user_id", userID)

	err := s.users.Exists(ctx, userID)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			return Result{}, newError(KindUserNotFound, "", err)
		}

		return Result{}, fmt.Errorf("check user: %w", err)
	}

	balance, err := s.credits.GetBalance(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("read balance: %w", err)
	}

	if balance < s.cfg.Cost {
		return Result{}, newError(KindInsufficientCredits, "", nil)
	}

	var (
		owned []cards.OwnedCard
		rcpt  credits.Receipt
	)

	at := s.now().UTC()

	err = pgutils.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		claimed := make([]cards.PoolCard, 0, s.cfg.Size())

		for _, slot := range s.cfg.Slots {
			got, err := s.claimSlot(ctx, tx, userID, slot, at)
			if err != nil {
				return err
			}

			claimed = append(claimed, got...)

			if len(got) < slot.Count {
				return newError(KindInsufficientCards,
					fmt.Sprintf("(got %d, need %d)", len(claimed), s.cfg.Size()), nil)
			}
		}

		var err error

		rcpt, err = s.credits.SpendCreditsTx(ctx, tx, userID, s.cfg.Cost, "Opened a booster pack", credits.TypePackOpening)
		if err != nil {
			// a balance drained since the precheck lands here too
			return newError(KindTransactionFailed, "", err)
		}

		owned, err = s.cards.InsertOwned(ctx, tx, userID, claimed)
		if err != nil {
			return newError(KindClaimFailed, "", err)
		}

		return nil
	})
	if err != nil {
		var pe *Error
		if errors.As(err, &pe) && !pe.Retryable() {
			log.Warn("pack opening failed", "kind", pe.Kind, "error", err)
		} else {
			log.Error("pack opening failed", "error", err)
		}

		return Result{}, err
	}

	s.credits.PublishReceipt(ctx, rcpt)

	log.Info("pack opened", "cards", len(owned), "credits_remaining", rcpt.BalanceAfter)

	res := Result{
		Message:          "Pack opened successfully",
		Cards:            make([]CardSummary, 0, len(owned)),
		CreditsRemaining: rcpt.BalanceAfter,
		Cost:             s.cfg.Cost,
	}

	for _, o := range owned {
		res.Cards = append(res.Cards, summarize(o))
	}

	return res, nil
}

// claimSlot fills one slot. Cards locked by concurrent packs are skipped, so
// a short batch is retried after RetryDelay, at most MaxRetries times. The
// upgrade is rolled on every attempt.
func (s *Service) claimSlot(
	ctx context.Context,
	tx *sql.Tx,
	userID string,
	slot Slot,
	at time.Time,
) ([]cards.PoolCard, error) {
	got := make([]cards.PoolCard, 0, slot.Count)

	for attempt := 0; len(got) < slot.Count && attempt <= s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			err := sleep(ctx, s.cfg.RetryDelay)
			if err != nil {
				return nil, newError(KindClaimFailed, "", err)
			}
		}

		rarity := slot.Rarity
		if slot.Upgrade != nil && s.roll() < slot.Upgrade.Chance {
			rarity = slot.Upgrade.Rarity
		}

		batch, err := s.cards.ClaimRandom(ctx, tx, userID, rarity, slot.Count-len(got), at)
		if err != nil {
			return nil, newError(KindClaimFailed, "", err)
		}

		got = append(got, batch...)
	}

	return got, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func summarize(o cards.OwnedCard) CardSummary {
	return CardSummary{
		ID:         o.ID,
		Name:       o.Name,
		Rarity:     o.Rarity,
		ImagePath:  o.ImagePath,
		SetName:    o.SetName,
		CardNumber: o.CardNumber,
		CardData:   o.CardData,
	}
}
