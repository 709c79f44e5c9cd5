package credits

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fastprodman/tcgpacks/internal/infra/pgutils"
	"github.com/fastprodman/tcgpacks/internal/notify"
	"github.com/fastprodman/tcgpacks/internal/repos/ledger"
	pgledger "github.com/fastprodman/tcgpacks/internal/repos/ledger/postgres"
	"github.com/fastprodman/tcgpacks/internal/repos/transactions"
	pgtransactions "github.com/fastprodman/tcgpacks/internal/repos/transactions/postgres"
)

type Service struct {
	db     *sql.DB
	ledger ledger.Ledger
	keys   transactions.Transactions
	sink   notify.Sink
	retry  RetryPolicy
	bonus  int64
	now    func() time.Time
}

type Option func(*Service)

func WithSink(s notify.Sink) Option {
	return func(svc *Service) {
		if s != nil {
			svc.sink = s
		}
	}
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(svc *Service) { svc.retry = p }
}

func WithDailyBonus(amount int64) Option {
	return func(svc *Service) {
		if amount > 0 {
			svc.bonus = amount
		}
	}
}

// WithClock replaces time.Now; daily eligibility is decided on its UTC date.
func WithClock(now func() time.Time) Option {
	return func(svc *Service) {
		if now != nil {
			svc.now = now
		}
	}
}

func New(db *sql.DB, opts ...Option) *Service {
	svc := &Service{
		db:     db,
		ledger: pgledger.New(db),
		keys:   pgtransactions.New(db),
		sink:   notify.Nop{},
		retry:  DefaultRetryPolicy(),
		bonus:  DefaultDailyBonus,
		now:    time.Now,
	}

	for _, o := range opts {
		o(svc)
	}

	return svc
}

// GetBalance returns the user's balance; unknown users have 0.
func (s *Service) GetBalance(ctx context.Context, userID string) (int64, error) {
	acc, err := s.ledger.GetAccount(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}

	return acc.Balance, nil
}

func (s *Service) AddCredits(ctx context.Context, userID string, amount int64, description, txType string) (Receipt, error) {
	if amount <= 0 {
		return Receipt{}, ErrInvalidAmount
	}

	return s.mutateStandalone(ctx, userID, amount, description, txType, nil)
}

func (s *Service) SpendCredits(ctx context.Context, userID string, amount int64, description, txType string) (Receipt, error) {
	if amount <= 0 {
		return Receipt{}, ErrInvalidAmount
	}

	return s.mutateStandalone(ctx, userID, -amount, description, txType, nil)
}

// SpendCreditsTx debits inside a transaction owned by the caller, so the
// debit commits or rolls back together with the caller's other writes.
// Lost swaps are retried in place; that relies on READ COMMITTED so each
// re-read sees the latest committed version. The caller publishes the
// receipt after commit.
func (s *Service) SpendCreditsTx(
	ctx context.Context,
	tx *sql.Tx,
	userID string,
	amount int64,
	description, txType string,
) (Receipt, error) {
	if amount <= 0 {
		return Receipt{}, ErrInvalidAmount
	}

	var rcpt Receipt

	err := s.retry.do(ctx, func() error {
		var err error

		rcpt, err = s.apply(ctx, tx, userID, -amount, description, txType)

		return err
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("spend credits: %w", err)
	}

	return rcpt, nil
}

// PublishReceipt emits credit_update for a committed mutation.
func (s *Service) PublishReceipt(ctx context.Context, r Receipt) {
	balance := r.BalanceAfter
	tx := r.Transaction

	s.sink.Publish(ctx, notify.Event{
		Type:       notify.CreditUpdate,
		UserID:     r.UserID,
		NewBalance: &balance,
		Transaction: &notify.TransactionSummary{
			ID:          tx.ID,
			Amount:      tx.Amount,
			Type:        tx.Type,
			Description: tx.Description,
			CreatedAt:   tx.CreatedAt,
		},
	})
}

// Grant credits a user on behalf of an operator. A non-empty key makes the
// grant idempotent: replaying it returns ErrDuplicateGrant and changes
// nothing.
func (s *Service) Grant(ctx context.Context, userID string, amount int64, reason, key string) (Receipt, error) {
	if amount <= 0 {
		return Receipt{}, ErrInvalidAmount
	}

	if reason == "" {
		reason = "Admin grant"
	}

	var reserve func(*sql.Tx) error
	if key != "" {
		reserve = func(tx *sql.Tx) error {
			return s.keys.Reserve(ctx, tx, key, userID)
		}
	}

	return s.mutateStandalone(ctx, userID, amount, reason, TypeAdminGrant, reserve)
}

// mutateStandalone runs every attempt in its own transaction. before, when
// set, runs first in the same transaction.
func (s *Service) mutateStandalone(
	ctx context.Context,
	userID string,
	delta int64,
	description, txType string,
	before func(*sql.Tx) error,
) (Receipt, error) {
	var rcpt Receipt

	err := s.retry.do(ctx, func() error {
		return pgutils.WithTx(ctx, s.db, func(tx *sql.Tx) error {
			if before != nil {
				err := before(tx)
				if err != nil {
					return err
				}
			}

			var err error

			rcpt, err = s.apply(ctx, tx, userID, delta, description, txType)

			return err
		})
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("update balance: %w", err)
	}

	s.PublishReceipt(ctx, rcpt)

	return rcpt, nil
}

// apply is one compare-and-swap attempt plus its log entry. The sufficiency
// check uses the same read that feeds the swap.
func (s *Service) apply(
	ctx context.Context,
	tx *sql.Tx,
	userID string,
	delta int64,
	description, txType string,
) (Receipt, error) {
	acc, err := s.ledger.ReadAccount(ctx, tx, userID)
	if err != nil {
		return Receipt{}, err
	}

	next := acc.Balance + delta
	if next < 0 {
		return Receipt{}, ErrInsufficientCredits
	}

	_, err = s.ledger.CompareAndSwap(ctx, tx, userID, acc.Version, next)
	if err != nil {
		if errors.Is(err, ledger.ErrNegativeBalance) {
			return Receipt{}, ErrInsufficientCredits
		}

		return Receipt{}, err
	}

	entry, err := s.ledger.AppendEntry(ctx, tx, ledger.Entry{
		UserID:       userID,
		Amount:       delta,
		Description:  description,
		Type:         txType,
		BalanceAfter: next,
	})
	if err != nil {
		slog.ErrorContext(ctx, "ledger append failed after balance swap",
			"user_id", userID, "delta", delta, "error", err)

		return Receipt{}, err
	}

	return Receipt{
		UserID:       userID,
		Amount:       delta,
		BalanceAfter: next,
		Transaction:  fromEntry(entry),
	}, nil
}
