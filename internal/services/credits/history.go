package credits

import (
	"context"
	"fmt"
	"log/slog"
)

// ClampPage normalises paging input: page starts at 1 and perPage is
// kept within [1, MaxPerPage].
func ClampPage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}

	perPage = min(max(perPage, 1), MaxPerPage)

	return page, perPage
}

func (s *Service) TransactionHistory(ctx context.Context, userID string, page, perPage int) (History, error) {
	page, perPage = ClampPage(page, perPage)

	entries, err := s.ledger.ListEntries(ctx, userID, perPage, (page-1)*perPage)
	if err != nil {
		return History{}, fmt.Errorf("list transactions: %w", err)
	}

	total, err := s.ledger.CountEntries(ctx, userID)
	if err != nil {
		return History{}, fmt.Errorf("count transactions: %w", err)
	}

	h := History{
		Transactions: make([]Transaction, 0, len(entries)),
		Total:        total,
		Page:         page,
		PerPage:      perPage,
	}

	for _, e := range entries {
		h.Transactions = append(h.Transactions, fromEntry(e))
	}

	return h, nil
}

// Reconcile checks the stored balance against the sum of the log. A
// mismatch is reported and logged, never repaired.
func (s *Service) Reconcile(ctx context.Context, userID string) (Reconciliation, error) {
	acc, err := s.ledger.GetAccount(ctx, userID)
	if err != nil {
		return Reconciliation{}, fmt.Errorf("read account: %w", err)
	}

	sum, err := s.ledger.SumEntries(ctx, userID)
	if err != nil {
		return Reconciliation{}, fmt.Errorf("sum log: %w", err)
	}

	rec := Reconciliation{
		UserID:     userID,
		Balance:    acc.Balance,
		LogSum:     sum,
		Consistent: acc.Balance == sum,
	}

	if !rec.Consistent {
		slog.ErrorContext(ctx, "balance invariant violated",
			"user_id", userID, "balance", acc.Balance, "log_sum", sum)

		return rec, fmt.Errorf("%w: balance %d, log sum %d", ErrBalanceMismatch, acc.Balance, sum)
	}

	return rec, nil
}
