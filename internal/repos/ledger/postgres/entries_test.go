package ledger

import (
	"database/sql"
	"testing"
	"time"

	"github.com/fastprodman/tcgpacks/internal/infra/pgtestutil"
	"github.com/fastprodman/tcgpacks/internal/repos/ledger"
)

func appendEntries(t *testing.T, db *sql.DB, userID string, amounts ...int64) {
	t.Helper()

	repo := New(db)

	var bal int64

	for _, a := range amounts {
		bal += a

		tx, err := db.BeginTx(t.Context(), nil)
		if err != nil {
			t.Fatalf("begin tx: %v", err)
		}

		_, err = repo.AppendEntry(t.Context(), tx, ledger.Entry{
			UserID:       userID,
			Amount:       a,
			Description:  "test",
			Type:         "admin_grant",
			BalanceAfter: bal,
		})
		if err != nil {
			_ = tx.Rollback()
			t.Fatalf("append: %v", err)
		}

		err = tx.Commit()
		if err != nil {
			t.Fatalf("commit: %v", err)
		}
	}
}

func TestLedger_Entries(t *testing.T) {
	t.Parallel()

	db, cleanup := pgtestutil.NewTestDB(t)
	defer cleanup()

	appendEntries(t, db, "u1", 100, -30, 50, -20)
	appendEntries(t, db, "u2", 7)

	repo := New(db)
	ctx := t.Context()

	n, err := repo.CountEntries(ctx, "u1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}

	if n != 4 {
		t.Fatalf("count: want 4, got %d", n)
	}

	sum, err := repo.SumEntries(ctx, "u1")
	if err != nil {
		t.Fatalf("sum: %v", err)
	}

	if sum != 100 {
		t.Fatalf("sum: want 100, got %d", sum)
	}

	sum, err = repo.SumEntries(ctx, "nobody")
	if err != nil {
		t.Fatalf("sum missing: %v", err)
	}

	if sum != 0 {
		t.Fatalf("sum missing: want 0, got %d", sum)
	}

	page, err := repo.ListEntries(ctx, "u1", 2, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	if len(page) != 2 {
		t.Fatalf("page len: want 2, got %d", len(page))
	}

	// newest first
	if page[0].Amount != -20 || page[1].Amount != 50 {
		t.Fatalf("order: got %d, %d", page[0].Amount, page[1].Amount)
	}

	if page[0].BalanceAfter != 100 {
		t.Fatalf("balance_after: want 100, got %d", page[0].BalanceAfter)
	}

	page, err = repo.ListEntries(ctx, "u1", 2, 4)
	if err != nil {
		t.Fatalf("list past end: %v", err)
	}

	if len(page) != 0 {
		t.Fatalf("past end: want empty, got %d", len(page))
	}
}

// An entry written late in a long-running tx must still list above entries
// committed while that tx was open.
func TestLedger_ListEntries_LongTransaction(t *testing.T) {
	t.Parallel()

	db, cleanup := pgtestutil.NewTestDB(t)
	defer cleanup()

	repo := New(db)
	ctx := t.Context()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}

	defer func() { _ = tx.Rollback() }()

	// pins the tx start time
	var started time.Time
	if err = tx.QueryRowContext(ctx, `SELECT now()`).Scan(&started); err != nil {
		t.Fatalf("select now: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	appendEntries(t, db, "u1", 350)
	time.Sleep(20 * time.Millisecond)

	late, err := repo.AppendEntry(ctx, tx, ledger.Entry{
		UserID:       "u1",
		Amount:       -100,
		Description:  "late",
		Type:         "pack_opening",
		BalanceAfter: 250,
	})
	if err != nil {
		t.Fatalf("append late: %v", err)
	}

	if err = tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if !late.CreatedAt.After(started) {
		t.Fatalf("created_at %v should be past tx start %v", late.CreatedAt, started)
	}

	page, err := repo.ListEntries(ctx, "u1", 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	if len(page) != 2 {
		t.Fatalf("page len: want 2, got %d", len(page))
	}

	if page[0].ID != late.ID || page[1].Amount != 350 {
		t.Fatalf("order: got %d (%d), %d (%d)", page[0].ID, page[0].Amount, page[1].ID, page[1].Amount)
	}

	if page[0].CreatedAt.Before(page[1].CreatedAt) {
		t.Fatalf("created_at out of order: %v before %v", page[0].CreatedAt, page[1].CreatedAt)
	}
}
