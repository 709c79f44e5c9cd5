package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fastprodman/tcgpacks/internal/repos/ledger"
)

func (r *ledgerRepo) LastDailyClaim(ctx context.Context, userID string) (time.Time, bool, error) {
	var at time.Time

	err := r.db.QueryRowContext(ctx, `
		SELECT claimed_at FROM daily_claims WHERE user_id = $1
	`, userID).Scan(&at)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}

		return time.Time{}, false, fmt.Errorf("read daily claim: %w", err)
	}

	return at.UTC(), true, nil
}

// MarkDailyClaim records a claim at `at`. The upsert only replaces a marker
// from an earlier UTC day; otherwise no row changes and ErrDailyClaimExists
// is returned.
func (r *ledgerRepo) MarkDailyClaim(ctx context.Context, tx *sql.Tx, userID string, at time.Time) error {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO daily_claims (user_id, claimed_at)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET claimed_at = EXCLUDED.claimed_at
		WHERE (daily_claims.claimed_at AT TIME ZONE 'UTC')::date
		    < (EXCLUDED.claimed_at AT TIME ZONE 'UTC')::date
	`, userID, at.UTC())
	if err != nil {
		return fmt.Errorf("upsert daily claim: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}

	if n == 0 {
		return ledger.ErrDailyClaimExists
	}

	return nil
}
