package credits

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClampPage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		page, perPage         int
		wantPage, wantPerPage int
	}{
		{page: 1, perPage: 10, wantPage: 1, wantPerPage: 10},
		{page: 0, perPage: 10, wantPage: 1, wantPerPage: 10},
		{page: -3, perPage: 0, wantPage: 1, wantPerPage: 1},
		{page: 2, perPage: 1000, wantPage: 2, wantPerPage: MaxPerPage},
	}

	for _, tt := range tests {
		p, pp := ClampPage(tt.page, tt.perPage)
		assert.Equal(t, tt.wantPage, p)
		assert.Equal(t, tt.wantPerPage, pp)
	}
}

func TestTransactionHistory_Paging(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t)
	ctx := t.Context()

	for _, amt := range []int64{10, 20, 30, 40, 50} {
		_, err := svc.AddCredits(ctx, "u1", amt, "seed", TypeAdminGrant)
		require.NoError(t, err)
	}

	h, err := svc.TransactionHistory(ctx, "u1", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, h.Total)
	require.Len(t, h.Transactions, 2)
	assert.Equal(t, int64(50), h.Transactions[0].Amount, "newest first")
	assert.Equal(t, int64(150), h.Transactions[0].BalanceAfter)

	h, err = svc.TransactionHistory(ctx, "u1", 3, 2)
	require.NoError(t, err)
	require.Len(t, h.Transactions, 1)
	assert.Equal(t, int64(10), h.Transactions[0].Amount)

	h, err = svc.TransactionHistory(ctx, "u1", 9, 2)
	require.NoError(t, err)
	assert.Empty(t, h.Transactions)
	assert.Equal(t, 5, h.Total)
}

func TestReconcile_ReportsMismatch(t *testing.T) {
	t.Parallel()

	svc, db := newService(t)
	ctx := t.Context()

	_, err := svc.AddCredits(ctx, "u1", 100, "seed", TypeAdminGrant)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `UPDATE credit_accounts SET balance = 75 WHERE user_id = $1`, "u1")
	require.NoError(t, err)

	rec, err := svc.Reconcile(ctx, "u1")
	require.ErrorIs(t, err, ErrBalanceMismatch)
	assert.False(t, rec.Consistent)
	assert.Equal(t, int64(75), rec.Balance)
	assert.Equal(t, int64(100), rec.LogSum)

	// never repaired
	bal, err := svc.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(75), bal)
}
