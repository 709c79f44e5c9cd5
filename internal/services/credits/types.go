package credits

import (
	"errors"
	"time"

	"github.com/fastprodman/tcgpacks/internal/repos/ledger"
	"github.com/fastprodman/tcgpacks/internal/repos/transactions"
)

// Transaction types written to the log.
const (
	TypePackOpening = "pack_opening"
	TypeDailyClaim  = "daily_claim"
	TypeAdminGrant  = "admin_grant"
)

const (
	DefaultDailyBonus = 100
	MaxPerPage        = 100
)

var (
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrDailyBonusClaimed   = errors.New("daily bonus already claimed today")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrBalanceMismatch     = errors.New("balance does not match transaction log")

	// ErrConcurrentModification is returned once the retry budget is spent.
	ErrConcurrentModification = ledger.ErrConcurrentModification
	ErrDuplicateGrant         = transactions.ErrDuplicateTransaction
)

type Transaction struct {
	ID           int64     `json:"id"`
	Amount       int64     `json:"amount"`
	Description  string    `json:"description"`
	Type         string    `json:"type"`
	BalanceAfter int64     `json:"balance_after"`
	CreatedAt    time.Time `json:"created_at"`
}

// Receipt describes one applied balance mutation.
type Receipt struct {
	UserID       string      `json:"user_id"`
	Amount       int64       `json:"amount"`
	BalanceAfter int64       `json:"balance_after"`
	Transaction  Transaction `json:"transaction"`
}

type History struct {
	Transactions []Transaction `json:"transactions"`
	Total        int           `json:"total"`
	Page         int           `json:"page"`
	PerPage      int           `json:"per_page"`
}

type DailyClaim struct {
	Amount     int64 `json:"amount"`
	NewBalance int64 `json:"new_balance"`
}

type Reconciliation struct {
	UserID     string `json:"user_id"`
	Balance    int64  `json:"balance"`
	LogSum     int64  `json:"log_sum"`
	Consistent bool   `json:"consistent"`
}

func fromEntry(e ledger.Entry) Transaction {
	return Transaction{
		ID:           e.ID,
		Amount:       e.Amount,
		Description:  e.Description,
		Type:         e.Type,
		BalanceAfter: e.BalanceAfter,
		CreatedAt:    e.CreatedAt,
	}
}
