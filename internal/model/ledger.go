// internal/model/ledger.go
package model

import "time"

// Ledger transaction types
const (
	TransactionTypeCredit = "credit"
	TransactionTypeDebit  = "debit"
	TransactionTypeRefund = "refund"
)

// Wallet caches the latest balance snapshot for an owner. The transaction
// log is the source of truth; balance always equals the newest
// balance_after.
type Wallet struct {
	OwnerID   string    `db:"owner_id" json:"owner_id"`
	Balance   int       `db:"balance" json:"balance"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

type LedgerTransaction struct {
	ID           int       `db:"id" json:"id"`
	OwnerID      string    `db:"owner_id" json:"owner_id"`
	Type         string    `db:"type" json:"type"`
	Amount       int       `db:"amount" json:"amount"`
	BalanceAfter int       `db:"balance_after" json:"balance_after"`
	Reason       string    `db:"reason" json:"reason"`
	CampaignID   *int      `db:"campaign_id" json:"campaign_id,omitempty"`
	MessageID    *int      `db:"message_id" json:"message_id,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
