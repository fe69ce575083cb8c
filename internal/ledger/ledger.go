// Package ledger implements the credit ledger: an append-only transaction
// log with a cached wallet balance. Every balance mutation is one
// read-validate-write-append unit executed under a row lock so concurrent
// debits cannot race past zero.
package ledger

import (
	"database/sql"
	"fmt"
	"time"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// Correlation carries the campaign/message ids stamped on a transaction row.
type Correlation struct {
	CampaignID *int
	MessageID  *int
}

func ForCampaign(campaignID int) Correlation {
	return Correlation{CampaignID: &campaignID}
}

func ForMessage(campaignID, messageID int) Correlation {
	return Correlation{CampaignID: &campaignID, MessageID: &messageID}
}

// LedgerInterface is what the dispatch/worker services depend on.
type LedgerInterface interface {
	Credit(owner string, amount int, reason string, corr Correlation) (*model.LedgerTransaction, error)
	Debit(owner string, amount int, reason string, corr Correlation) (*model.LedgerTransaction, error)
	Refund(owner string, amount int, reason string, corr Correlation) (*model.LedgerTransaction, error)
	// DebitTx runs the debit inside the caller's transaction so it can be
	// composed with other side effects (message-record creation) atomically.
	DebitTx(tx *sql.Tx, owner string, amount int, reason string, corr Correlation) (*model.LedgerTransaction, error)
	Balance(owner string) (int, error)
	Transactions(owner string, limit int) ([]*model.LedgerTransaction, error)
}

type Ledger struct {
	DB *sql.DB
}

func New(db *sql.DB) *Ledger {
	return &Ledger{DB: db}
}

func (l *Ledger) Credit(owner string, amount int, reason string, corr Correlation) (*model.LedgerTransaction, error) {
	return l.withTx(func(tx *sql.Tx) (*model.LedgerTransaction, error) {
		return l.apply(tx, owner, model.TransactionTypeCredit, amount, reason, corr)
	})
}

func (l *Ledger) Debit(owner string, amount int, reason string, corr Correlation) (*model.LedgerTransaction, error) {
	return l.withTx(func(tx *sql.Tx) (*model.LedgerTransaction, error) {
		return l.apply(tx, owner, model.TransactionTypeDebit, amount, reason, corr)
	})
}

func (l *Ledger) Refund(owner string, amount int, reason string, corr Correlation) (*model.LedgerTransaction, error) {
	return l.withTx(func(tx *sql.Tx) (*model.LedgerTransaction, error) {
		return l.apply(tx, owner, model.TransactionTypeRefund, amount, reason, corr)
	})
}

func (l *Ledger) DebitTx(tx *sql.Tx, owner string, amount int, reason string, corr Correlation) (*model.LedgerTransaction, error) {
	return l.apply(tx, owner, model.TransactionTypeDebit, amount, reason, corr)
}

func (l *Ledger) withTx(fn func(tx *sql.Tx) (*model.LedgerTransaction, error)) (*model.LedgerTransaction, error) {
	tx, err := l.DB.Begin()
	if err != nil {
		return nil, err
	}
	txn, err := fn(tx)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return txn, nil
}

// apply is the single read-validate-write-append unit shared by all
// operations. Credits and refunds add, debits subtract; the resulting
// balance must never be negative.
func (l *Ledger) apply(tx *sql.Tx, owner, txnType string, amount int, reason string, corr Correlation) (*model.LedgerTransaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("ledger amount must be positive, got %d", amount)
	}

	var balance int
	err := tx.QueryRow(`SELECT balance FROM wallets WHERE owner_id=$1 FOR UPDATE`, owner).Scan(&balance)
	if err == sql.ErrNoRows {
		if txnType == model.TransactionTypeDebit {
			return nil, appErrors.NewInsufficientCredits(owner, amount, 0)
		}
		balance = 0
		if _, err := tx.Exec(`INSERT INTO wallets (owner_id, balance, updated_at) VALUES ($1, 0, NOW())`, owner); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	newBalance := balance + amount
	if txnType == model.TransactionTypeDebit {
		newBalance = balance - amount
		if newBalance < 0 {
			return nil, appErrors.NewInsufficientCredits(owner, amount, balance)
		}
	}

	if _, err := tx.Exec(`UPDATE wallets SET balance=$1, updated_at=NOW() WHERE owner_id=$2`, newBalance, owner); err != nil {
		return nil, err
	}

	txn := &model.LedgerTransaction{
		OwnerID:      owner,
		Type:         txnType,
		Amount:       amount,
		BalanceAfter: newBalance,
		Reason:       reason,
		CampaignID:   corr.CampaignID,
		MessageID:    corr.MessageID,
		CreatedAt:    time.Now(),
	}
	err = tx.QueryRow(`
        INSERT INTO ledger_transactions (owner_id, type, amount, balance_after, reason, campaign_id, message_id, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id
    `, txn.OwnerID, txn.Type, txn.Amount, txn.BalanceAfter, txn.Reason, txn.CampaignID, txn.MessageID, txn.CreatedAt).Scan(&txn.ID)
	if err != nil {
		return nil, err
	}
	return txn, nil
}

func (l *Ledger) Balance(owner string) (int, error) {
	var balance int
	err := l.DB.QueryRow(`SELECT balance FROM wallets WHERE owner_id=$1`, owner).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (l *Ledger) Transactions(owner string, limit int) ([]*model.LedgerTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.DB.Query(`
        SELECT id, owner_id, type, amount, balance_after, reason, campaign_id, message_id, created_at
        FROM ledger_transactions
        WHERE owner_id=$1
        ORDER BY id DESC
        LIMIT $2
    `, owner, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txns := []*model.LedgerTransaction{}
	for rows.Next() {
		t := &model.LedgerTransaction{}
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.Type, &t.Amount, &t.BalanceAfter, &t.Reason, &t.CampaignID, &t.MessageID, &t.CreatedAt); err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

var _ LedgerInterface = (*Ledger)(nil)
