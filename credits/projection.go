/*
projection.go - Rebuilding balances from the transaction log

PURPOSE:
  The transaction log is appended after each balance commit, outside the
  commit itself, so a crash can leave the two out of step. This file
  replays the log into the aggregate it should produce and compares it
  against the stored record, turning a silent gap into an audit report.

  Replay is also the ground truth for the ledger invariants in tests.

SEE ALSO:
  - engine.go: PARTIAL-FAILURE POLICY
  - api: the admin audit endpoint serves Reconcile output
*/
package credits

import "context"

// =============================================================================
// REPLAY
// =============================================================================

// ReplayBalance folds a transaction log into the balance aggregate it
// implies. Order does not matter; every entry is a signed delta.
func ReplayBalance(txs []Transaction) AccountCredits {
	var rec AccountCredits
	for _, tx := range txs {
		if rec.AccountID == "" {
			rec.AccountID = tx.AccountID
		}
		switch tx.Type {
		case TxEarned:
			rec.TotalCredits += tx.Amount
			rec.AvailableCredits += tx.Amount
			rec.LifetimeEarned += tx.Amount
		case TxSpent:
			rec.TotalCredits -= tx.Amount
			rec.AvailableCredits -= tx.Amount
			rec.LifetimeSpent += tx.Amount
		}
	}
	return rec
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// Drift is the difference between a stored record and its replayed log,
// per field. Zero everywhere means the record and log agree.
type Drift struct {
	AccountID AccountID

	TotalCredits     int64
	AvailableCredits int64
	LifetimeEarned   int64
	LifetimeSpent    int64

	Transactions int
	Clean        bool
}

// Reconcile replays an account's log and reports the drift against the
// stored record. Drift values are stored minus replayed: a positive
// value means the balance holds credits the log never recorded.
func Reconcile(rec AccountCredits, txs []Transaction) Drift {
	replayed := ReplayBalance(txs)
	d := Drift{
		AccountID:        rec.AccountID,
		TotalCredits:     rec.TotalCredits - replayed.TotalCredits,
		AvailableCredits: rec.AvailableCredits - replayed.AvailableCredits,
		LifetimeEarned:   rec.LifetimeEarned - replayed.LifetimeEarned,
		LifetimeSpent:    rec.LifetimeSpent - replayed.LifetimeSpent,
		Transactions:     len(txs),
	}
	d.Clean = d.TotalCredits == 0 && d.AvailableCredits == 0 &&
		d.LifetimeEarned == 0 && d.LifetimeSpent == 0
	return d
}

// Audit fetches an account's record and log and reconciles them.
// Returns ErrAccountNotFound if the account has no record.
func (e *Engine) Audit(ctx context.Context, accountID AccountID) (Drift, error) {
	rec, err := e.store.GetRecord(ctx, accountID)
	if err != nil {
		return Drift{}, err
	}
	if rec == nil {
		return Drift{}, ErrAccountNotFound
	}
	txs, err := e.store.TransactionsByAccount(ctx, accountID, 0)
	if err != nil {
		return Drift{}, err
	}
	return Reconcile(*rec, txs), nil
}
