/*
store.go - Persistence contract for the credit ledger

PURPOSE:
  Defines the interface between the engine and the backing store. The
  store holds one AccountCredits record per account plus the append-only
  transaction log. Different implementations can use SQLite or in-memory
  storage; the engine never talks to a database directly.

ATOMICITY CONTRACT:
  UpdateRecord is the critical primitive. It must apply the callback as
  an atomic read-modify-write: the record passed to fn reflects the
  committed state at the moment of the update, and no concurrent update
  to the same record may be lost. If fn returns an error the update is
  aborted and nothing is written. A plain read-then-write does NOT
  satisfy this contract.

  CreateRecord must be atomic create-if-absent: two concurrent creates
  for the same account yield exactly one success and one
  ErrAlreadyInitialized.

LOG APPENDS:
  AppendTransaction is a separate, non-transactional write performed
  after the balance update commits. A crash between the two leaves a
  balance change without a log entry; the log is at-least-once,
  best-effort (see projection.go for drift detection).

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite store
  - credits/store: In-memory store for tests and dev

SEE ALSO:
  - engine.go: The only caller of the mutation methods
  - projection.go: Rebuilds balances from the log for audit
*/
package credits

import "context"

// =============================================================================
// STORE - Persistence interface
// =============================================================================

// Store persists credit records and the transaction log.
type Store interface {
	// GetRecord returns the record for an account, or (nil, nil) if the
	// account has no record yet.
	GetRecord(ctx context.Context, id AccountID) (*AccountCredits, error)

	// CreateRecord writes a new record. Atomic create-if-absent:
	// returns ErrAlreadyInitialized if a record exists.
	CreateRecord(ctx context.Context, rec AccountCredits) error

	// UpdateRecord applies fn to the current record atomically.
	// Returns ErrAccountNotFound if the record does not exist.
	// If fn returns an error the update is aborted and that error is
	// returned unchanged. On success the committed record is returned.
	UpdateRecord(ctx context.Context, id AccountID, fn func(*AccountCredits) error) (*AccountCredits, error)

	// AppendTransaction adds a log entry. Append-only; no update, no
	// delete. Returns ErrReferralAlreadyCredited if the entry would
	// duplicate a referral bonus for the same (referrer, referred) pair.
	AppendTransaction(ctx context.Context, tx Transaction) error

	// TransactionsByAccount returns up to limit entries for an account,
	// newest first. limit <= 0 means no limit.
	TransactionsByAccount(ctx context.Context, id AccountID, limit int) ([]Transaction, error)

	// FindByReferralCode returns the record owning a referral code, or
	// (nil, nil) if no account owns it. An indexed lookup.
	FindByReferralCode(ctx context.Context, code string) (*AccountCredits, error)

	// HasReferralBonus reports whether a referral bonus transaction
	// already exists for the (referrer, referred) pair.
	HasReferralBonus(ctx context.Context, referrerID, referredID AccountID) (bool, error)
}

// =============================================================================
// OPTIONAL CAPABILITIES - Checked via type assertion
// =============================================================================

// Watcher extends Store with live balance feeds. The engine's write path
// is independent of whether anyone subscribes; stores without Watcher
// simply have no push updates.
type Watcher interface {
	Store

	// Subscribe returns a channel that receives the record after each
	// committed change, and a cancel function releasing the
	// subscription. Delivery is best-effort: a slow consumer may miss
	// intermediate states and should reconcile with GetRecord.
	Subscribe(id AccountID) (<-chan AccountCredits, func())
}

// Reporter extends Store with ledger-wide queries for the admin
// dashboard.
type Reporter interface {
	Store

	// ListRecords returns every credit record.
	ListRecords(ctx context.Context) ([]AccountCredits, error)

	// AllTransactions returns up to limit entries across all accounts,
	// newest first. limit <= 0 means no limit.
	AllTransactions(ctx context.Context, limit int) ([]Transaction, error)
}
