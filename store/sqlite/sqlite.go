/*
Package sqlite provides the SQLite-backed implementation of the credit
ledger store.

PURPOSE:
  Persists account credit records and the append-only transaction log.
  Implements credits.Store plus the Watcher and Reporter extensions.

KEY TABLES:
  account_credits:     One balance row per account, versioned per update
  credit_transactions: Immutable log of all balance changes

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statements touch credit_transactions. Corrections
  happen through admin adjustments, which append new entries.

INDEXES:
  - idx_credits_referral_code (UNIQUE): referral code lookup
  - idx_tx_account_created: per-account history lookup
  - idx_unique_referral_bonus (UNIQUE, partial): at most one referral
    bonus per (referrer, referred) pair

ORDERING:
  History queries order by rowid, not created_at. The log is
  append-only, so rowid order is chronological and stays deterministic
  when two entries share a timestamp.

CONCURRENCY:
  Uses sync.RWMutex plus a BEGIN..COMMIT transaction around each
  read-modify-write, so UpdateRecord callbacks see committed state and
  no concurrent update is lost. The version column increments on every
  update.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/credits.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := credits.NewEngine(store, logger)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - credits/store.go: Interface definitions and atomicity contract
  - credits/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/steeped/credit-engine/credits"
)

// Store implements credits.Store, credits.Watcher and credits.Reporter
// using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex

	subMu       sync.Mutex
	subscribers map[credits.AccountID]map[int]chan credits.AccountCredits
	nextSub     int
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{
		db:          db,
		subscribers: make(map[credits.AccountID]map[int]chan credits.AccountCredits),
	}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Balance records (one row per account)
	CREATE TABLE IF NOT EXISTS account_credits (
		account_id TEXT PRIMARY KEY,
		total_credits INTEGER NOT NULL,
		available_credits INTEGER NOT NULL,
		pending_credits INTEGER NOT NULL DEFAULT 0,
		lifetime_earned INTEGER NOT NULL,
		lifetime_spent INTEGER NOT NULL,
		referral_code TEXT NOT NULL,
		referred_by TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_credits_referral_code
		ON account_credits(referral_code);

	-- Transactions (append-only log)
	CREATE TABLE IF NOT EXISTS credit_transactions (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		amount INTEGER NOT NULL,
		source TEXT NOT NULL,
		description TEXT,
		order_id TEXT,
		referral_account_id TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tx_account_created
		ON credit_transactions(account_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_tx_source
		ON credit_transactions(source);
	CREATE INDEX IF NOT EXISTS idx_tx_order
		ON credit_transactions(order_id) WHERE order_id IS NOT NULL;

	-- CRITICAL: A referrer earns at most one bonus per referred account.
	-- A retried signup or replayed request hits this index, not the balance.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_referral_bonus
		ON credit_transactions(account_id, referral_account_id)
		WHERE source = 'referral';
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// RECORDS (credits.Store interface)
// =============================================================================

const recordColumns = `account_id, total_credits, available_credits, pending_credits,
	lifetime_earned, lifetime_spent, referral_code, referred_by, created_at, updated_at`

// GetRecord returns the record for an account, or (nil, nil) if absent.
func (s *Store) GetRecord(ctx context.Context, id credits.AccountID) (*credits.AccountCredits, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM account_credits WHERE account_id = ?`, id)
	return scanRecord(row, nil)
}

// CreateRecord inserts a new record. The primary key makes this an
// atomic create-if-absent.
func (s *Store) CreateRecord(ctx context.Context, rec credits.AccountCredits) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO account_credits
		(account_id, total_credits, available_credits, pending_credits,
		 lifetime_earned, lifetime_spent, referral_code, referred_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.AccountID,
		rec.TotalCredits,
		rec.AvailableCredits,
		rec.PendingCredits,
		rec.LifetimeEarned,
		rec.LifetimeSpent,
		rec.ReferralCode,
		nullString(rec.ReferredBy),
		rec.CreatedAt.Format(time.RFC3339),
		rec.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		// Only the primary key means the account already exists. A
		// referral_code collision on the unique index is a different
		// failure and must not masquerade as a duplicate signup.
		if isAccountExistsError(err) {
			return credits.ErrAlreadyInitialized
		}
		return fmt.Errorf("failed to create credit record: %w", err)
	}

	s.notify(rec)
	return nil
}

// UpdateRecord applies fn inside a database transaction. The row is read
// and rewritten under the write lock, so the callback always sees
// committed state and no concurrent update is lost. An fn error rolls
// the transaction back with nothing written.
func (s *Store) UpdateRecord(ctx context.Context, id credits.AccountID, fn func(*credits.AccountCredits) error) (*credits.AccountCredits, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	var version int64
	row := sqlTx.QueryRowContext(ctx,
		`SELECT `+recordColumns+`, version FROM account_credits WHERE account_id = ?`, id)
	rec, err := scanRecord(row, &version)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, credits.ErrAccountNotFound
	}

	if err := fn(rec); err != nil {
		return nil, err
	}

	res, err := sqlTx.ExecContext(ctx, `
		UPDATE account_credits SET
			total_credits = ?,
			available_credits = ?,
			pending_credits = ?,
			lifetime_earned = ?,
			lifetime_spent = ?,
			updated_at = ?,
			version = version + 1
		WHERE account_id = ? AND version = ?`,
		rec.TotalCredits,
		rec.AvailableCredits,
		rec.PendingCredits,
		rec.LifetimeEarned,
		rec.LifetimeSpent,
		rec.UpdatedAt.Format(time.RFC3339),
		id,
		version,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update credit record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("record %s changed during update: %w", id, credits.ErrStoreUnavailable)
	}

	if err := sqlTx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit update: %w", err)
	}

	s.notify(*rec)
	return rec, nil
}

// FindByReferralCode returns the record owning a referral code, or
// (nil, nil) on a miss. Served by the unique index.
func (s *Store) FindByReferralCode(ctx context.Context, code string) (*credits.AccountCredits, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM account_credits WHERE referral_code = ?`, code)
	return scanRecord(row, nil)
}

// =============================================================================
// TRANSACTION LOG
// =============================================================================

const txColumns = `id, account_id, tx_type, amount, source, description,
	order_id, referral_account_id, created_by, created_at`

// AppendTransaction adds a log entry. Append-only.
func (s *Store) AppendTransaction(ctx context.Context, tx credits.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credit_transactions
		(id, account_id, tx_type, amount, source, description,
		 order_id, referral_account_id, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID,
		tx.AccountID,
		tx.Type,
		tx.Amount,
		tx.Source,
		nullString(tx.Description),
		nullString(tx.OrderID),
		nullString(string(tx.ReferralAccountID)),
		nullString(tx.CreatedBy),
		tx.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isReferralBonusDuplicate(err) {
			return credits.ErrReferralAlreadyCredited
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

// TransactionsByAccount returns an account's log entries, newest first.
// Ordered by rowid: the log is append-only, so insertion order is
// chronological even when timestamps collide.
func (s *Store) TransactionsByAccount(ctx context.Context, id credits.AccountID, limit int) ([]credits.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + txColumns + `
		FROM credit_transactions
		WHERE account_id = ?
		ORDER BY rowid DESC`
	if limit > 0 {
		return s.queryTransactions(ctx, query+` LIMIT ?`, id, limit)
	}
	return s.queryTransactions(ctx, query, id)
}

// HasReferralBonus reports whether a referral bonus already exists for
// the (referrer, referred) pair.
func (s *Store) HasReferralBonus(ctx context.Context, referrerID, referredID credits.AccountID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM credit_transactions
		WHERE source = 'referral' AND account_id = ? AND referral_account_id = ?`,
		referrerID, referredID,
	).Scan(&count)
	return count > 0, err
}

// =============================================================================
// WATCHER (credits.Watcher interface)
// =============================================================================

// Subscribe registers a balance feed for one account. The channel is
// buffered with capacity 1 and delivery is latest-wins: a pending unread
// update is replaced rather than blocking the writer.
func (s *Store) Subscribe(id credits.AccountID) (<-chan credits.AccountCredits, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	ch := make(chan credits.AccountCredits, 1)
	subID := s.nextSub
	s.nextSub++

	if s.subscribers[id] == nil {
		s.subscribers[id] = make(map[int]chan credits.AccountCredits)
	}
	s.subscribers[id][subID] = ch

	cancel := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if subs, ok := s.subscribers[id]; ok {
			if _, ok := subs[subID]; ok {
				delete(subs, subID)
				close(ch)
			}
		}
	}
	return ch, cancel
}

func (s *Store) notify(rec credits.AccountCredits) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, ch := range s.subscribers[rec.AccountID] {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- rec:
		default:
		}
	}
}

// =============================================================================
// REPORTER (credits.Reporter interface)
// =============================================================================

// ListRecords returns every credit record (for admin stats).
func (s *Store) ListRecords(ctx context.Context) ([]credits.AccountCredits, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM account_credits ORDER BY account_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []credits.AccountCredits
	for rows.Next() {
		rec, err := scanRecord(rows, nil)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// AllTransactions returns log entries across all accounts, newest first.
func (s *Store) AllTransactions(ctx context.Context, limit int) ([]credits.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + txColumns + `
		FROM credit_transactions
		ORDER BY rowid DESC`
	if limit > 0 {
		return s.queryTransactions(ctx, query+` LIMIT ?`, limit)
	}
	return s.queryTransactions(ctx, query)
}

// =============================================================================
// SCANNING
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord reads one account_credits row. Pass version to also scan
// the version column (UpdateRecord's CAS read).
func scanRecord(row rowScanner, version *int64) (*credits.AccountCredits, error) {
	var (
		rec        credits.AccountCredits
		referredBy sql.NullString
		createdAt  string
		updatedAt  string
	)

	dest := []any{
		&rec.AccountID, &rec.TotalCredits, &rec.AvailableCredits, &rec.PendingCredits,
		&rec.LifetimeEarned, &rec.LifetimeSpent, &rec.ReferralCode, &referredBy,
		&createdAt, &updatedAt,
	}
	if version != nil {
		dest = append(dest, version)
	}

	err := row.Scan(dest...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan credit record: %w", err)
	}

	rec.ReferredBy = referredBy.String
	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &rec, nil
}

func (s *Store) queryTransactions(ctx context.Context, query string, args ...any) ([]credits.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []credits.Transaction
	for rows.Next() {
		var (
			tx                credits.Transaction
			description       sql.NullString
			orderID           sql.NullString
			referralAccountID sql.NullString
			createdBy         sql.NullString
			createdAt         string
		)
		if err := rows.Scan(
			&tx.ID, &tx.AccountID, &tx.Type, &tx.Amount, &tx.Source,
			&description, &orderID, &referralAccountID, &createdBy, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}

		tx.Description = description.String
		tx.OrderID = orderID.String
		tx.ReferralAccountID = credits.AccountID(referralAccountID.String)
		tx.CreatedBy = createdBy.String
		tx.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)

		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"credit_transactions", "account_credits"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isAccountExistsError(err error) bool {
	return isUniqueConstraintError(err) &&
		strings.Contains(err.Error(), "account_credits.account_id")
}

func isReferralBonusDuplicate(err error) bool {
	return isUniqueConstraintError(err) &&
		strings.Contains(err.Error(), "referral_account_id")
}
