/*
engine.go - Credit accounting engine

PURPOSE:
  The Engine is the sole authority for mutating an account's balance
  fields and for emitting the corresponding transaction-log entry. Every
  caller (checkout, registration, admin tools) goes through these
  operations; nothing else writes balances.

ATOMICITY:
  Award and Spend are expressed as atomic read-modify-writes through
  Store.UpdateRecord. Spend re-checks the available balance INSIDE the
  update callback, so two concurrent spends can never jointly overdraw
  an account: one commits, the other aborts with InsufficientCredits.

PARTIAL-FAILURE POLICY:
  - Signup succeeds even when the referral bonus cannot be granted; the
    failure is logged and reported, never rolled back.
  - The transaction-log append happens after the balance commit. A crash
    between the two leaves a balance change with no log entry. The log
    is audit-only; projection.go detects the drift.
  - Referral bonuses invert that order: the log entry commits first and
    acts as the idempotency lock, so a duplicate grant can never reach
    the balance. See awardReferralBonus.

SEE ALSO:
  - referral.go: Referral resolution, invoked from Initialize
  - store.go: The persistence contract the engine relies on
*/
package credits

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine computes and applies balance changes against a Store.
type Engine struct {
	store  Store
	logger *zap.Logger

	// Referrals resolves codes and attributes bonuses. Constructed with
	// the engine so Initialize can credit referrers.
	Referrals *Resolver

	// Overridable for tests.
	now   func() time.Time
	newID func() string
}

// NewEngine creates an engine over the given store.
func NewEngine(store Store, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		store:  store,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	e.Referrals = NewResolver(store, e, logger)
	return e
}

// =============================================================================
// INITIALIZATION
// =============================================================================

// Initialize creates the credit record for a new account, seeds it with
// the signup bonus, and attributes the referral bonus if a code was used.
//
// Returns ErrAlreadyInitialized if a record exists; the store's atomic
// create-if-absent guarantees exactly one signup bonus even under
// concurrent first access from two sessions.
//
// Referral failures (unknown code, self-referral, duplicate) do not roll
// back the signup bonus.
func (e *Engine) Initialize(ctx context.Context, accountID AccountID, referralCode string) (*AccountCredits, error) {
	now := e.now().UTC()
	rec := AccountCredits{
		AccountID:        accountID,
		TotalCredits:     SignupBonus,
		AvailableCredits: SignupBonus,
		LifetimeEarned:   SignupBonus,
		ReferralCode:     e.generateReferralCode(accountID),
		ReferredBy:       referralCode,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := e.store.CreateRecord(ctx, rec); err != nil {
		return nil, err
	}

	e.appendLog(ctx, Transaction{
		AccountID:   accountID,
		Type:        TxEarned,
		Amount:      SignupBonus,
		Source:      SourceSignup,
		Description: "Welcome bonus for new account",
	})

	if referralCode != "" {
		if _, err := e.Referrals.ProcessReferralBonus(ctx, referralCode, accountID); err != nil {
			e.logger.Warn("referral bonus not granted",
				zap.String("account", string(accountID)),
				zap.String("code", referralCode),
				zap.Error(err),
			)
		}
	}

	return &rec, nil
}

// GetOrInitialize returns the account's record, creating it with no
// referral code if missing. This is the read path for all balance
// queries; a referral code can no longer be applied once an account has
// been read without one.
func (e *Engine) GetOrInitialize(ctx context.Context, accountID AccountID) (*AccountCredits, error) {
	rec, err := e.store.GetRecord(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		return rec, nil
	}

	rec, err = e.Initialize(ctx, accountID, "")
	if err == nil {
		return rec, nil
	}
	// Lost a race against a concurrent Initialize; the record exists now.
	if rec2, err2 := e.store.GetRecord(ctx, accountID); err2 == nil && rec2 != nil {
		return rec2, nil
	}
	return nil, err
}

// =============================================================================
// BALANCE MUTATION
// =============================================================================

// Award atomically credits an account. The record must already exist;
// awarding to a missing account is an explicit ErrAccountNotFound, not
// an auto-create, so bugs surface instead of minting records.
//
// Referral bonuses do not go through Award; they use the append-first
// path below so the unique referral index can arbitrate duplicates.
func (e *Engine) Award(ctx context.Context, accountID AccountID, amount int64, source Source, description, orderID string) (*AccountCredits, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("award of %d: %w", amount, ErrInvalidAmount)
	}

	rec, err := e.store.UpdateRecord(ctx, accountID, func(r *AccountCredits) error {
		r.TotalCredits += amount
		r.AvailableCredits += amount
		r.LifetimeEarned += amount
		r.UpdatedAt = e.now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.appendLog(ctx, Transaction{
		AccountID:   accountID,
		Type:        TxEarned,
		Amount:      amount,
		Source:      source,
		Description: description,
		OrderID:     orderID,
	})

	return rec, nil
}

// awardReferralBonus grants the referral bonus with the log entry as
// the idempotency lock. The append commits FIRST and the store's unique
// referral index arbitrates: when two grants for the same (referrer,
// referred) pair race, exactly one append succeeds and only that caller
// credits the balance. The loser gets ErrReferralAlreadyCredited with
// no balance change.
//
// A failed balance update after the append leaves a log entry without
// its credit; that drift is reported by the audit path rather than
// silently repaired.
func (e *Engine) awardReferralBonus(ctx context.Context, referrerID, referredID AccountID) (*AccountCredits, error) {
	tx := Transaction{
		ID:                e.newID(),
		AccountID:         referrerID,
		Type:              TxEarned,
		Amount:            ReferralBonus,
		Source:            SourceReferral,
		Description:       "Referral bonus for inviting a friend",
		ReferralAccountID: referredID,
		CreatedAt:         e.now().UTC(),
	}
	if err := e.store.AppendTransaction(ctx, tx); err != nil {
		return nil, err
	}

	rec, err := e.store.UpdateRecord(ctx, referrerID, func(r *AccountCredits) error {
		r.TotalCredits += ReferralBonus
		r.AvailableCredits += ReferralBonus
		r.LifetimeEarned += ReferralBonus
		r.UpdatedAt = e.now().UTC()
		return nil
	})
	if err != nil {
		e.logger.Error("referral balance credit failed after log append",
			zap.String("referrer", string(referrerID)),
			zap.String("referred", string(referredID)),
			zap.Error(err),
		)
		return nil, err
	}
	return rec, nil
}

// Spend atomically debits available credits. The balance check happens
// inside the same atomic update as the decrement, so concurrent spends
// against a stale read cannot overdraw the account.
//
// Returns *InsufficientCreditsError (wrapping ErrInsufficientCredits)
// carrying the current available balance for display.
func (e *Engine) Spend(ctx context.Context, accountID AccountID, amount int64, orderID, description string) (*AccountCredits, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("spend of %d: %w", amount, ErrInvalidAmount)
	}
	if description == "" {
		description = "Order payment"
	}

	rec, err := e.store.UpdateRecord(ctx, accountID, func(r *AccountCredits) error {
		if r.AvailableCredits < amount {
			return &InsufficientCreditsError{
				AccountID: accountID,
				Requested: amount,
				Available: r.AvailableCredits,
			}
		}
		r.AvailableCredits -= amount
		r.TotalCredits -= amount
		r.LifetimeSpent += amount
		r.UpdatedAt = e.now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.appendLog(ctx, Transaction{
		AccountID:   accountID,
		Type:        TxSpent,
		Amount:      amount,
		Source:      SourcePayment,
		Description: description,
		OrderID:     orderID,
	})

	return rec, nil
}

// =============================================================================
// CHECKOUT SUPPORT
// =============================================================================

// ValidatePayment is the read-side pre-flight mirroring Spend's
// precondition. It does not reserve funds: between this call and Spend
// the balance may change, which is fine because Spend re-validates
// atomically.
func (e *Engine) ValidatePayment(ctx context.Context, accountID AccountID, creditAmount int64) (*PaymentCheck, error) {
	if creditAmount <= 0 {
		return nil, fmt.Errorf("payment of %d credits: %w", creditAmount, ErrInvalidAmount)
	}

	rec, err := e.GetOrInitialize(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if rec.AvailableCredits < creditAmount {
		return nil, &InsufficientCreditsError{
			AccountID: accountID,
			Requested: creditAmount,
			Available: rec.AvailableCredits,
		}
	}

	return &PaymentCheck{
		AvailableCredits: rec.AvailableCredits,
		Value:            CreditsToDollars(creditAmount),
	}, nil
}

// ProcessPurchaseCredits awards credits earned from a placed order:
// floor(orderTotal x PurchaseRate). A zero earn writes no transaction.
// Returns the credits earned and the updated record (nil when zero).
func (e *Engine) ProcessPurchaseCredits(ctx context.Context, accountID AccountID, orderTotal decimal.Decimal, orderID string) (int64, *AccountCredits, error) {
	earned := PurchaseCredits(orderTotal)
	if earned <= 0 {
		return 0, nil, nil
	}

	rec, err := e.Award(ctx, accountID, earned, SourcePurchase,
		fmt.Sprintf("Credits earned from order #%s", orderID), orderID)
	if err != nil {
		return 0, nil, err
	}
	return earned, rec, nil
}

// =============================================================================
// ADMIN
// =============================================================================

// AdminAdjustCredits routes a signed adjustment to Award or Spend. The
// engine performs no authorization; the caller is responsible for
// restricting access.
func (e *Engine) AdminAdjustCredits(ctx context.Context, accountID AccountID, amount int64, reason, adminID string) (*AccountCredits, error) {
	if amount == 0 {
		return nil, fmt.Errorf("zero adjustment: %w", ErrInvalidAmount)
	}

	description := fmt.Sprintf("Admin adjustment: %s", reason)
	if amount > 0 {
		rec, err := e.store.UpdateRecord(ctx, accountID, func(r *AccountCredits) error {
			r.TotalCredits += amount
			r.AvailableCredits += amount
			r.LifetimeEarned += amount
			r.UpdatedAt = e.now().UTC()
			return nil
		})
		if err != nil {
			return nil, err
		}
		e.appendLog(ctx, Transaction{
			AccountID:   accountID,
			Type:        TxEarned,
			Amount:      amount,
			Source:      SourceAdmin,
			Description: description,
			CreatedBy:   adminID,
		})
		return rec, nil
	}

	debit := -amount
	rec, err := e.store.UpdateRecord(ctx, accountID, func(r *AccountCredits) error {
		if r.AvailableCredits < debit {
			return &InsufficientCreditsError{
				AccountID: accountID,
				Requested: debit,
				Available: r.AvailableCredits,
			}
		}
		r.AvailableCredits -= debit
		r.TotalCredits -= debit
		r.LifetimeSpent += debit
		r.UpdatedAt = e.now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.appendLog(ctx, Transaction{
		AccountID:   accountID,
		Type:        TxSpent,
		Amount:      debit,
		Source:      SourceAdmin,
		Description: description,
		CreatedBy:   adminID,
	})
	return rec, nil
}

// =============================================================================
// READ API
// =============================================================================

// Transactions returns the account's transaction history, newest first.
func (e *Engine) Transactions(ctx context.Context, accountID AccountID, limit int) ([]Transaction, error) {
	return e.store.TransactionsByAccount(ctx, accountID, limit)
}

// GetReferralStats summarizes referral bonuses earned by the account.
func (e *Engine) GetReferralStats(ctx context.Context, accountID AccountID) (ReferralStats, error) {
	txs, err := e.store.TransactionsByAccount(ctx, accountID, 0)
	if err != nil {
		return ReferralStats{}, err
	}

	var stats ReferralStats
	for _, tx := range txs {
		if tx.Source != SourceReferral {
			continue
		}
		stats.TotalReferrals++
		stats.TotalReferralCredits += tx.Amount
		stats.History = append(stats.History, tx)
	}
	return stats, nil
}

// GetSystemStats aggregates the whole ledger. Requires a store
// implementing Reporter; returns ErrStoreRequired otherwise.
func (e *Engine) GetSystemStats(ctx context.Context) (SystemStats, error) {
	reporter, ok := e.store.(Reporter)
	if !ok {
		return SystemStats{}, ErrStoreRequired
	}

	records, err := reporter.ListRecords(ctx)
	if err != nil {
		return SystemStats{}, err
	}
	txs, err := reporter.AllTransactions(ctx, 0)
	if err != nil {
		return SystemStats{}, err
	}

	stats := SystemStats{
		TotalAccounts:     len(records),
		TotalTransactions: len(txs),
	}
	for _, r := range records {
		stats.TotalCreditsIssued += r.LifetimeEarned
		stats.TotalCreditsSpent += r.LifetimeSpent
		stats.TotalCreditsOutstanding += r.AvailableCredits
	}
	for _, tx := range txs {
		switch tx.Source {
		case SourceSignup:
			stats.SignupBonuses++
		case SourceReferral:
			stats.ReferralBonuses++
		case SourcePurchase:
			stats.PurchaseEarns++
		case SourcePayment:
			stats.CreditPayments++
		}
	}
	return stats, nil
}

// =============================================================================
// INTERNALS
// =============================================================================

// appendLog writes a transaction entry after a balance commit. The log
// is best-effort: a failed append is logged, never propagated, because
// the balance change has already committed.
func (e *Engine) appendLog(ctx context.Context, tx Transaction) {
	tx.ID = e.newID()
	tx.CreatedAt = e.now().UTC()
	if err := e.store.AppendTransaction(ctx, tx); err != nil {
		e.logger.Error("transaction log append failed",
			zap.String("account", string(tx.AccountID)),
			zap.String("source", string(tx.Source)),
			zap.Int64("amount", tx.Amount),
			zap.Error(err),
		)
	}
}

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// generateReferralCode derives a 12-character uppercase alphanumeric
// code from the account id, the current time in base36, and a random
// suffix. Collisions are practically impossible but not checked; the
// store's unique index on referral_code is the backstop.
func (e *Engine) generateReferralCode(accountID AccountID) string {
	var b strings.Builder

	// Up to 6 characters of the account id, alphanumerics only.
	for _, r := range strings.ToUpper(string(accountID)) {
		if b.Len() >= 6 {
			break
		}
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}

	b.WriteString(strings.ToUpper(strconv.FormatInt(e.now().UnixMilli(), 36)))
	for b.Len() < 12+6 {
		b.WriteByte(codeAlphabet[rand.Intn(len(codeAlphabet))])
	}

	return b.String()[:12]
}
