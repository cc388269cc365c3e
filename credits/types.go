/*
Package credits provides the core loyalty-credit ledger engine.

PURPOSE:
  This package contains the domain types and algorithms for account credit
  balances, the append-only transaction log, and referral accounting.
  Everything storefront-facing (checkout, registration, dashboards) calls
  into this engine; the engine is the sole authority for balance mutation.

KEY CONCEPTS IN THIS FILE (types.go):
  - AccountCredits: One balance record per account
  - Transaction: An immutable log entry recording a balance change
  - Source: The business reason for a change (signup, referral, purchase...)
  - Rates: Fixed issuing constants (signup bonus, purchase rate)

DESIGN PRINCIPLES:
  1. Integer credits: Balances are int64 units, never floats
  2. Exact money: Dollar math uses decimal.Decimal (see money.go)
  3. Explicit identity: AccountID is always a parameter, never ambient state
  4. Auditability: Every mutation emits a Transaction

SEE ALSO:
  - engine.go: Balance mutation operations
  - referral.go: Referral code resolution and bonus attribution
  - store.go: Persistence contract
*/
package credits

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RATES - Fixed credit-issuing constants
// =============================================================================

const (
	// SignupBonus is granted once when an account record is created.
	SignupBonus int64 = 2500

	// ReferralBonus is granted to the owner of a referral code when a
	// new account signs up with it.
	ReferralBonus int64 = 2500

	// PurchaseRate is credits earned per dollar of order total.
	PurchaseRate int64 = 10
)

// CreditValue is the dollar value of one credit: $0.01.
// 100 credits = $1.00 by definition.
var CreditValue = decimal.New(1, -2)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// AccountID identifies an account. Opaque to the engine; assigned by the
// authentication layer, never interpreted.
type AccountID string

// =============================================================================
// ACCOUNT CREDIT RECORD - One per account
// =============================================================================

// AccountCredits is the mutable balance aggregate for one account.
//
// INVARIANTS (enforced by the engine, verified by projection.go):
//   - AvailableCredits <= TotalCredits, both non-negative
//   - LifetimeEarned and LifetimeSpent never decrease
//   - LifetimeEarned - LifetimeSpent == TotalCredits
//   - ReferralCode is generated once at creation and never changes
//   - ReferredBy is set at creation (or empty) and never changes
type AccountCredits struct {
	AccountID AccountID

	TotalCredits     int64
	AvailableCredits int64

	// PendingCredits is reserved for future holds; no current flow sets it.
	PendingCredits int64

	LifetimeEarned int64
	LifetimeSpent  int64

	ReferralCode string
	ReferredBy   string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// TRANSACTION - Append-only log entry
// =============================================================================

// TxType is the direction of a balance change.
type TxType string

const (
	TxEarned TxType = "earned"
	TxSpent  TxType = "spent"
)

// Source is the business reason for a transaction.
type Source string

const (
	SourceSignup   Source = "signup"
	SourceReferral Source = "referral"
	SourcePurchase Source = "purchase"
	SourcePayment  Source = "payment"
	SourceAdmin    Source = "admin"
)

// Transaction records one balance change. Transactions are created once
// per mutation and never updated or deleted; they form the audit trail.
type Transaction struct {
	ID        string
	AccountID AccountID
	Type      TxType

	// Amount is always positive; Type carries the sign.
	Amount int64

	Source      Source
	Description string

	// OrderID correlates purchase earns and credit payments to an order.
	OrderID string

	// ReferralAccountID identifies the newly referred account when
	// Source == SourceReferral.
	ReferralAccountID AccountID

	// CreatedBy is the acting admin for SourceAdmin adjustments.
	CreatedBy string

	CreatedAt time.Time
}

// =============================================================================
// READ-SIDE RESULT TYPES
// =============================================================================

// PaymentCheck is the result of a successful ValidatePayment pre-flight.
type PaymentCheck struct {
	AvailableCredits int64
	// Value is the dollar value of the requested credit amount.
	Value decimal.Decimal
}

// ReferralStats summarizes an account's referral earnings.
type ReferralStats struct {
	TotalReferrals       int
	TotalReferralCredits int64
	History              []Transaction
}

// SystemStats aggregates the whole ledger for the admin dashboard.
type SystemStats struct {
	TotalAccounts           int
	TotalCreditsIssued      int64
	TotalCreditsSpent       int64
	TotalCreditsOutstanding int64
	TotalTransactions       int
	SignupBonuses           int
	ReferralBonuses         int
	PurchaseEarns           int
	CreditPayments          int
}
