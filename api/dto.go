/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/steeped/credit-engine/credits"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// CreateAccountRequest is the request to initialize credits for a new
// account. ReferralCode is optional.
type CreateAccountRequest struct {
	AccountID    string `json:"account_id"`
	ReferralCode string `json:"referral_code,omitempty"`
}

// CreditsDTO represents an account's balance in API responses.
type CreditsDTO struct {
	AccountID        string `json:"account_id"`
	TotalCredits     int64  `json:"total_credits"`
	AvailableCredits int64  `json:"available_credits"`
	PendingCredits   int64  `json:"pending_credits"`
	LifetimeEarned   int64  `json:"lifetime_earned"`
	LifetimeSpent    int64  `json:"lifetime_spent"`
	ReferralCode     string `json:"referral_code"`
	ReferredBy       string `json:"referred_by,omitempty"`

	// Display fields derived server-side so clients never do money math.
	AvailableValue   string `json:"available_value"`
	AvailableDisplay string `json:"available_display"`
	Tier             string `json:"tier"`
	NextTier         string `json:"next_tier,omitempty"`
	CreditsToNext    int64  `json:"credits_to_next_tier,omitempty"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// TransactionDTO represents one log entry in API responses.
type TransactionDTO struct {
	ID                string `json:"id"`
	AccountID         string `json:"account_id"`
	Type              string `json:"type"`
	Amount            int64  `json:"amount"`
	Source            string `json:"source"`
	Description       string `json:"description,omitempty"`
	OrderID           string `json:"order_id,omitempty"`
	ReferralAccountID string `json:"referral_account_id,omitempty"`
	CreatedBy         string `json:"created_by,omitempty"`
	CreatedAt         string `json:"created_at"`
}

// ReferralDTO is the account's referral dashboard payload.
type ReferralDTO struct {
	ReferralCode         string           `json:"referral_code"`
	ReferralLink         string           `json:"referral_link"`
	TotalReferrals       int              `json:"total_referrals"`
	TotalReferralCredits int64            `json:"total_referral_credits"`
	History              []TransactionDTO `json:"history"`
}

// CheckReferralRequest asks whether a referral code can be applied.
type CheckReferralRequest struct {
	Code string `json:"code"`
}

// CheckReferralDTO is the validation result for a referral code.
type CheckReferralDTO struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

// ValidatePaymentRequest is the checkout pre-flight for paying with
// credits.
type ValidatePaymentRequest struct {
	AccountID string `json:"account_id"`
	Credits   int64  `json:"credits"`
}

// ValidatePaymentDTO reports whether the requested credits are covered.
type ValidatePaymentDTO struct {
	Valid            bool   `json:"valid"`
	AvailableCredits int64  `json:"available_credits"`
	Value            string `json:"value"`
}

// SpendRequest debits credits as payment for an order.
type SpendRequest struct {
	AccountID   string `json:"account_id"`
	Credits     int64  `json:"credits"`
	OrderID     string `json:"order_id"`
	Description string `json:"description,omitempty"`
}

// PurchaseCreditsRequest awards credits for a placed order.
// OrderTotal is a decimal string, e.g. "45.99".
type PurchaseCreditsRequest struct {
	AccountID  string `json:"account_id"`
	OrderTotal string `json:"order_total"`
	OrderID    string `json:"order_id"`
}

// PurchaseCreditsDTO reports the credits earned for an order.
type PurchaseCreditsDTO struct {
	CreditsEarned int64       `json:"credits_earned"`
	Balance       *CreditsDTO `json:"balance,omitempty"`
}

// AdjustmentRequest is an admin balance correction. Amount is signed:
// positive grants, negative revokes.
type AdjustmentRequest struct {
	AccountID string `json:"account_id"`
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason"`
	AdminID   string `json:"admin_id"`
}

// StatsDTO aggregates the whole ledger for the admin dashboard.
type StatsDTO struct {
	TotalAccounts           int   `json:"total_accounts"`
	TotalCreditsIssued      int64 `json:"total_credits_issued"`
	TotalCreditsSpent       int64 `json:"total_credits_spent"`
	TotalCreditsOutstanding int64 `json:"total_credits_outstanding"`
	TotalTransactions       int   `json:"total_transactions"`
	SignupBonuses           int   `json:"signup_bonuses"`
	ReferralBonuses         int   `json:"referral_bonuses"`
	PurchaseEarns           int   `json:"purchase_earns"`
	CreditPayments          int   `json:"credit_payments"`
}

// AuditDTO is the reconciliation report for one account.
type AuditDTO struct {
	AccountID             string `json:"account_id"`
	Clean                 bool   `json:"clean"`
	Transactions          int    `json:"transactions"`
	TotalCreditsDrift     int64  `json:"total_credits_drift"`
	AvailableCreditsDrift int64  `json:"available_credits_drift"`
	LifetimeEarnedDrift   int64  `json:"lifetime_earned_drift"`
	LifetimeSpentDrift    int64  `json:"lifetime_spent_drift"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION
// =============================================================================

func toCreditsDTO(rec *credits.AccountCredits) CreditsDTO {
	next, toNext := credits.NextTier(rec.LifetimeEarned)
	return CreditsDTO{
		AccountID:        string(rec.AccountID),
		TotalCredits:     rec.TotalCredits,
		AvailableCredits: rec.AvailableCredits,
		PendingCredits:   rec.PendingCredits,
		LifetimeEarned:   rec.LifetimeEarned,
		LifetimeSpent:    rec.LifetimeSpent,
		ReferralCode:     rec.ReferralCode,
		ReferredBy:       rec.ReferredBy,
		AvailableValue:   credits.FormatCreditValue(rec.AvailableCredits),
		AvailableDisplay: credits.FormatCredits(rec.AvailableCredits),
		Tier:             string(credits.CreditTier(rec.LifetimeEarned)),
		NextTier:         string(next),
		CreditsToNext:    toNext,
		CreatedAt:        rec.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        rec.UpdatedAt.Format(time.RFC3339),
	}
}

func toTransactionDTOs(txs []credits.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = TransactionDTO{
			ID:                tx.ID,
			AccountID:         string(tx.AccountID),
			Type:              string(tx.Type),
			Amount:            tx.Amount,
			Source:            string(tx.Source),
			Description:       tx.Description,
			OrderID:           tx.OrderID,
			ReferralAccountID: string(tx.ReferralAccountID),
			CreatedBy:         tx.CreatedBy,
			CreatedAt:         tx.CreatedAt.Format(time.RFC3339),
		}
	}
	return dtos
}
