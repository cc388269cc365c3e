/*
handlers.go - HTTP API handlers for the credit ledger

PURPOSE:
  Exposes the credit engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Accounts:
    POST   /api/accounts                       Initialize credits (signup)
    GET    /api/accounts/{id}/credits          Balance summary
    GET    /api/accounts/{id}/transactions     Transaction history
    GET    /api/accounts/{id}/referral         Referral code, link, stats

  Referrals:
    POST   /api/referrals/check                Validate a referral code

  Checkout:
    POST   /api/checkout/validate              Pre-flight credit payment
    POST   /api/checkout/spend                 Pay with credits
    POST   /api/orders/credits                 Award credits for an order

  Admin:
    POST   /api/admin/adjustments              Manual balance adjustment
    GET    /api/admin/stats                    Ledger-wide totals
    GET    /api/admin/accounts/{id}/audit      Balance vs log reconcile

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 402: Insufficient credits
  - 404: Account or referral code not found
  - 409: Conflict (already initialized, duplicate referral)
  - 500: Internal errors

SECURITY NOTE:
  No authentication middleware. Authorization happens upstream; the
  /api/admin routes must not be exposed without it.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/steeped/credit-engine/credits"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *credits.Engine

	// BaseURL is the storefront origin used to build referral links.
	BaseURL string
}

// NewHandler creates a new handler around the engine.
func NewHandler(engine *credits.Engine, baseURL string) *Handler {
	return &Handler{Engine: engine, BaseURL: baseURL}
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// CreateAccount initializes credits for a new account (signup flow).
// POST /api/accounts
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.AccountID == "" {
		writeError(w, http.StatusBadRequest, "account_id is required", nil)
		return
	}

	rec, err := h.Engine.Initialize(r.Context(), credits.AccountID(req.AccountID), req.ReferralCode)
	if err != nil {
		writeDomainError(w, "Failed to initialize credits", err)
		return
	}

	writeJSON(w, http.StatusCreated, toCreditsDTO(rec))
}

// GetCredits returns the account's balance, initializing it if missing.
// GET /api/accounts/{id}/credits
func (h *Handler) GetCredits(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := h.Engine.GetOrInitialize(r.Context(), credits.AccountID(id))
	if err != nil {
		writeDomainError(w, "Failed to get credits", err)
		return
	}

	writeJSON(w, http.StatusOK, toCreditsDTO(rec))
}

// GetTransactions returns the account's history, newest first.
// GET /api/accounts/{id}/transactions?limit=50
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit parameter", err)
			return
		}
		limit = n
	}

	txs, err := h.Engine.Transactions(r.Context(), credits.AccountID(id), limit)
	if err != nil {
		writeDomainError(w, "Failed to get transactions", err)
		return
	}

	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// GetReferral returns the account's referral code, link and stats.
// GET /api/accounts/{id}/referral
func (h *Handler) GetReferral(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	rec, err := h.Engine.GetOrInitialize(ctx, credits.AccountID(id))
	if err != nil {
		writeDomainError(w, "Failed to get credits", err)
		return
	}

	stats, err := h.Engine.GetReferralStats(ctx, rec.AccountID)
	if err != nil {
		writeDomainError(w, "Failed to get referral stats", err)
		return
	}

	writeJSON(w, http.StatusOK, ReferralDTO{
		ReferralCode:         rec.ReferralCode,
		ReferralLink:         credits.ReferralLink(h.BaseURL, rec.ReferralCode),
		TotalReferrals:       stats.TotalReferrals,
		TotalReferralCredits: stats.TotalReferralCredits,
		History:              toTransactionDTOs(stats.History),
	})
}

// =============================================================================
// REFERRAL HANDLERS
// =============================================================================

// CheckReferral validates a referral code without side effects.
// POST /api/referrals/check
func (h *Handler) CheckReferral(w http.ResponseWriter, r *http.Request) {
	var req CheckReferralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	check, err := h.Engine.Referrals.CheckReferralCode(r.Context(), req.Code)
	if err != nil {
		writeDomainError(w, "Failed to check referral code", err)
		return
	}

	writeJSON(w, http.StatusOK, CheckReferralDTO{Valid: check.Valid, Message: check.Message})
}

// =============================================================================
// CHECKOUT HANDLERS
// =============================================================================

// ValidatePayment checks whether an account can cover a credit payment.
// POST /api/checkout/validate
func (h *Handler) ValidatePayment(w http.ResponseWriter, r *http.Request) {
	var req ValidatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	check, err := h.Engine.ValidatePayment(r.Context(), credits.AccountID(req.AccountID), req.Credits)
	if err != nil {
		var ice *credits.InsufficientCreditsError
		if errors.As(err, &ice) {
			// Not an error for the pre-flight: report the shortfall.
			writeJSON(w, http.StatusOK, ValidatePaymentDTO{
				Valid:            false,
				AvailableCredits: ice.Available,
				Value:            credits.FormatCreditValue(req.Credits),
			})
			return
		}
		writeDomainError(w, "Failed to validate payment", err)
		return
	}

	writeJSON(w, http.StatusOK, ValidatePaymentDTO{
		Valid:            true,
		AvailableCredits: check.AvailableCredits,
		Value:            "$" + check.Value.StringFixed(2),
	})
}

// Spend debits credits as payment for an order.
// POST /api/checkout/spend
func (h *Handler) Spend(w http.ResponseWriter, r *http.Request) {
	var req SpendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.OrderID == "" {
		writeError(w, http.StatusBadRequest, "order_id is required", nil)
		return
	}

	rec, err := h.Engine.Spend(r.Context(), credits.AccountID(req.AccountID), req.Credits, req.OrderID, req.Description)
	if err != nil {
		writeDomainError(w, "Failed to spend credits", err)
		return
	}

	writeJSON(w, http.StatusOK, toCreditsDTO(rec))
}

// PurchaseCredits awards credits earned from a placed order.
// POST /api/orders/credits
func (h *Handler) PurchaseCredits(w http.ResponseWriter, r *http.Request) {
	var req PurchaseCreditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.OrderID == "" {
		writeError(w, http.StatusBadRequest, "order_id is required", nil)
		return
	}

	total, err := decimal.NewFromString(req.OrderTotal)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid order_total", err)
		return
	}

	earned, rec, err := h.Engine.ProcessPurchaseCredits(r.Context(), credits.AccountID(req.AccountID), total, req.OrderID)
	if err != nil {
		writeDomainError(w, "Failed to award purchase credits", err)
		return
	}

	resp := PurchaseCreditsDTO{CreditsEarned: earned}
	if rec != nil {
		dto := toCreditsDTO(rec)
		resp.Balance = &dto
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// CreateAdjustment applies a signed admin balance correction.
// POST /api/admin/adjustments
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Reason == "" {
		writeError(w, http.StatusBadRequest, "reason is required", nil)
		return
	}

	rec, err := h.Engine.AdminAdjustCredits(r.Context(), credits.AccountID(req.AccountID), req.Amount, req.Reason, req.AdminID)
	if err != nil {
		writeDomainError(w, "Failed to adjust credits", err)
		return
	}

	writeJSON(w, http.StatusOK, toCreditsDTO(rec))
}

// GetStats returns ledger-wide totals for the admin dashboard.
// GET /api/admin/stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Engine.GetSystemStats(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to compute system stats", err)
		return
	}

	writeJSON(w, http.StatusOK, StatsDTO{
		TotalAccounts:           stats.TotalAccounts,
		TotalCreditsIssued:      stats.TotalCreditsIssued,
		TotalCreditsSpent:       stats.TotalCreditsSpent,
		TotalCreditsOutstanding: stats.TotalCreditsOutstanding,
		TotalTransactions:       stats.TotalTransactions,
		SignupBonuses:           stats.SignupBonuses,
		ReferralBonuses:         stats.ReferralBonuses,
		PurchaseEarns:           stats.PurchaseEarns,
		CreditPayments:          stats.CreditPayments,
	})
}

// AuditAccount reconciles an account's balance against its log.
// GET /api/admin/accounts/{id}/audit
func (h *Handler) AuditAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	drift, err := h.Engine.Audit(r.Context(), credits.AccountID(id))
	if err != nil {
		writeDomainError(w, "Failed to audit account", err)
		return
	}

	writeJSON(w, http.StatusOK, AuditDTO{
		AccountID:             string(drift.AccountID),
		Clean:                 drift.Clean,
		Transactions:          drift.Transactions,
		TotalCreditsDrift:     drift.TotalCredits,
		AvailableCreditsDrift: drift.AvailableCredits,
		LifetimeEarnedDrift:   drift.LifetimeEarned,
		LifetimeSpentDrift:    drift.LifetimeSpent,
	})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps engine errors to HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, credits.ErrInsufficientCredits):
		writeError(w, http.StatusPaymentRequired, message, err)
	case credits.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, credits.ErrAlreadyInitialized),
		errors.Is(err, credits.ErrReferralAlreadyCredited):
		writeError(w, http.StatusConflict, message, err)
	case credits.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
