/*
referral.go - Referral code resolution and bonus attribution

PURPOSE:
  Maps referral codes back to their owning accounts and credits the
  referrer when a referred signup completes. The resolver never touches
  balances directly; it routes every grant through the engine so the
  transaction log stays complete.

IDEMPOTENCY:
  A (referrer, referred) pair earns the bonus at most once. The resolver
  pre-checks the transaction log as a fast path, but the authoritative
  guard is the grant itself: the engine appends the referral log entry
  BEFORE crediting the balance, and the store's uniqueness guarantee on
  referral pairs rejects the duplicate append. Two racing grants for the
  same pair therefore produce exactly one credit; the loser fails with
  ErrReferralAlreadyCredited before touching any balance.

SEE ALSO:
  - engine.go: awardReferralBonus, invoked for the actual grant
  - store.go: FindByReferralCode, HasReferralBonus
*/
package credits

import (
	"context"
	"fmt"
	"regexp"

	"go.uber.org/zap"
)

// codePattern is the canonical referral code shape: 12 uppercase
// alphanumerics, as produced by generateReferralCode.
var codePattern = regexp.MustCompile(`^[A-Z0-9]{12}$`)

// =============================================================================
// RESOLVER
// =============================================================================

// Resolver turns referral codes into accounts and attributes bonuses.
type Resolver struct {
	store  Store
	engine *Engine
	logger *zap.Logger
}

// NewResolver creates a resolver sharing the engine's store.
func NewResolver(store Store, engine *Engine, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{store: store, engine: engine, logger: logger}
}

// Resolve returns the account owning a referral code.
// Returns ErrCodeNotFound if no account owns it.
func (r *Resolver) Resolve(ctx context.Context, code string) (AccountID, error) {
	rec, err := r.store.FindByReferralCode(ctx, code)
	if err != nil {
		return "", fmt.Errorf("resolving referral code: %w", err)
	}
	if rec == nil {
		return "", fmt.Errorf("code %q: %w", code, ErrCodeNotFound)
	}
	return rec.AccountID, nil
}

// ProcessReferralBonus credits the owner of code for referring
// newAccountID. Rejects self-referral and duplicate attribution for the
// same pair; either rejection leaves all balances untouched.
func (r *Resolver) ProcessReferralBonus(ctx context.Context, code string, newAccountID AccountID) (*AccountCredits, error) {
	referrerID, err := r.Resolve(ctx, code)
	if err != nil {
		return nil, err
	}
	if referrerID == newAccountID {
		return nil, fmt.Errorf("account %s: %w", newAccountID, ErrSelfReferral)
	}

	// Fast path only. The append inside awardReferralBonus is the real
	// guard; a stale answer here cannot cause a double credit.
	credited, err := r.store.HasReferralBonus(ctx, referrerID, newAccountID)
	if err != nil {
		return nil, fmt.Errorf("checking referral history: %w", err)
	}
	if credited {
		return nil, fmt.Errorf("referrer %s, referred %s: %w", referrerID, newAccountID, ErrReferralAlreadyCredited)
	}

	rec, err := r.engine.awardReferralBonus(ctx, referrerID, newAccountID)
	if err != nil {
		return nil, err
	}

	r.logger.Info("referral bonus granted",
		zap.String("referrer", string(referrerID)),
		zap.String("referred", string(newAccountID)),
		zap.Int64("amount", ReferralBonus),
	)
	return rec, nil
}

// =============================================================================
// CODE VALIDATION
// =============================================================================

// CodeCheck is the result of a referral-code validation.
type CodeCheck struct {
	Valid bool
	// ReferrerID is set when the code is valid.
	ReferrerID AccountID
	Message    string
}

// CheckReferralCode validates a code's format and existence without any
// side effects. Used by the registration form while the user types.
func (r *Resolver) CheckReferralCode(ctx context.Context, code string) (CodeCheck, error) {
	if !codePattern.MatchString(code) {
		return CodeCheck{Valid: false, Message: "Referral code must be 12 letters or digits"}, nil
	}

	rec, err := r.store.FindByReferralCode(ctx, code)
	if err != nil {
		return CodeCheck{}, fmt.Errorf("checking referral code: %w", err)
	}
	if rec == nil {
		return CodeCheck{Valid: false, Message: "Referral code not found"}, nil
	}
	return CodeCheck{Valid: true, ReferrerID: rec.AccountID, Message: "Referral code applied"}, nil
}
