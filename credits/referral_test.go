package credits_test

import (
	"context"
	"errors"
	"testing"

	"github.com/steeped/credit-engine/credits"
	"github.com/steeped/credit-engine/credits/store"
)

// =============================================================================
// REFERRAL BONUS TESTS
// =============================================================================

func TestReferral_BonusCreditsReferrer(t *testing.T) {
	// GIVEN: Account A exists with a referral code
	// WHEN: Account B signs up with A's code
	// THEN: A is credited the referral bonus with B recorded on the entry
	engine, _ := newTestEngine()
	ctx := context.Background()

	a := mustInitialize(t, engine, "user-a", "")
	mustInitialize(t, engine, "user-b", a.ReferralCode)

	rec, err := engine.GetOrInitialize(ctx, "user-a")
	if err != nil {
		t.Fatalf("GetOrInitialize: %v", err)
	}
	if rec.TotalCredits != credits.SignupBonus+credits.ReferralBonus {
		t.Errorf("expected total %d, got %d", credits.SignupBonus+credits.ReferralBonus, rec.TotalCredits)
	}

	txs, _ := engine.Transactions(ctx, "user-a", 1)
	if txs[0].Source != credits.SourceReferral {
		t.Fatalf("expected referral transaction, got %s", txs[0].Source)
	}
	if txs[0].ReferralAccountID != "user-b" {
		t.Errorf("expected referral_account_id user-b, got %q", txs[0].ReferralAccountID)
	}
}

func TestReferral_SelfReferralRejected(t *testing.T) {
	// GIVEN: An account with its own referral code
	// WHEN: It tries to claim a bonus for referring itself
	// THEN: The grant is rejected and no balance changes
	engine, _ := newTestEngine()
	ctx := context.Background()

	a := mustInitialize(t, engine, "user-a", "")

	_, err := engine.Referrals.ProcessReferralBonus(ctx, a.ReferralCode, "user-a")
	if !errors.Is(err, credits.ErrSelfReferral) {
		t.Fatalf("expected ErrSelfReferral, got %v", err)
	}

	rec, _ := engine.GetOrInitialize(ctx, "user-a")
	if rec.TotalCredits != credits.SignupBonus {
		t.Errorf("self-referral changed the balance: %d", rec.TotalCredits)
	}
}

func TestReferral_UnknownCode(t *testing.T) {
	engine, _ := newTestEngine()

	_, err := engine.Referrals.ProcessReferralBonus(context.Background(), "NOSUCHCODE99", "user-b")
	if !errors.Is(err, credits.ErrCodeNotFound) {
		t.Fatalf("expected ErrCodeNotFound, got %v", err)
	}
}

func TestReferral_BonusGrantedAtMostOnce(t *testing.T) {
	// GIVEN: A referral bonus already granted for (A, B)
	// WHEN: The same bonus is processed again
	// THEN: The retry fails and A keeps a single bonus
	engine, _ := newTestEngine()
	ctx := context.Background()

	a := mustInitialize(t, engine, "user-a", "")
	mustInitialize(t, engine, "user-b", a.ReferralCode)

	_, err := engine.Referrals.ProcessReferralBonus(ctx, a.ReferralCode, "user-b")
	if !errors.Is(err, credits.ErrReferralAlreadyCredited) {
		t.Fatalf("expected ErrReferralAlreadyCredited, got %v", err)
	}

	rec, _ := engine.GetOrInitialize(ctx, "user-a")
	if rec.TotalCredits != credits.SignupBonus+credits.ReferralBonus {
		t.Errorf("duplicate bonus credited: total=%d", rec.TotalCredits)
	}
}

// staleHistoryStore answers every referral-history check with "no bonus
// yet", the answer a concurrent grant would see before the other grant
// commits. The underlying store still enforces pair uniqueness on
// append.
type staleHistoryStore struct {
	*store.Memory
}

func (s *staleHistoryStore) HasReferralBonus(ctx context.Context, referrerID, referredID credits.AccountID) (bool, error) {
	return false, nil
}

func TestReferral_StaleHistoryCheckCannotDoubleCredit(t *testing.T) {
	// GIVEN: Two grants for the same (referrer, referred) pair whose
	// history pre-checks both saw no prior bonus
	// WHEN: Both grants run to completion
	// THEN: Exactly one credits the balance; the other fails with
	// ErrReferralAlreadyCredited and the log holds a single entry
	mem := store.NewMemory()
	engine := credits.NewEngine(&staleHistoryStore{Memory: mem}, nil)
	ctx := context.Background()

	a := mustInitialize(t, engine, "user-a", "")
	mustInitialize(t, engine, "user-b", a.ReferralCode)

	_, err := engine.Referrals.ProcessReferralBonus(ctx, a.ReferralCode, "user-b")
	if !errors.Is(err, credits.ErrReferralAlreadyCredited) {
		t.Fatalf("expected ErrReferralAlreadyCredited, got %v", err)
	}

	rec, err := engine.GetOrInitialize(ctx, "user-a")
	if err != nil {
		t.Fatalf("GetOrInitialize: %v", err)
	}
	if rec.TotalCredits != credits.SignupBonus+credits.ReferralBonus {
		t.Errorf("balance double-credited: total=%d", rec.TotalCredits)
	}

	txs, err := engine.Transactions(ctx, "user-a", 0)
	if err != nil {
		t.Fatalf("Transactions: %v", err)
	}
	var referralEntries int
	for _, tx := range txs {
		if tx.Source == credits.SourceReferral {
			referralEntries++
		}
	}
	if referralEntries != 1 {
		t.Errorf("expected 1 referral log entry, got %d", referralEntries)
	}
}

func TestReferral_FailureDoesNotRollBackSignup(t *testing.T) {
	// GIVEN: A signup carrying an unknown referral code
	// WHEN: Initialize runs
	// THEN: The account still gets its signup bonus
	engine, _ := newTestEngine()

	rec := mustInitialize(t, engine, "user-b", "NOSUCHCODE99")
	if rec.TotalCredits != credits.SignupBonus {
		t.Errorf("expected signup bonus despite bad code, got %d", rec.TotalCredits)
	}
	if rec.ReferredBy != "NOSUCHCODE99" {
		t.Errorf("expected referred_by preserved, got %q", rec.ReferredBy)
	}
}

// =============================================================================
// CODE VALIDATION TESTS
// =============================================================================

func TestCheckReferralCode(t *testing.T) {
	engine, _ := newTestEngine()
	ctx := context.Background()

	a := mustInitialize(t, engine, "user-a", "")

	cases := []struct {
		name  string
		code  string
		valid bool
	}{
		{"existing code", a.ReferralCode, true},
		{"wrong length", "ABC123", false},
		{"lowercase", "abcdefgh1234", false},
		{"well formed but unknown", "ZZZZZZZZZZZZ", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			check, err := engine.Referrals.CheckReferralCode(ctx, tc.code)
			if err != nil {
				t.Fatalf("CheckReferralCode: %v", err)
			}
			if check.Valid != tc.valid {
				t.Errorf("code %q: expected valid=%v, got %v (%s)", tc.code, tc.valid, check.Valid, check.Message)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	engine, _ := newTestEngine()
	ctx := context.Background()

	a := mustInitialize(t, engine, "user-a", "")

	id, err := engine.Referrals.Resolve(ctx, a.ReferralCode)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id != "user-a" {
		t.Errorf("expected user-a, got %s", id)
	}
}

// =============================================================================
// REFERRAL STATS TESTS
// =============================================================================

func TestGetReferralStats(t *testing.T) {
	engine, _ := newTestEngine()
	ctx := context.Background()

	a := mustInitialize(t, engine, "user-a", "")
	mustInitialize(t, engine, "user-b", a.ReferralCode)
	mustInitialize(t, engine, "user-c", a.ReferralCode)

	stats, err := engine.GetReferralStats(ctx, "user-a")
	if err != nil {
		t.Fatalf("GetReferralStats: %v", err)
	}
	if stats.TotalReferrals != 2 {
		t.Errorf("expected 2 referrals, got %d", stats.TotalReferrals)
	}
	if stats.TotalReferralCredits != 2*credits.ReferralBonus {
		t.Errorf("expected %d credits, got %d", 2*credits.ReferralBonus, stats.TotalReferralCredits)
	}
	if len(stats.History) != 2 {
		t.Errorf("expected 2 history entries, got %d", len(stats.History))
	}
}
