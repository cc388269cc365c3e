package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/steeped/credit-engine/credits"
	"github.com/steeped/credit-engine/credits/store"
)

func record(id credits.AccountID, code string) credits.AccountCredits {
	now := time.Now().UTC()
	return credits.AccountCredits{
		AccountID:        id,
		TotalCredits:     2500,
		AvailableCredits: 2500,
		LifetimeEarned:   2500,
		ReferralCode:     code,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// =============================================================================
// RECORD TESTS
// =============================================================================

func TestMemory_CreateIsCreateIfAbsent(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	if err := mem.CreateRecord(ctx, record("u1", "CODE00000001")); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if err := mem.CreateRecord(ctx, record("u1", "CODE00000002")); !errors.Is(err, credits.ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestMemory_GetMissingReturnsNilNil(t *testing.T) {
	mem := store.NewMemory()

	rec, err := mem.GetRecord(context.Background(), "ghost")
	if err != nil || rec != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", rec, err)
	}
}

func TestMemory_UpdateAbortLeavesRecordUntouched(t *testing.T) {
	// GIVEN: An existing record
	// WHEN: The update callback returns an error
	// THEN: Nothing is written
	mem := store.NewMemory()
	ctx := context.Background()

	if err := mem.CreateRecord(ctx, record("u1", "CODE00000001")); err != nil {
		t.Fatalf("create: %v", err)
	}

	boom := errors.New("abort")
	_, err := mem.UpdateRecord(ctx, "u1", func(r *credits.AccountCredits) error {
		r.AvailableCredits = 0
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected abort error, got %v", err)
	}

	rec, _ := mem.GetRecord(ctx, "u1")
	if rec.AvailableCredits != 2500 {
		t.Errorf("aborted update changed the record: %d", rec.AvailableCredits)
	}
}

func TestMemory_UpdateMissingRecord(t *testing.T) {
	mem := store.NewMemory()

	_, err := mem.UpdateRecord(context.Background(), "ghost", func(*credits.AccountCredits) error { return nil })
	if !errors.Is(err, credits.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestMemory_FindByReferralCode(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	mem.CreateRecord(ctx, record("u1", "CODE00000001"))

	rec, err := mem.FindByReferralCode(ctx, "CODE00000001")
	if err != nil {
		t.Fatalf("FindByReferralCode: %v", err)
	}
	if rec == nil || rec.AccountID != "u1" {
		t.Fatalf("expected u1, got %v", rec)
	}

	rec, err = mem.FindByReferralCode(ctx, "NOPE00000000")
	if err != nil || rec != nil {
		t.Fatalf("expected (nil, nil) on miss, got (%v, %v)", rec, err)
	}
}

// =============================================================================
// TRANSACTION LOG TESTS
// =============================================================================

func TestMemory_TransactionsNewestFirst(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	for i, id := range []string{"t1", "t2", "t3"} {
		tx := credits.Transaction{
			ID:        id,
			AccountID: "u1",
			Type:      credits.TxEarned,
			Amount:    int64(100 * (i + 1)),
			Source:    credits.SourceAdmin,
		}
		if err := mem.AppendTransaction(ctx, tx); err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}

	txs, err := mem.TransactionsByAccount(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("TransactionsByAccount: %v", err)
	}
	if len(txs) != 3 || txs[0].ID != "t3" || txs[2].ID != "t1" {
		t.Fatalf("expected newest first t3..t1, got %+v", txs)
	}

	limited, _ := mem.TransactionsByAccount(ctx, "u1", 2)
	if len(limited) != 2 || limited[0].ID != "t3" {
		t.Fatalf("limit not honored: %+v", limited)
	}
}

func TestMemory_DuplicateReferralBonusRejected(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	tx := credits.Transaction{
		ID:                "t1",
		AccountID:         "referrer",
		Type:              credits.TxEarned,
		Amount:            2500,
		Source:            credits.SourceReferral,
		ReferralAccountID: "referred",
	}
	if err := mem.AppendTransaction(ctx, tx); err != nil {
		t.Fatalf("first append: %v", err)
	}

	tx.ID = "t2"
	if err := mem.AppendTransaction(ctx, tx); !errors.Is(err, credits.ErrReferralAlreadyCredited) {
		t.Fatalf("expected ErrReferralAlreadyCredited, got %v", err)
	}

	has, err := mem.HasReferralBonus(ctx, "referrer", "referred")
	if err != nil || !has {
		t.Fatalf("HasReferralBonus = %v, %v; want true", has, err)
	}
}

// =============================================================================
// SUBSCRIPTION TESTS
// =============================================================================

func TestMemory_SubscribeDeliversLatest(t *testing.T) {
	// GIVEN: A subscriber that has not drained its channel
	// WHEN: Two updates commit back to back
	// THEN: The subscriber sees the latest state, intermediate may drop
	mem := store.NewMemory()
	ctx := context.Background()

	mem.CreateRecord(ctx, record("u1", "CODE00000001"))

	ch, cancel := mem.Subscribe("u1")
	defer cancel()

	// Drain the create notification.
	<-ch

	for _, v := range []int64{100, 200} {
		amount := v
		if _, err := mem.UpdateRecord(ctx, "u1", func(r *credits.AccountCredits) error {
			r.AvailableCredits = amount
			return nil
		}); err != nil {
			t.Fatalf("update: %v", err)
		}
	}

	select {
	case rec := <-ch:
		if rec.AvailableCredits != 200 {
			t.Errorf("expected latest state 200, got %d", rec.AvailableCredits)
		}
	case <-time.After(time.Second):
		t.Fatal("no update delivered")
	}
}

func TestMemory_CancelClosesChannel(t *testing.T) {
	mem := store.NewMemory()

	ch, cancel := mem.Subscribe("u1")
	cancel()

	if _, open := <-ch; open {
		t.Fatal("expected channel closed after cancel")
	}

	// Double cancel is safe.
	cancel()
}
