package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/steeped/credit-engine/api"
	"github.com/steeped/credit-engine/credits"
	"github.com/steeped/credit-engine/credits/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) (*httptest.Server, *credits.Engine) {
	t.Helper()
	engine := credits.NewEngine(store.NewMemory(), nil)
	handler := api.NewHandler(engine, "http://localhost:5173")
	srv := httptest.NewServer(api.NewRouter(handler))
	t.Cleanup(srv.Close)
	return srv, engine
}

func doJSON(t *testing.T, method, url string, body any, out any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding request: %v", err)
		}
	}

	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
	}
	return resp
}

// =============================================================================
// ACCOUNT ENDPOINT TESTS
// =============================================================================

func TestCreateAccount(t *testing.T) {
	srv, _ := newTestServer(t)

	var dto struct {
		AccountID        string `json:"account_id"`
		AvailableCredits int64  `json:"available_credits"`
		ReferralCode     string `json:"referral_code"`
		Tier             string `json:"tier"`
	}
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/accounts",
		map[string]string{"account_id": "user-1"}, &dto)

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if dto.AvailableCredits != credits.SignupBonus {
		t.Errorf("expected %d credits, got %d", credits.SignupBonus, dto.AvailableCredits)
	}
	if len(dto.ReferralCode) != 12 {
		t.Errorf("expected 12-char referral code, got %q", dto.ReferralCode)
	}
	if dto.Tier != string(credits.TierStarter) {
		t.Errorf("expected Starter tier, got %q", dto.Tier)
	}
}

func TestCreateAccount_DuplicateConflicts(t *testing.T) {
	srv, _ := newTestServer(t)

	body := map[string]string{"account_id": "user-1"}
	doJSON(t, http.MethodPost, srv.URL+"/api/accounts", body, nil)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/accounts", body, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestCreateAccount_MissingID(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/accounts", map[string]string{}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestGetCredits_LazyInitializes(t *testing.T) {
	srv, _ := newTestServer(t)

	var dto struct {
		AvailableCredits int64 `json:"available_credits"`
	}
	resp := doJSON(t, http.MethodGet, srv.URL+"/api/accounts/user-9/credits", nil, &dto)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if dto.AvailableCredits != credits.SignupBonus {
		t.Errorf("expected %d credits, got %d", credits.SignupBonus, dto.AvailableCredits)
	}
}

func TestGetTransactions(t *testing.T) {
	srv, engine := newTestServer(t)
	ctx := context.Background()

	if _, err := engine.Initialize(ctx, "user-1", ""); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	var txs []struct {
		Source string `json:"source"`
	}
	resp := doJSON(t, http.MethodGet, srv.URL+"/api/accounts/user-1/transactions", nil, &txs)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if len(txs) != 1 || txs[0].Source != "signup" {
		t.Fatalf("expected one signup transaction, got %+v", txs)
	}
}

func TestGetReferral(t *testing.T) {
	srv, engine := newTestServer(t)
	ctx := context.Background()

	a, err := engine.Initialize(ctx, "user-a", "")
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, err := engine.Initialize(ctx, "user-b", a.ReferralCode); err != nil {
		t.Fatalf("Initialize b: %v", err)
	}

	var dto struct {
		ReferralCode         string `json:"referral_code"`
		ReferralLink         string `json:"referral_link"`
		TotalReferrals       int    `json:"total_referrals"`
		TotalReferralCredits int64  `json:"total_referral_credits"`
	}
	resp := doJSON(t, http.MethodGet, srv.URL+"/api/accounts/user-a/referral", nil, &dto)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if dto.ReferralCode != a.ReferralCode {
		t.Errorf("expected code %s, got %s", a.ReferralCode, dto.ReferralCode)
	}
	if dto.TotalReferrals != 1 || dto.TotalReferralCredits != credits.ReferralBonus {
		t.Errorf("unexpected stats: %+v", dto)
	}
	want := "http://localhost:5173/register?ref=" + a.ReferralCode
	if dto.ReferralLink != want {
		t.Errorf("expected link %s, got %s", want, dto.ReferralLink)
	}
}

// =============================================================================
// CHECKOUT ENDPOINT TESTS
// =============================================================================

func TestValidatePayment_ReportsShortfallAs200(t *testing.T) {
	srv, engine := newTestServer(t)

	if _, err := engine.Initialize(context.Background(), "user-1", ""); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	var dto struct {
		Valid            bool  `json:"valid"`
		AvailableCredits int64 `json:"available_credits"`
	}
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/checkout/validate",
		map[string]any{"account_id": "user-1", "credits": credits.SignupBonus + 1}, &dto)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if dto.Valid {
		t.Error("expected valid=false for shortfall")
	}
	if dto.AvailableCredits != credits.SignupBonus {
		t.Errorf("expected available %d, got %d", credits.SignupBonus, dto.AvailableCredits)
	}
}

func TestSpend(t *testing.T) {
	srv, engine := newTestServer(t)

	if _, err := engine.Initialize(context.Background(), "user-1", ""); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	var dto struct {
		AvailableCredits int64 `json:"available_credits"`
	}
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/checkout/spend",
		map[string]any{"account_id": "user-1", "credits": 1000, "order_id": "O1"}, &dto)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if dto.AvailableCredits != credits.SignupBonus-1000 {
		t.Errorf("expected %d, got %d", credits.SignupBonus-1000, dto.AvailableCredits)
	}
}

func TestSpend_InsufficientIs402(t *testing.T) {
	srv, engine := newTestServer(t)

	if _, err := engine.Initialize(context.Background(), "user-1", ""); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/checkout/spend",
		map[string]any{"account_id": "user-1", "credits": credits.SignupBonus + 1, "order_id": "O1"}, nil)
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", resp.StatusCode)
	}
}

func TestPurchaseCredits(t *testing.T) {
	srv, engine := newTestServer(t)

	if _, err := engine.Initialize(context.Background(), "user-1", ""); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	var dto struct {
		CreditsEarned int64 `json:"credits_earned"`
	}
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/orders/credits",
		map[string]any{"account_id": "user-1", "order_total": "45.99", "order_id": "O42"}, &dto)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if dto.CreditsEarned != 459 {
		t.Errorf("expected 459 credits, got %d", dto.CreditsEarned)
	}
}

// =============================================================================
// REFERRAL CHECK ENDPOINT TESTS
// =============================================================================

func TestCheckReferral(t *testing.T) {
	srv, engine := newTestServer(t)

	a, err := engine.Initialize(context.Background(), "user-a", "")
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	var dto struct {
		Valid bool `json:"valid"`
	}
	doJSON(t, http.MethodPost, srv.URL+"/api/referrals/check",
		map[string]string{"code": a.ReferralCode}, &dto)
	if !dto.Valid {
		t.Error("expected valid code")
	}

	doJSON(t, http.MethodPost, srv.URL+"/api/referrals/check",
		map[string]string{"code": "not-a-code"}, &dto)
	if dto.Valid {
		t.Error("expected invalid code")
	}
}

// =============================================================================
// ADMIN ENDPOINT TESTS
// =============================================================================

func TestAdminAdjustmentAndStats(t *testing.T) {
	srv, engine := newTestServer(t)

	if _, err := engine.Initialize(context.Background(), "user-1", ""); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	var balance struct {
		TotalCredits int64 `json:"total_credits"`
	}
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/admin/adjustments",
		map[string]any{"account_id": "user-1", "amount": 500, "reason": "goodwill", "admin_id": "admin-7"}, &balance)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if balance.TotalCredits != credits.SignupBonus+500 {
		t.Errorf("expected %d, got %d", credits.SignupBonus+500, balance.TotalCredits)
	}

	var stats struct {
		TotalAccounts int `json:"total_accounts"`
	}
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/admin/stats", nil, &stats)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if stats.TotalAccounts != 1 {
		t.Errorf("expected 1 account, got %d", stats.TotalAccounts)
	}
}

func TestAuditEndpoint(t *testing.T) {
	srv, engine := newTestServer(t)

	if _, err := engine.Initialize(context.Background(), "user-1", ""); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	var dto struct {
		Clean bool `json:"clean"`
	}
	resp := doJSON(t, http.MethodGet, srv.URL+"/api/admin/accounts/user-1/audit", nil, &dto)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !dto.Clean {
		t.Error("expected clean audit for a fresh account")
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/admin/accounts/ghost/audit", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for missing account, got %d", resp.StatusCode)
	}
}
