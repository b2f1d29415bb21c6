/*
handlers_test.go - HTTP tests for the rewards API

Tests for:
- Claim and eligibility over HTTP, including the 409 on a second claim
- Admin adjustments, authorization and the audit trail
- Purchase bonus replay protection
- Error-to-status mapping and the claim rate limiter
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rewards-engine/generic"
	"github.com/warp/rewards-engine/observability"
	"github.com/warp/rewards-engine/rewards"
	"github.com/warp/rewards-engine/store/sqlite"
)

var t0 = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

type testServer struct {
	router http.Handler
	engine *rewards.Engine
	clock  *generic.FixedClock
}

func newTestServer(t *testing.T, limiter *RateLimiter) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	clock := &generic.FixedClock{T: t0}
	engine, err := rewards.NewEngine(store, rewards.Config{
		Program:    rewards.DefaultProgram(),
		Authorizer: rewards.NewStaticAuthorizer("admin-1"),
		Clock:      clock,
		Observer:   metrics,
	})
	require.NoError(t, err)

	router := NewRouter(NewHandler(engine, nil), RouterOptions{
		Metrics:  metrics,
		Gatherer: reg,
		Limiter:  limiter,
	})
	return &testServer{router: router, engine: engine, clock: clock}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

var asAdmin = map[string]string{AdminHeader: "admin-1"}

// =============================================================================
// CLAIMS
// =============================================================================

func TestClaim_ThenSecondClaimConflicts(t *testing.T) {
	// GIVEN: A fresh user
	// WHEN: They POST /claim twice on the same day
	// THEN: 200 with 10 coins, then 409 already_claimed
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/users/user-1/claim", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	claim := decode[ClaimResponseDTO](t, rec)
	assert.Equal(t, int64(10), claim.CoinsAwarded)
	assert.Equal(t, 1, claim.NewStreak)
	assert.Equal(t, "2025-03-10", claim.ClaimDate)
	require.Len(t, claim.Transactions, 1)

	rec = s.do(t, http.MethodPost, "/api/users/user-1/claim", nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	errResp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "already_claimed", errResp.Code)

	rec = s.do(t, http.MethodGet, "/api/users/user-1/balance", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	balance := decode[BalanceDTO](t, rec)
	assert.Equal(t, int64(10), balance.CoinBalance)
	assert.Equal(t, 1, balance.LoginStreak)
	require.NotNil(t, balance.LastClaim)
	assert.Equal(t, "2025-03-10", *balance.LastClaim)
	assert.Equal(t, "bronze", balance.LoyaltyTier)
}

func TestGetEligibility(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/users/user-1/claim", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	before := decode[EligibilityDTO](t, rec)
	assert.True(t, before.CanClaim)
	assert.Equal(t, int64(10), before.NextAward)

	s.do(t, http.MethodPost, "/api/users/user-1/claim", nil, nil)

	rec = s.do(t, http.MethodGet, "/api/users/user-1/claim", nil, nil)
	after := decode[EligibilityDTO](t, rec)
	assert.False(t, after.CanClaim)
	assert.Equal(t, int64(15*60*60), after.SecondsUntilNext)
	assert.Equal(t, 1, after.CurrentStreak)
}

func TestGetTransactionsAndClaims(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(t, http.MethodPost, "/api/users/user-1/claim", nil, nil)
	s.clock.Advance(24 * time.Hour)
	s.do(t, http.MethodPost, "/api/users/user-1/claim", nil, nil)
	s.clock.Advance(time.Hour)
	s.do(t, http.MethodPost, "/api/hooks/purchase-bonus",
		PurchaseBonusRequest{UserID: "user-1", Amount: 40, PatternID: "p-1"}, nil)

	rec := s.do(t, http.MethodGet, "/api/users/user-1/transactions", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode[[]TransactionDTO](t, rec)
	require.Len(t, all, 3)
	assert.Equal(t, "point", all[2].Kind)

	rec = s.do(t, http.MethodGet, "/api/users/user-1/transactions?kind=coin", nil, nil)
	coins := decode[[]TransactionDTO](t, rec)
	assert.Len(t, coins, 2)

	rec = s.do(t, http.MethodGet, "/api/users/user-1/transactions?kind=gems", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/users/user-1/claims", nil, nil)
	claims := decode[[]ClaimDTO](t, rec)
	require.Len(t, claims, 2)
	assert.Equal(t, "2025-03-11", claims[1].ClaimDate)
	assert.Equal(t, 2, claims[1].Streak)
}

func TestGetAnalytics(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(t, http.MethodPost, "/api/users/user-1/claim", nil, nil)

	rec := s.do(t, http.MethodGet, "/api/users/user-1/analytics?days=7", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	a := decode[AnalyticsDTO](t, rec)
	assert.Equal(t, int64(10), a.CoinBalance)
	assert.Equal(t, 1, a.CurrentStreak)
	assert.Equal(t, 1, a.TotalDaysClaimed)
	assert.Len(t, a.Activity, 7)
	assert.Equal(t, "2025-03-10", a.Activity[6].Date)
	assert.True(t, a.Activity[6].Claimed)
	assert.NotEmpty(t, a.Milestones)
	assert.Equal(t, "silver", a.NextTier)

	for _, bad := range []string{"0", "-1", "400", "soon"} {
		rec = s.do(t, http.MethodGet, "/api/users/user-1/analytics?days="+bad, nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "days=%s", bad)
	}
}

// =============================================================================
// ADMIN
// =============================================================================

func TestCreateAdjustment_ClampedRemoval(t *testing.T) {
	// GIVEN: A user with 30 coins
	// WHEN: admin-1 removes 1000 coins
	// THEN: 200, applied -30, balance 0, audit entry visible to admins only
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/admin/adjustments",
		AdjustmentRequest{UserID: "user-1", Action: "add_coins", Amount: 30, Reason: "seed"}, asAdmin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/admin/adjustments",
		AdjustmentRequest{UserID: "user-1", Action: "remove_coins", Amount: 1000, Reason: "chargeback"}, asAdmin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[AdjustmentResponseDTO](t, rec)
	assert.Equal(t, int64(-30), resp.Applied)
	assert.True(t, resp.Clamped)
	assert.Zero(t, resp.Balance.CoinBalance)
	require.NotNil(t, resp.Transaction)
	assert.Equal(t, "admin-1", resp.Transaction.CreatedBy)
	assert.NotEmpty(t, resp.AuditID)

	rec = s.do(t, http.MethodGet, "/api/admin/users/user-1/audit", nil, asAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	audit := decode[[]AuditDTO](t, rec)
	require.Len(t, audit, 2)
	assert.Equal(t, "chargeback", audit[1].Reason)

	rec = s.do(t, http.MethodGet, "/api/admin/users/user-1/audit", nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateAdjustment_Errors(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name    string
		req     AdjustmentRequest
		headers map[string]string
		status  int
		code    string
	}{
		{"not an admin", AdjustmentRequest{UserID: "user-1", Action: "add_coins", Amount: 5, Reason: "x"},
			map[string]string{AdminHeader: "mallory"}, http.StatusForbidden, "unauthorized"},
		{"no admin header", AdjustmentRequest{UserID: "user-1", Action: "add_coins", Amount: 5, Reason: "x"},
			nil, http.StatusForbidden, "unauthorized"},
		{"unknown action", AdjustmentRequest{UserID: "user-1", Action: "delete", Amount: 5, Reason: "x"},
			asAdmin, http.StatusUnprocessableEntity, "invalid_command"},
		{"zero amount", AdjustmentRequest{UserID: "user-1", Action: "add_points", Amount: 0, Reason: "x"},
			asAdmin, http.StatusUnprocessableEntity, "invalid_amount"},
		{"missing reason", AdjustmentRequest{UserID: "user-1", Action: "add_points", Amount: 5},
			asAdmin, http.StatusUnprocessableEntity, "invalid_command"},
		{"missing user", AdjustmentRequest{Action: "add_points", Amount: 5, Reason: "x"},
			asAdmin, http.StatusBadRequest, "bad_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/admin/adjustments", tt.req, tt.headers)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Code)
		})
	}
}

func TestReconcile(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(t, http.MethodPost, "/api/users/user-1/claim", nil, nil)

	rec := s.do(t, http.MethodGet, "/api/admin/users/user-1/reconcile", nil, asAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	recs := decode[[]ReconciliationDTO](t, rec)
	require.Len(t, recs, 2)
	for _, r := range recs {
		assert.True(t, r.Consistent, r.Kind)
	}
	assert.Equal(t, int64(10), recs[0].LedgerSum)
}

// =============================================================================
// COMMERCE HOOK
// =============================================================================

func TestPurchaseBonus_ReplayConflicts(t *testing.T) {
	s := newTestServer(t, nil)
	req := PurchaseBonusRequest{UserID: "user-1", Amount: 150, PatternID: "pattern-42"}

	rec := s.do(t, http.MethodPost, "/api/hooks/purchase-bonus", req, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tx := decode[TransactionDTO](t, rec)
	assert.Equal(t, "purchase_bonus", tx.Type)
	assert.Equal(t, int64(150), tx.Amount)

	rec = s.do(t, http.MethodPost, "/api/hooks/purchase-bonus", req, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate", decode[ErrorResponse](t, rec).Code)

	rec = s.do(t, http.MethodGet, "/api/users/user-1/balance", nil, nil)
	balance := decode[BalanceDTO](t, rec)
	assert.Equal(t, int64(150), balance.PointBalance)
	assert.Equal(t, "silver", balance.LoyaltyTier)
}

func TestPurchaseBonus_DistinctOrdersEachCredit(t *testing.T) {
	s := newTestServer(t, nil)

	for _, order := range []string{"order-1", "order-2"} {
		req := PurchaseBonusRequest{UserID: "user-1", Amount: 60, PatternID: "pattern-42", OrderID: order}
		rec := s.do(t, http.MethodPost, "/api/hooks/purchase-bonus", req, nil)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	req := PurchaseBonusRequest{UserID: "user-1", Amount: 60, PatternID: "pattern-42", OrderID: "order-1"}
	rec := s.do(t, http.MethodPost, "/api/hooks/purchase-bonus", req, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/users/user-1/balance", nil, nil)
	assert.Equal(t, int64(120), decode[BalanceDTO](t, rec).PointBalance)
}

func TestPurchaseBonus_BadBody(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/hooks/purchase-bonus", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/hooks/purchase-bonus",
		PurchaseBonusRequest{UserID: "user-1", Amount: -5, PatternID: "p"}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

// =============================================================================
// PLUMBING
// =============================================================================

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{generic.ErrAlreadyClaimed, http.StatusConflict},
		{fmt.Errorf("claim: %w", generic.ErrAlreadyClaimed), http.StatusConflict},
		{generic.ErrDuplicateIdempotencyKey, http.StatusConflict},
		{&generic.InsufficientBalanceError{Available: 1, Requested: 2}, http.StatusUnprocessableEntity},
		{generic.ErrInvalidAmount, http.StatusUnprocessableEntity},
		{generic.ErrInvalidCommand, http.StatusUnprocessableEntity},
		{generic.ErrUserRequired, http.StatusBadRequest},
		{generic.ErrUnauthorizedAdjustment, http.StatusForbidden},
		{generic.ErrProfileLockTimeout, http.StatusServiceUnavailable},
		{generic.ErrConcurrentModification, http.StatusServiceUnavailable},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), "%v", tt.err)
	}
}

func TestClaim_LockTimeout_ServiceUnavailable(t *testing.T) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer store.Close()

	locks := generic.NewKeyedMutex()
	engine, err := rewards.NewEngine(store, rewards.Config{
		Program:     rewards.DefaultProgram(),
		LockTimeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	generic.WithLocks(locks)(engine.Ledger)

	unlock, err := locks.Lock(context.Background(), "user-1")
	require.NoError(t, err)
	defer unlock()

	router := NewRouter(NewHandler(engine, nil), RouterOptions{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/users/user-1/claim", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "lock_timeout", decode[ErrorResponse](t, rec).Code)
}

func TestRateLimiter_ThrottlesClaimsPerUser(t *testing.T) {
	// GIVEN: A limiter allowing a burst of 2 claims per user
	// WHEN: user-1 posts three claims back to back
	// THEN: The third is rejected with 429 before reaching the ledger
	s := newTestServer(t, NewRateLimiter(0.001, 2, nil))

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/users/user-1/claim", nil, nil).Code)
	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, "/api/users/user-1/claim", nil, nil).Code)

	rec := s.do(t, http.MethodPost, "/api/users/user-1/claim", nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limited", decode[ErrorResponse](t, rec).Code)

	// Other users and read routes are unaffected
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/users/user-2/claim", nil, nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/users/user-1/claim", nil, nil).Code)
}

func TestRateLimiter_DisabledAndNil(t *testing.T) {
	var nilLimiter *RateLimiter
	assert.True(t, nilLimiter.Allow("user-1"))

	off := NewRateLimiter(0, 1, nil)
	for i := 0; i < 10; i++ {
		assert.True(t, off.Allow("user-1"))
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(t, http.MethodPost, "/api/users/user-1/claim", nil, nil)

	rec := s.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "rewards_claims_committed_total 1")
	assert.Contains(t, rec.Body.String(), `route="/api/users/{id}/claim"`)
}

func TestGetProgram(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/program", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(10), body["base_amount"])
	assert.Equal(t, "UTC", body["timezone"])
}
