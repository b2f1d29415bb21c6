/*
handlers.go - HTTP API handlers for the rewards engine

PURPOSE:
  Exposes the rewards engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the rewards package.

ENDPOINTS:
  Users:
    POST   /api/users/{id}/claim          Redeem today's daily claim
    GET    /api/users/{id}/claim          Claim eligibility (read only)
    GET    /api/users/{id}/balance        Balances, streak and tier
    GET    /api/users/{id}/analytics      Summary + milestones (?days=N)
    GET    /api/users/{id}/transactions   Ledger history (?kind=coin|point)
    GET    /api/users/{id}/claims         Claim history

  Admin (X-Admin-ID header required):
    POST   /api/admin/adjustments         Manual adjustment
    GET    /api/admin/users/{id}/reconcile Balance vs ledger sum
    GET    /api/admin/users/{id}/audit    Admin audit trail
    GET    /api/admin/reconciliation      Last scheduled drift check
    POST   /api/admin/reconciliation/run  Run a drift check now

  Commerce:
    POST   /api/hooks/purchase-bonus      Credit points for a purchase
                                          (replays of the same order are 409)

  Program:
    GET    /api/program                   Current reward rules

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input at the boundary (amounts, kinds, days)
  3. Call the engine
  4. Serialize response
  5. Map errors

ERROR HANDLING:
  Errors are returned as JSON with a stable code and HTTP status:
  - 400: Malformed body or query
  - 403: Not an admin
  - 409: Already claimed today, replayed purchase hook
  - 422: Invalid amount/command, insufficient balance
  - 503: Lock timeout or concurrent modification (Retry-After set)
  - 500: Internal errors

SECURITY NOTE:
  Identity is trusted from the caller: the user ID in the path and the
  X-Admin-ID header are expected to be set by an authenticating proxy.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/warp/rewards-engine/factory"
	"github.com/warp/rewards-engine/generic"
	"github.com/warp/rewards-engine/rewards"
)

// AdminHeader carries the authenticated admin identity.
const AdminHeader = "X-Admin-ID"

const (
	defaultActivityDays = 30
	maxActivityDays     = 366
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine         *rewards.Engine
	ProgramFactory *factory.ProgramFactory
	Scheduler      *ReconciliationScheduler
	Logger         *slog.Logger
}

// NewHandler creates a new handler around the engine.
func NewHandler(engine *rewards.Engine, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Engine:         engine,
		ProgramFactory: factory.NewProgramFactory(),
		Logger:         logger,
	}
}

func userParam(r *http.Request) generic.UserID {
	return generic.UserID(chi.URLParam(r, "id"))
}

// =============================================================================
// CLAIM HANDLERS
// =============================================================================

// Claim redeems today's allowance.
func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	result, err := h.Engine.Claim(r.Context(), userParam(r))
	if err != nil {
		h.writeDomainError(w, r, "Failed to claim", err)
		return
	}

	writeJSON(w, http.StatusOK, ClaimResponseDTO{
		CoinsAwarded: result.CoinsAwarded,
		BonusAwarded: result.BonusAwarded,
		NewStreak:    result.NewStreak,
		NewBalance:   result.NewBalance,
		ClaimDate:    result.Claim.ClaimDate.String(),
		Transactions: toTransactionDTOs(result.Transactions),
	})
}

// GetEligibility answers "can I claim now" without writing.
func (h *Handler) GetEligibility(w http.ResponseWriter, r *http.Request) {
	e, err := h.Engine.CanClaim(r.Context(), userParam(r))
	if err != nil {
		h.writeDomainError(w, r, "Failed to check eligibility", err)
		return
	}
	writeJSON(w, http.StatusOK, toEligibilityDTO(e))
}

// =============================================================================
// READ HANDLERS
// =============================================================================

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	p, err := h.Engine.Balance(r.Context(), userParam(r))
	if err != nil {
		h.writeDomainError(w, r, "Failed to load balance", err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(p))
}

func (h *Handler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	days := defaultActivityDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxActivityDays {
			writeError(w, http.StatusBadRequest, "days must be between 1 and 366", err)
			return
		}
		days = n
	}

	summary, err := h.Engine.Summary(r.Context(), userParam(r), days)
	if err != nil {
		h.writeDomainError(w, r, "Failed to compute analytics", err)
		return
	}
	writeJSON(w, http.StatusOK, toAnalyticsDTO(summary))
}

// GetTransactions returns one ledger, or both merged in creation order when
// kind is omitted.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID := userParam(r)
	kinds := generic.Kinds
	if raw := r.URL.Query().Get("kind"); raw != "" {
		kind, ok := generic.ParseKind(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "kind must be coin or point", nil)
			return
		}
		kinds = []generic.Kind{kind}
	}

	var all []generic.Transaction
	for _, kind := range kinds {
		txs, err := h.Engine.Ledger.Transactions(r.Context(), userID, kind)
		if err != nil {
			h.writeDomainError(w, r, "Failed to list transactions", err)
			return
		}
		all = append(all, txs...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].Seq < all[j].Seq
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	writeJSON(w, http.StatusOK, toTransactionDTOs(all))
}

func (h *Handler) GetClaims(w http.ResponseWriter, r *http.Request) {
	claims, err := h.Engine.Ledger.Claims(r.Context(), userParam(r))
	if err != nil {
		h.writeDomainError(w, r, "Failed to list claims", err)
		return
	}
	dtos := make([]ClaimDTO, len(claims))
	for i, c := range claims {
		dtos[i] = toClaimDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetProgram returns the active reward rules.
func (h *Handler) GetProgram(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ProgramFactory.ToSpec(h.Engine.Program))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// CreateAdjustment runs one admin command.
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required", nil)
		return
	}

	cmd, err := rewards.ParseCommand(req.Action, req.Amount, req.Tier)
	if err != nil {
		h.writeDomainError(w, r, "Invalid action", err)
		return
	}

	result, err := h.Engine.Adjust(r.Context(), r.Header.Get(AdminHeader), generic.UserID(req.UserID), cmd, req.Reason)
	if err != nil {
		h.writeDomainError(w, r, "Failed to apply adjustment", err)
		return
	}

	resp := AdjustmentResponseDTO{
		Action:    result.Action,
		Requested: result.Requested,
		Applied:   result.Applied,
		Clamped:   result.Clamped,
		Message:   result.Message,
		Balance:   toBalanceDTO(result.Profile),
		AuditID:   result.Audit.ID,
	}
	if result.Transaction != nil {
		tx := toTransactionDTO(*result.Transaction)
		resp.Transaction = &tx
	}
	writeJSON(w, http.StatusOK, resp)
}

// Reconcile compares each balance with the sum of its ledger.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	results, err := h.Engine.Ledger.Reconcile(r.Context(), userParam(r))
	if err != nil {
		h.writeDomainError(w, r, "Failed to reconcile", err)
		return
	}
	dtos := make([]ReconciliationDTO, len(results))
	for i, rec := range results {
		dtos[i] = ReconciliationDTO{
			Kind:         string(rec.Kind),
			Balance:      rec.Balance,
			LedgerSum:    rec.LedgerSum,
			Drift:        rec.Drift(),
			Transactions: rec.Transactions,
			Consistent:   rec.Consistent(),
		}
		if !rec.Consistent() {
			h.Logger.Error("ledger drift detected",
				slog.String("user_id", string(rec.UserID)),
				slog.String("kind", string(rec.Kind)),
				slog.Int64("drift", rec.Drift()))
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	entries, err := h.Engine.Ledger.AuditLog(r.Context(), userParam(r))
	if err != nil {
		h.writeDomainError(w, r, "Failed to list audit log", err)
		return
	}
	dtos := make([]AuditDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toAuditDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetReconciliationRun returns the last scheduled drift check.
func (h *Handler) GetReconciliationRun(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	if h.Scheduler == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "Reconciliation scheduler is not configured", Code: "not_found"})
		return
	}
	run, ok := h.Scheduler.LastRun()
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "No reconciliation run yet", Code: "not_found"})
		return
	}
	writeJSON(w, http.StatusOK, ReconciliationRunDTO{
		ReconciliationRun: run,
		NextRunAt:         formatTime(h.Scheduler.GetNextRunTime()),
	})
}

// RunReconciliation sweeps every user now and returns the report.
func (h *Handler) RunReconciliation(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	if h.Scheduler == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "Reconciliation scheduler is not configured", Code: "not_found"})
		return
	}
	run := h.Scheduler.RunNow(r.Context())
	writeJSON(w, http.StatusOK, ReconciliationRunDTO{ReconciliationRun: run})
}

// requireAdmin guards admin reads with the engine's authorizer.
func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	adminID := r.Header.Get(AdminHeader)
	auth := h.Engine.Admin.Authorizer
	if adminID == "" || auth == nil {
		h.writeDomainError(w, r, "Admin access required", generic.ErrUnauthorizedAdjustment)
		return false
	}
	ok, err := auth.IsAdmin(r.Context(), adminID)
	if err != nil {
		h.writeDomainError(w, r, "Failed to authorize", err)
		return false
	}
	if !ok {
		h.writeDomainError(w, r, "Admin access required", generic.ErrUnauthorizedAdjustment)
		return false
	}
	return true
}

// =============================================================================
// COMMERCE HOOK
// =============================================================================

// PurchaseBonus credits points after a completed purchase.
func (h *Handler) PurchaseBonus(w http.ResponseWriter, r *http.Request) {
	var req PurchaseBonusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required", nil)
		return
	}

	tx, err := h.Engine.CreditPurchase(r.Context(), rewards.PurchaseCredit{
		UserID:    generic.UserID(req.UserID),
		Amount:    req.Amount,
		PatternID: req.PatternID,
		OrderID:   req.OrderID,
	})
	if err != nil {
		h.writeDomainError(w, r, "Failed to credit purchase bonus", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message, Code: "bad_request"}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// statusFor maps the engine's error taxonomy onto HTTP.
func statusFor(err error) int {
	var insufficient *generic.InsufficientBalanceError
	switch {
	case errors.Is(err, generic.ErrAlreadyClaimed),
		errors.Is(err, generic.ErrDuplicateIdempotencyKey):
		return http.StatusConflict
	case errors.As(err, &insufficient),
		errors.Is(err, generic.ErrInsufficientBalance),
		errors.Is(err, generic.ErrInvalidAmount),
		errors.Is(err, generic.ErrInvalidCommand):
		return http.StatusUnprocessableEntity
	case errors.Is(err, generic.ErrUserRequired):
		return http.StatusBadRequest
	case errors.Is(err, generic.ErrUnauthorizedAdjustment):
		return http.StatusForbidden
	case generic.IsRetryable(err):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	resp := ErrorResponse{Error: message, Code: generic.Reason(err), Details: err.Error()}

	switch {
	case status == http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
	case status >= http.StatusInternalServerError:
		h.Logger.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		resp.Details = ""
	}
	writeJSON(w, status, resp)
}
