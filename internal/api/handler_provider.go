package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/fastprodman/tcgpacks/internal/infra/logging"
	"github.com/fastprodman/tcgpacks/internal/jobs"
	"github.com/fastprodman/tcgpacks/internal/repos/cards"
	"github.com/fastprodman/tcgpacks/internal/repos/users"
	"github.com/fastprodman/tcgpacks/internal/services/credits"
	"github.com/fastprodman/tcgpacks/internal/services/packs"
	"github.com/fastprodman/tcgpacks/internal/services/tasks"
	"github.com/go-chi/chi/v5"
)

type CreditService interface {
	GetBalance(ctx context.Context, userID string) (int64, error)
	TransactionHistory(ctx context.Context, userID string, page, perPage int) (credits.History, error)
	CanClaimDailyBonus(ctx context.Context, userID string) (bool, error)
	Grant(ctx context.Context, userID string, amount int64, reason, key string) (credits.Receipt, error)
	Reconcile(ctx context.Context, userID string) (credits.Reconciliation, error)
}

type PackService interface {
	ClaimCard(ctx context.Context, userID string, cardID int64) (packs.CardSummary, error)
	Collection(ctx context.Context, userID string, page, perPage int) (packs.Collection, error)
	PoolStats(ctx context.Context) (packs.PoolStats, error)
	AddToPool(ctx context.Context, newCards []cards.NewCard) ([]int64, error)
}

type TaskService interface {
	OpenPack(ctx context.Context, userID string) (string, error)
	GetBalanceAsync(ctx context.Context, userID string) (string, error)
	ClaimDailyBonusAsync(ctx context.Context, userID string) (string, error)
	GetStatus(ctx context.Context, requestID, userID string) (jobs.Snapshot, error)
}

// Notifier upgrades a request into a notification stream for userID.
type Notifier interface {
	Serve(w http.ResponseWriter, r *http.Request, userID string) error
}

// HandlerProvider exposes the game services over HTTP.
type HandlerProvider struct {
	credits CreditService
	packs   PackService
	tasks   TaskService
	users   users.Users
	hub     Notifier
}

func NewHandler(c CreditService, p PackService, t TaskService, u users.Users, hub Notifier) *HandlerProvider {
	return &HandlerProvider{credits: c, packs: p, tasks: t, users: u, hub: hub}
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps domain errors to statuses. Messages of user
// facing failures are passed through; anything else is logged and hidden.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var pe *packs.Error

	switch {
	case errors.As(err, &pe) && !pe.Retryable():
		status := http.StatusConflict
		if pe.Kind == packs.KindUserNotFound {
			status = http.StatusNotFound
		}

		writeError(w, status, pe.Error())
	case errors.Is(err, credits.ErrInsufficientCredits):
		writeError(w, http.StatusConflict, credits.ErrInsufficientCredits.Error())
	case errors.Is(err, credits.ErrDailyBonusClaimed):
		writeError(w, http.StatusConflict, credits.ErrDailyBonusClaimed.Error())
	case errors.Is(err, credits.ErrDuplicateGrant):
		writeError(w, http.StatusConflict, "duplicate transaction")
	case errors.Is(err, users.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user not found")
	case errors.Is(err, jobs.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "request not found")
	case errors.Is(err, tasks.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, credits.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, credits.ErrInvalidAmount.Error())
	case errors.Is(err, cards.ErrInvalidRarity):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, jobs.ErrQueueFull), errors.Is(err, jobs.ErrRunnerClosed):
		writeError(w, http.StatusServiceUnavailable, "service busy, try again later")
	default:
		logging.FromContext(r.Context()).Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func caller(r *http.Request) Identity {
	id, _ := IdentityFrom(r.Context())

	return id
}

// parsePage reads ?page and ?per_page. Missing values are zero and get
// clamped by the services.
func parsePage(r *http.Request) (int, int, error) {
	q := r.URL.Query()

	page, err := optionalInt(q.Get("page"))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid page: %w", err)
	}

	perPage, err := optionalInt(q.Get("per_page"))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid per_page: %w", err)
	}

	return page, perPage, nil
}

func optionalInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}

	return strconv.Atoi(s)
}

// decodeBody reads a JSON body of at most 1MB, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	err := dec.Decode(dst)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty body")
		}

		return errors.New("invalid JSON")
	}

	return nil
}

func accepted(w http.ResponseWriter, requestID string) {
	writeJSON(w, http.StatusAccepted, map[string]string{
		"request_id": requestID,
		"status":     string(jobs.Submitted),
	})
}

// --- Credits ---

// GetBalanceHandler handles GET /v1/credits/balance
func (h *HandlerProvider) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	id := caller(r)

	bal, err := h.credits.GetBalance(r.Context(), id.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"user_id": id.UserID, "balance": bal})
}

// SubmitBalanceHandler handles POST /v1/credits/balance
func (h *HandlerProvider) SubmitBalanceHandler(w http.ResponseWriter, r *http.Request) {
	reqID, err := h.tasks.GetBalanceAsync(r.Context(), caller(r).UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	accepted(w, reqID)
}

// HistoryHandler handles GET /v1/credits/history
func (h *HandlerProvider) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	page, perPage, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	hist, err := h.credits.TransactionHistory(r.Context(), caller(r).UserID, page, perPage)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, hist)
}

// DailyStatusHandler handles GET /v1/credits/daily
func (h *HandlerProvider) DailyStatusHandler(w http.ResponseWriter, r *http.Request) {
	ok, err := h.credits.CanClaimDailyBonus(r.Context(), caller(r).UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"can_claim": ok})
}

// ClaimDailyHandler handles POST /v1/credits/daily
func (h *HandlerProvider) ClaimDailyHandler(w http.ResponseWriter, r *http.Request) {
	reqID, err := h.tasks.ClaimDailyBonusAsync(r.Context(), caller(r).UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	accepted(w, reqID)
}

// --- Packs & cards ---

// OpenPackHandler handles POST /v1/packs/open
func (h *HandlerProvider) OpenPackHandler(w http.ResponseWriter, r *http.Request) {
	reqID, err := h.tasks.OpenPack(r.Context(), caller(r).UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	accepted(w, reqID)
}

// TaskStatusHandler handles GET /v1/tasks/{requestId}
func (h *HandlerProvider) TaskStatusHandler(w http.ResponseWriter, r *http.Request) {
	reqID := chi.URLParam(r, "requestId")

	snap, err := h.tasks.GetStatus(r.Context(), reqID, caller(r).UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// CollectionHandler handles GET /v1/cards
func (h *HandlerProvider) CollectionHandler(w http.ResponseWriter, r *http.Request) {
	page, perPage, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	c, err := h.packs.Collection(r.Context(), caller(r).UserID, page, perPage)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, c)
}

// ClaimCardHandler handles POST /v1/cards/{cardId}/claim
func (h *HandlerProvider) ClaimCardHandler(w http.ResponseWriter, r *http.Request) {
	cardID, err := strconv.ParseInt(chi.URLParam(r, "cardId"), 10, 64)
	if err != nil || cardID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid cardId in path")
		return
	}

	c, err := h.packs.ClaimCard(r.Context(), caller(r).UserID, cardID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, c)
}

// --- Admin ---

type grantRequest struct {
	UserID         string `json:"user_id"`
	Amount         int64  `json:"amount"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key"`
}

// GrantHandler handles POST /v1/admin/credits
func (h *HandlerProvider) GrantHandler(w http.ResponseWriter, r *http.Request) {
	var req grantRequest

	err := decodeBody(w, r, &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id required")
		return
	}

	err = h.users.Exists(r.Context(), req.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	rcpt, err := h.credits.Grant(r.Context(), req.UserID, req.Amount, req.Reason, req.IdempotencyKey)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	logging.FromContext(r.Context()).Info("credits granted",
		"target_user", req.UserID, "amount", req.Amount)
	writeJSON(w, http.StatusOK, rcpt)
}

type poolCard struct {
	Name       string          `json:"name"`
	CardData   json.RawMessage `json:"card_data"`
	ImagePath  string          `json:"image_path"`
	Rarity     string          `json:"rarity"`
	SetName    string          `json:"set_name"`
	CardNumber string          `json:"card_number"`
}

type addPoolRequest struct {
	Cards []poolCard `json:"cards"`
}

// AddPoolHandler handles POST /v1/admin/pool
func (h *HandlerProvider) AddPoolHandler(w http.ResponseWriter, r *http.Request) {
	var req addPoolRequest

	err := decodeBody(w, r, &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if len(req.Cards) == 0 {
		writeError(w, http.StatusBadRequest, "cards required")
		return
	}

	batch := make([]cards.NewCard, 0, len(req.Cards))

	for i, c := range req.Cards {
		rarity, err := cards.ParseRarity(c.Rarity)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("card %d: %v", i, err))
			return
		}

		if c.Name == "" {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("card %d: name required", i))
			return
		}

		batch = append(batch, cards.NewCard{
			Name:       c.Name,
			CardData:   c.CardData,
			ImagePath:  c.ImagePath,
			Rarity:     rarity,
			SetName:    c.SetName,
			CardNumber: c.CardNumber,
		})
	}

	ids, err := h.packs.AddToPool(r.Context(), batch)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"ids": ids})
}

// PoolStatsHandler handles GET /v1/admin/pool/stats
func (h *HandlerProvider) PoolStatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.packs.PoolStats(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// ReconcileHandler handles GET /v1/admin/users/{userId}/reconcile. A
// mismatch is a finding, not a failure, so it is reported with 200.
func (h *HandlerProvider) ReconcileHandler(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	rec, err := h.credits.Reconcile(r.Context(), userID)
	if err != nil && !errors.Is(err, credits.ErrBalanceMismatch) {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// --- Notifications ---

// NotificationsHandler handles GET /v1/ws
func (h *HandlerProvider) NotificationsHandler(w http.ResponseWriter, r *http.Request) {
	id := caller(r)

	err := h.hub.Serve(w, r, id.UserID)
	if err != nil {
		// the upgrader already answered the client
		logging.FromContext(r.Context()).Warn("websocket closed", "error", err)
	}
}
