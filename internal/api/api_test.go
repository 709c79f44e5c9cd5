package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fastprodman/tcgpacks/internal/config"
	"github.com/fastprodman/tcgpacks/internal/jobs"
	"github.com/fastprodman/tcgpacks/internal/repos/cards"
	"github.com/fastprodman/tcgpacks/internal/repos/users"
	"github.com/fastprodman/tcgpacks/internal/services/credits"
	"github.com/fastprodman/tcgpacks/internal/services/packs"
	"github.com/fastprodman/tcgpacks/internal/services/tasks"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAuth = config.AuthConfig{JWTSecret: "test-secret", Issuer: "tcgpacks-test"}

type fakeUsers struct {
	mu     sync.Mutex
	byID   map[string]users.User
	admins map[string]bool
}

func newFakeUsers(admins ...string) *fakeUsers {
	f := &fakeUsers{byID: map[string]users.User{}, admins: map[string]bool{}}
	for _, a := range admins {
		f.admins[a] = true
	}

	return f
}

func (f *fakeUsers) Exists(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.byID[id]; !ok {
		return users.ErrUserNotFound
	}

	return nil
}

func (f *fakeUsers) Get(ctx context.Context, id string) (users.User, error) {
	err := f.Exists(ctx, id)
	if err != nil {
		return users.User{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return f.byID[id], nil
}

func (f *fakeUsers) Ensure(_ context.Context, id, email string) (users.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.byID[id]
	if !ok {
		u = users.User{ID: id, Email: email, IsAdmin: f.admins[id]}
		f.byID[id] = u
	}

	return u, nil
}

func (f *fakeUsers) SetAdmin(_ context.Context, id string, admin bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.admins[id] = admin

	return nil
}

type fakeCredits struct {
	keys    map[string]bool
	balance int64
	rec     credits.Reconciliation
	recErr  error
}

func (f *fakeCredits) GetBalance(context.Context, string) (int64, error) { return f.balance, nil }

func (f *fakeCredits) TransactionHistory(_ context.Context, _ string, page, perPage int) (credits.History, error) {
	page, perPage = credits.ClampPage(page, perPage)

	return credits.History{Transactions: []credits.Transaction{}, Page: page, PerPage: perPage}, nil
}

func (f *fakeCredits) CanClaimDailyBonus(context.Context, string) (bool, error) { return true, nil }

func (f *fakeCredits) Grant(_ context.Context, userID string, amount int64, _, key string) (credits.Receipt, error) {
	if key != "" {
		if f.keys[key] {
			return credits.Receipt{}, credits.ErrDuplicateGrant
		}

		f.keys[key] = true
	}

	return credits.Receipt{UserID: userID, Amount: amount, BalanceAfter: f.balance + amount}, nil
}

func (f *fakeCredits) Reconcile(context.Context, string) (credits.Reconciliation, error) {
	return f.rec, f.recErr
}

type fakePacks struct {
	claimErr error
	added    []cards.NewCard
}

func (f *fakePacks) ClaimCard(_ context.Context, _ string, cardID int64) (packs.CardSummary, error) {
	if f.claimErr != nil {
		return packs.CardSummary{}, f.claimErr
	}

	return packs.CardSummary{ID: cardID, Name: "Llanowar Elves", Rarity: cards.Common}, nil
}

func (f *fakePacks) Collection(_ context.Context, _ string, page, perPage int) (packs.Collection, error) {
	return packs.Collection{Cards: []packs.CardSummary{}, Page: page, PerPage: perPage}, nil
}

func (f *fakePacks) PoolStats(context.Context) (packs.PoolStats, error) {
	return packs.PoolStats{Available: map[cards.Rarity]int{cards.Common: 5}, PacksPossible: 1}, nil
}

func (f *fakePacks) AddToPool(_ context.Context, batch []cards.NewCard) ([]int64, error) {
	f.added = append(f.added, batch...)

	ids := make([]int64, len(batch))
	for i := range batch {
		ids[i] = int64(i + 1)
	}

	return ids, nil
}

type fakeTasks struct {
	mu     sync.Mutex
	owners map[string]string
	next   int
}

func (f *fakeTasks) submit(userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.next++
	id := fmt.Sprintf("req-%d", f.next)
	f.owners[id] = userID

	return id, nil
}

func (f *fakeTasks) OpenPack(_ context.Context, u string) (string, error)        { return f.submit(u) }
func (f *fakeTasks) GetBalanceAsync(_ context.Context, u string) (string, error) { return f.submit(u) }

func (f *fakeTasks) ClaimDailyBonusAsync(_ context.Context, u string) (string, error) {
	return f.submit(u)
}

func (f *fakeTasks) GetStatus(_ context.Context, reqID, userID string) (jobs.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	owner, ok := f.owners[reqID]
	if !ok {
		return jobs.Snapshot{}, jobs.ErrJobNotFound
	}

	if owner != userID {
		return jobs.Snapshot{}, tasks.ErrForbidden
	}

	return jobs.Snapshot{ID: reqID, UserID: owner, State: jobs.Submitted}, nil
}

type fakeHub struct{}

func (fakeHub) Serve(w http.ResponseWriter, _ *http.Request, userID string) error {
	writeJSON(w, http.StatusOK, map[string]string{"subscribed": userID})

	return nil
}

type harness struct {
	handler http.Handler
	credits *fakeCredits
	packs   *fakePacks
	users   *fakeUsers
}

func newHarness(t *testing.T, rl config.RateLimitConfig) *harness {
	t.Helper()

	h := &harness{
		credits: &fakeCredits{balance: 250, keys: map[string]bool{}},
		packs:   &fakePacks{},
		users:   newFakeUsers("admin"),
	}

	hp := NewHandler(h.credits, h.packs, &fakeTasks{owners: map[string]string{}}, h.users, fakeHub{})

	var err error

	h.handler, err = NewRouter(hp, RouterConfig{Auth: testAuth, RateLimit: rl})
	require.NoError(t, err)

	return h
}

func token(t *testing.T, userID string) string {
	t.Helper()

	tok, err := IssueToken(testAuth, userID, userID+"@example.test", time.Hour)
	require.NoError(t, err)

	return tok
}

func (h *harness) do(t *testing.T, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, user))
	}

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())

	return out
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.RateLimitConfig{})
	rec := h.do(t, http.MethodGet, "/healthz", "", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestAuth(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.RateLimitConfig{})

	foreign, err := IssueToken(config.AuthConfig{JWTSecret: "other", Issuer: testAuth.Issuer}, "u1", "", time.Hour)
	require.NoError(t, err)

	expired, err := IssueToken(testAuth, "u1", "", -time.Minute)
	require.NoError(t, err)

	wrongIssuer, err := IssueToken(config.AuthConfig{JWTSecret: testAuth.JWTSecret, Issuer: "someone"}, "u1", "", time.Hour)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1", Issuer: testAuth.Issuer},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing", header: "", want: http.StatusUnauthorized},
		{name: "not_bearer", header: "Basic abc", want: http.StatusUnauthorized},
		{name: "foreign_secret", header: "Bearer " + foreign, want: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + expired, want: http.StatusUnauthorized},
		{name: "wrong_issuer", header: "Bearer " + wrongIssuer, want: http.StatusUnauthorized},
		{name: "alg_none", header: "Bearer " + none, want: http.StatusUnauthorized},
		{name: "valid", header: "Bearer " + token(t, "u1"), want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/v1/credits/balance", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			rec := httptest.NewRecorder()
			h.handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestAuth_ProvisionsUserOnFirstRequest(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.RateLimitConfig{})

	require.ErrorIs(t, h.users.Exists(t.Context(), "newbie"), users.ErrUserNotFound)

	rec := h.do(t, http.MethodGet, "/v1/credits/balance", "newbie", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "newbie", body["user_id"])
	assert.InDelta(t, 250, body["balance"], 0)

	u, err := h.users.Get(t.Context(), "newbie")
	require.NoError(t, err)
	assert.Equal(t, "newbie@example.test", u.Email)
}

func TestAdminGuard(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.RateLimitConfig{})

	rec := h.do(t, http.MethodGet, "/v1/admin/pool/stats", "player", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(t, http.MethodGet, "/v1/admin/pool/stats", "admin", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 1, decode(t, rec)["packs_possible"], 0)
}

func TestAsyncEndpointsReturnRequestID(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.RateLimitConfig{})

	for _, path := range []string{"/v1/packs/open", "/v1/credits/daily", "/v1/credits/balance"} {
		rec := h.do(t, http.MethodPost, path, "u1", "")
		require.Equal(t, http.StatusAccepted, rec.Code, path)

		body := decode(t, rec)
		assert.NotEmpty(t, body["request_id"], path)
		assert.Equal(t, "submitted", body["status"], path)
	}
}

func TestTaskStatus(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.RateLimitConfig{})

	rec := h.do(t, http.MethodPost, "/v1/packs/open", "owner", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	reqID := decode(t, rec)["request_id"].(string)

	rec = h.do(t, http.MethodGet, "/v1/tasks/"+reqID, "owner", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, reqID, decode(t, rec)["request_id"])

	rec = h.do(t, http.MethodGet, "/v1/tasks/"+reqID, "intruder", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(t, http.MethodGet, "/v1/tasks/missing", "owner", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOpenPack_RateLimitedPerUser(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.RateLimitConfig{PacksPerSecond: 0.001, PacksBurst: 2})

	for range 2 {
		rec := h.do(t, http.MethodPost, "/v1/packs/open", "greedy", "")
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	rec := h.do(t, http.MethodPost, "/v1/packs/open", "greedy", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// other users keep their own bucket
	rec = h.do(t, http.MethodPost, "/v1/packs/open", "patient", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestBadRequests(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.RateLimitConfig{})

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   string
	}{
		{name: "bad_page", method: http.MethodGet, path: "/v1/credits/history?page=abc", user: "u1"},
		{name: "bad_per_page", method: http.MethodGet, path: "/v1/cards?per_page=x", user: "u1"},
		{name: "bad_card_id", method: http.MethodPost, path: "/v1/cards/zero/claim", user: "u1"},
		{name: "negative_card_id", method: http.MethodPost, path: "/v1/cards/-4/claim", user: "u1"},
		{name: "grant_empty_body", method: http.MethodPost, path: "/v1/admin/credits", user: "admin"},
		{name: "grant_unknown_field", method: http.MethodPost, path: "/v1/admin/credits", user: "admin", body: `{"user":"x"}`},
		{name: "grant_no_user", method: http.MethodPost, path: "/v1/admin/credits", user: "admin", body: `{"amount":5}`},
		{name: "pool_empty", method: http.MethodPost, path: "/v1/admin/pool", user: "admin", body: `{"cards":[]}`},
		{
			name:   "pool_bad_rarity",
			method: http.MethodPost,
			path:   "/v1/admin/pool",
			user:   "admin",
			body:   `{"cards":[{"name":"Shock","rarity":"legendary"}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := h.do(t, tt.method, tt.path, tt.user, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestHistory_ClampsPaging(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.RateLimitConfig{})

	rec := h.do(t, http.MethodGet, "/v1/credits/history?page=0&per_page=1000", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.InDelta(t, 1, body["page"], 0)
	assert.InDelta(t, credits.MaxPerPage, body["per_page"], 0)
}

func TestAdminGrant(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.RateLimitConfig{})

	rec := h.do(t, http.MethodPost, "/v1/admin/credits", "admin", `{"user_id":"ghost","amount":50}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	h.do(t, http.MethodGet, "/v1/credits/balance", "player", "")

	rec = h.do(t, http.MethodPost, "/v1/admin/credits", "admin", `{"user_id":"player","amount":50,"reason":"tournament"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.InDelta(t, 300, decode(t, rec)["balance_after"], 0)

	body := `{"user_id":"player","amount":10,"idempotency_key":"k1"}`

	rec = h.do(t, http.MethodPost, "/v1/admin/credits", "admin", body)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodPost, "/v1/admin/credits", "admin", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate transaction", decode(t, rec)["error"])
}

func TestAdminAddPool(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.RateLimitConfig{})

	body := `{"cards":[
		{"name":"Shock","rarity":"common","card_data":{"manaCost":"{R}"}},
		{"name":"Shivan Dragon","rarity":"Rare","set_name":"M10","card_number":"154"}
	]}`

	rec := h.do(t, http.MethodPost, "/v1/admin/pool", "admin", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	require.Len(t, h.packs.added, 2)
	assert.Equal(t, cards.Common, h.packs.added[0].Rarity)
	assert.Equal(t, cards.Rare, h.packs.added[1].Rarity)
	assert.JSONEq(t, `{"manaCost":"{R}"}`, string(h.packs.added[0].CardData))
}

func TestReconcile_MismatchIsReported(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.RateLimitConfig{})
	h.credits.rec = credits.Reconciliation{UserID: "u1", Balance: 10, LogSum: 20}
	h.credits.recErr = fmt.Errorf("%w: balance 10, log sum 20", credits.ErrBalanceMismatch)

	rec := h.do(t, http.MethodGet, "/v1/admin/users/u1/reconcile", "admin", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["consistent"])
}

func TestNotifications_TokenFromQuery(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.RateLimitConfig{})

	req := httptest.NewRequest(http.MethodGet, "/v1/ws?token="+token(t, "u9"), nil)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u9", decode(t, rec)["subscribed"])

	// query tokens are only honoured on the websocket route
	req = httptest.NewRequest(http.MethodGet, "/v1/credits/balance?token="+token(t, "u9"), nil)
	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWriteServiceError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		code int
		msg  string
	}{
		{name: "no_credits", err: fmt.Errorf("spend: %w", credits.ErrInsufficientCredits), code: 409, msg: "insufficient credits"},
		{name: "daily", err: credits.ErrDailyBonusClaimed, code: 409, msg: "daily bonus already claimed today"},
		{name: "dup_grant", err: fmt.Errorf("update balance: %w", credits.ErrDuplicateGrant), code: 409, msg: "duplicate transaction"},
		{name: "pack_cards", err: packs.ErrInsufficientCards, code: 409, msg: "Not enough cards available to create a pack"},
		{name: "card_taken", err: packs.ErrCardUnavailable, code: 409, msg: "Card not found or already claimed"},
		{name: "pack_user", err: packs.ErrUserNotFound, code: 404, msg: "User not found"},
		{name: "user", err: users.ErrUserNotFound, code: 404, msg: "user not found"},
		{name: "job", err: jobs.ErrJobNotFound, code: 404, msg: "request not found"},
		{name: "forbidden", err: tasks.ErrForbidden, code: 403, msg: "forbidden"},
		{name: "amount", err: credits.ErrInvalidAmount, code: 400, msg: "amount must be positive"},
		{name: "busy", err: jobs.ErrQueueFull, code: 503, msg: "service busy, try again later"},
		{name: "retryable_pack", err: packs.ErrTransactionFailed, code: 500, msg: "internal error"},
		{name: "other", err: errors.New("dial tcp: refused"), code: 500, msg: "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			writeServiceError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)

			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.msg, decode(t, rec)["error"])
		})
	}
}
