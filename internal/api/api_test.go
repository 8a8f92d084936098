package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"finance_tracker/internal/db/dbtest"
	"finance_tracker/internal/domain"
	"finance_tracker/internal/realtime"
	"finance_tracker/internal/service"
	"finance_tracker/internal/store"
	"finance_tracker/internal/utils"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const secret = "api-test-secret"

type server struct {
	router *gin.Engine
	db     *gorm.DB
	users  []domain.User
	tokens []string
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	gdb := dbtest.Open(t)
	users := dbtest.SeedUsers(t, gdb, "Alice", "Bob", "Carol")
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	logger, _ := test.NewNullLogger()
	st := store.New(gdb)
	cache := utils.NewCache(rdb)
	hub := realtime.NewHub(realtime.Config{Store: st, Cache: cache, JWTSecret: secret, Logger: logger})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	svc := service.NewTransactionService(st, service.Options{Cache: cache, Broadcaster: hub, Logger: logger})
	s := &server{
		router: NewRouter(Deps{Store: st, Transactions: svc, Cache: cache, Hub: hub, JWTSecret: secret}),
		db:     gdb,
		users:  users,
	}
	for _, u := range users {
		token, err := utils.GenerateJWT(u.ID, u.FullName, secret)
		require.NoError(t, err)
		s.tokens = append(s.tokens, token)
	}
	return s
}

func (s *server) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	return decode[ErrorBody](t, w).Error.Code
}

func groceries() map[string]any {
	return map[string]any{
		"title":           "Groceries",
		"amount":          "42.50",
		"category":        "food",
		"transactionType": "expense",
		"transactionDate": "2025-03-01",
		"description":     "weekly shop",
	}
}

func (s *server) create(t *testing.T, who int) domain.Transaction {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/transactions", s.tokens[who], groceries())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[service.MutationResult](t, w).Transaction
}

func TestRegisterAndLogin(t *testing.T) {
	s := newServer(t)
	body := map[string]string{"email": "Dave@Example.com", "full_name": "Dave", "password": "correct-horse"}

	w := s.do(t, http.MethodPost, "/api/auth/register", "", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/auth/register", "", body)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, CodeUserExists, errorCode(t, w))

	w = s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "dave@example.com", "password": "correct-horse"})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[AuthResponse](t, w)
	assert.Equal(t, "Dave", resp.User.Name)
	claims, err := utils.ParseJWT(resp.Token, secret)
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID, claims.UserID)
	assert.Equal(t, "Dave", claims.Name)

	w = s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "dave@example.com", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "nobody@example.com", "password": "whatever1"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRegisterValidation(t *testing.T) {
	s := newServer(t)
	tests := []struct {
		name string
		body map[string]string
	}{
		{"bad email", map[string]string{"email": "nope", "full_name": "X", "password": "long-enough"}},
		{"short password", map[string]string{"email": "x@example.com", "full_name": "X", "password": "short"}},
		{"blank name", map[string]string{"email": "x@example.com", "full_name": "  ", "password": "long-enough"}},
		{"missing fields", map[string]string{"email": "x@example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/api/auth/register", "", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, CodeValidation, errorCode(t, w))
		})
	}
}

func TestTransactionRoutesRequireToken(t *testing.T) {
	s := newServer(t)
	w := s.do(t, http.MethodGet, "/api/transactions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = s.do(t, http.MethodGet, "/api/transactions", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTransactionLifecycle(t *testing.T) {
	s := newServer(t)
	tx := s.create(t, 0)
	assert.Equal(t, "Groceries", tx.Title)
	assert.Equal(t, "42.5", tx.Amount.String())
	assert.Equal(t, s.users[0].ID, tx.CreatedBy)

	w := s.do(t, http.MethodGet, "/api/transactions/"+itoa(tx.ID), s.tokens[1], nil)
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode[service.TransactionDetail](t, w)
	assert.Equal(t, "Alice", detail.CreatedByName)
	require.Len(t, detail.History, 1)

	// Bob edits right after Alice: allowed, but flagged
	w = s.do(t, http.MethodPut, "/api/transactions/"+itoa(tx.ID), s.tokens[1], map[string]any{"amount": 50})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[service.MutationResult](t, w)
	assert.Equal(t, "50", res.Transaction.Amount.String())
	assert.Equal(t, "Groceries", res.Transaction.Title)
	require.NotNil(t, res.Conflict)
	assert.True(t, res.Conflict.IsConflict)
	assert.Equal(t, s.users[0].ID, res.Conflict.LastModifiedBy)

	w = s.do(t, http.MethodGet, "/api/transactions?search=grocer", s.tokens[2], nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[service.ListResult](t, w)
	require.Len(t, list.Transactions, 1)
	assert.EqualValues(t, 1, list.Pagination.TotalCount)
	assert.Equal(t, "50", list.Transactions[0].Amount.String())

	w = s.do(t, http.MethodDelete, "/api/transactions/"+itoa(tx.ID), s.tokens[2], nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/transactions/"+itoa(tx.ID), s.tokens[0], nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, CodeNotFound, errorCode(t, w))

	w = s.do(t, http.MethodDelete, "/api/transactions/"+itoa(tx.ID), s.tokens[0], nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/api/transactions/"+itoa(tx.ID)+"/history", s.tokens[0], nil)
	require.Equal(t, http.StatusOK, w.Code)
	history := decode[struct {
		History []domain.TransactionHistory `json:"history"`
	}](t, w).History
	require.Len(t, history, 3)
	assert.Equal(t, domain.ChangeDelete, history[0].ChangeType)

	w = s.do(t, http.MethodGet, "/api/transactions?search=grocer", s.tokens[2], nil)
	assert.Empty(t, decode[service.ListResult](t, w).Transactions)
}

func TestTransactionValidation(t *testing.T) {
	s := newServer(t)
	missingAmount := groceries()
	delete(missingAmount, "amount")
	badDate := groceries()
	badDate["transactionDate"] = "yesterday"
	badType := groceries()
	badType["transactionType"] = "transfer"
	negative := groceries()
	negative["amount"] = "-1"

	for name, body := range map[string]map[string]any{
		"missing amount": missingAmount,
		"bad date":       badDate,
		"bad type":       badType,
		"negative":       negative,
	} {
		t.Run(name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/api/transactions", s.tokens[0], body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, CodeValidation, errorCode(t, w))
		})
	}

	w := s.do(t, http.MethodGet, "/api/transactions/abc", s.tokens[0], nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(t, http.MethodPut, "/api/transactions/999", s.tokens[0], map[string]any{"title": "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = s.do(t, http.MethodGet, "/api/transactions/999/history", s.tokens[0], nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = s.do(t, http.MethodGet, "/api/transactions?startDate=soon", s.tokens[0], nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNotificationRoutes(t *testing.T) {
	s := newServer(t)
	s.create(t, 0)
	s.create(t, 0)

	type page struct {
		Notifications []domain.Notification `json:"notifications"`
	}
	w := s.do(t, http.MethodGet, "/api/notifications?unread=true", s.tokens[1], nil)
	require.Equal(t, http.StatusOK, w.Code)
	bobs := decode[page](t, w).Notifications
	require.Len(t, bobs, 2)
	assert.Equal(t, "Groceries", bobs[0].TransactionTitle)

	w = s.do(t, http.MethodGet, "/api/notifications", s.tokens[0], nil)
	assert.Empty(t, decode[page](t, w).Notifications, "the actor is never notified")

	// Carol cannot acknowledge Bob's notification
	w = s.do(t, http.MethodPost, "/api/notifications/"+itoa(bobs[0].ID)+"/read", s.tokens[2], nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/api/notifications/"+itoa(bobs[0].ID)+"/read", s.tokens[1], nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodGet, "/api/notifications?unread=true", s.tokens[1], nil)
	assert.Len(t, decode[page](t, w).Notifications, 1)

	w = s.do(t, http.MethodPost, "/api/notifications/read-all", s.tokens[1], nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode[map[string]any](t, w)["updated"])
	w = s.do(t, http.MethodGet, "/api/notifications?unread=true", s.tokens[1], nil)
	assert.Empty(t, decode[page](t, w).Notifications)
}

func TestAdminRoutes(t *testing.T) {
	s := newServer(t)
	w := s.do(t, http.MethodGet, "/api/admin/presence", s.tokens[1], nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	require.NoError(t, s.db.Model(&domain.User{}).Where("id = ?", s.users[0].ID).Update("role", domain.RoleAdmin).Error)

	w = s.do(t, http.MethodGet, "/api/admin/presence", s.tokens[0], nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode[map[string]any](t, w)["count"])

	w = s.do(t, http.MethodGet, "/api/admin/users?page_size=2", s.tokens[0], nil)
	require.Equal(t, http.StatusOK, w.Code)
	first := decode[UserPage](t, w)
	assert.False(t, first.Cached)
	assert.EqualValues(t, 3, first.Total)
	assert.Equal(t, 2, first.TotalPages)
	require.Len(t, first.Users, 2)
	assert.Equal(t, domain.RoleAdmin, first.Users[0].Role)

	w = s.do(t, http.MethodGet, "/api/admin/users?page_size=2", s.tokens[0], nil)
	assert.True(t, decode[UserPage](t, w).Cached)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newServer(t)
	w := s.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, w)["status"])

	s.create(t, 0)
	w = s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "finance_transaction_mutations_total")
}

func itoa(id uint) string {
	b, _ := json.Marshal(id)
	return string(b)
}
