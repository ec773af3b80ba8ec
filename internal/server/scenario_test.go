package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/traflow/internal/auth"
	"github.com/MarcoPoloResearchLab/traflow/internal/database"
	"github.com/MarcoPoloResearchLab/traflow/internal/records"
	"github.com/MarcoPoloResearchLab/traflow/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type apiHarness struct {
	handler http.Handler
	db      *gorm.DB
}

func newAPIHarness(t *testing.T, configure ...func(*Dependencies)) apiHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "api.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	tokens, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("scenario-signing-secret"),
		Issuer:        "traflow-auth",
		Audience:      "traflow-api",
		TokenTTL:      time.Hour,
	})
	require.NoError(t, err)
	authService, err := auth.NewService(auth.ServiceConfig{Database: db, Tokens: tokens, Logger: logger, BcryptCost: 4})
	require.NoError(t, err)
	recordService, err := records.NewService(records.ServiceConfig{Database: db, Logger: logger})
	require.NoError(t, err)
	accountService, err := users.NewService(users.ServiceConfig{Database: db, Logger: logger, BcryptCost: 4})
	require.NoError(t, err)

	deps := Dependencies{
		Auth:     authService,
		Records:  recordService,
		Accounts: accountService,
		HealthCheck: func(context.Context) error {
			return database.Ping(db)
		},
		Logger:         logger,
		MetricsEnabled: true,
	}
	for _, option := range configure {
		option(&deps)
	}
	handler, err := NewHTTPHandler(deps)
	require.NoError(t, err)
	return apiHarness{handler: handler, db: db}
}

func (h apiHarness) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else if raw, ok := body.(string); ok {
		reader = bytes.NewReader([]byte(raw))
	} else {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	h.handler.ServeHTTP(recorder, request)
	return recorder
}

func (h apiHarness) register(t *testing.T, username, email, password string) grantResponse {
	t.Helper()
	recorder := h.do(t, http.MethodPost, "/auth/register", "", gin.H{"username": username, "email": email, "password": password})
	require.Equal(t, http.StatusCreated, recorder.Code, recorder.Body.String())
	var grant grantResponse
	decode(t, recorder, &grant)
	require.NotEmpty(t, grant.Token)
	return grant
}

func decode(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), target), recorder.Body.String())
}

func recordPath(id uint, suffix string) string {
	return "/records/" + strconv.FormatUint(uint64(id), 10) + suffix
}

func TestJournalScenario(t *testing.T) {
	api := newAPIHarness(t)
	alice := api.register(t, "alice", "a@x.com", "secret1")
	assert.Equal(t, "alice", alice.User.Username)

	wrong := api.do(t, http.MethodPost, "/auth/login", "", gin.H{"email": "a@x.com", "password": "wrong-password"})
	require.Equal(t, http.StatusUnauthorized, wrong.Code)

	created := api.do(t, http.MethodPost, "/records", alice.Token, gin.H{
		"reviewDate":      "2024-01-05",
		"coinSymbol":      "btc",
		"profitLossRatio": 15.5,
	})
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())
	var record records.RecordView
	decode(t, created, &record)
	assert.Equal(t, "BTC", record.CoinSymbol)

	listed := api.do(t, http.MethodGet, "/records?coin=BTC", "", nil)
	require.Equal(t, http.StatusOK, listed.Code)
	var page records.Page
	decode(t, listed, &page)
	require.Len(t, page.Items, 1)
	assert.Equal(t, record.ID, page.Items[0].ID)
	assert.Zero(t, page.Items[0].FavoriteCount)
	assert.Equal(t, int64(1), page.Total)
	assert.Equal(t, 1, page.TotalPages)

	bob := api.register(t, "bob", "b@x.com", "secret2")
	first := api.do(t, http.MethodPost, recordPath(record.ID, "/favorite"), bob.Token, nil)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	assert.JSONEq(t, `{"isFavorited":true,"favoriteCount":1}`, first.Body.String())

	second := api.do(t, http.MethodPost, recordPath(record.ID, "/favorite"), bob.Token, nil)
	require.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, `{"isFavorited":false,"favoriteCount":0}`, second.Body.String())
}

func TestDuplicateNoteOrderIsRejectedWithoutPersisting(t *testing.T) {
	api := newAPIHarness(t)
	alice := api.register(t, "alice", "a@x.com", "secret1")

	rejected := api.do(t, http.MethodPost, "/records", alice.Token, gin.H{
		"reviewDate": "2024-01-05",
		"coinSymbol": "ETH",
		"notes": []gin.H{
			{"noteOrder": 1, "noteType": "text", "content": "a"},
			{"noteOrder": 1, "noteType": "text", "content": "b"},
		},
	})
	require.Equal(t, http.StatusBadRequest, rejected.Code)
	var body map[string]string
	decode(t, rejected, &body)
	assert.Equal(t, "notes[1].noteOrder", body["field"])

	mine := api.do(t, http.MethodGet, "/records?sort=my", alice.Token, nil)
	require.Equal(t, http.StatusOK, mine.Code)
	var page records.Page
	decode(t, mine, &page)
	assert.Zero(t, page.Total)

	var stored int64
	require.NoError(t, api.db.Model(&records.Record{}).Count(&stored).Error)
	assert.Zero(t, stored)
}

func TestRecordAccessRules(t *testing.T) {
	api := newAPIHarness(t)
	alice := api.register(t, "alice", "a@x.com", "secret1")
	mallory := api.register(t, "mallory", "m@x.com", "secret3")

	created := api.do(t, http.MethodPost, "/records", alice.Token, gin.H{
		"reviewDate": "2024-01-05",
		"coinSymbol": "SOL",
		"notes":      []gin.H{{"noteOrder": 1, "noteType": "text", "content": "plan"}},
	})
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())
	var record records.RecordView
	decode(t, created, &record)

	anonymous := api.do(t, http.MethodPut, recordPath(record.ID, ""), "", gin.H{"coinSymbol": "DOGE"})
	assert.Equal(t, http.StatusUnauthorized, anonymous.Code)

	forbidden := api.do(t, http.MethodPut, recordPath(record.ID, ""), mallory.Token, gin.H{"coinSymbol": "DOGE"})
	assert.Equal(t, http.StatusForbidden, forbidden.Code)
	assert.Equal(t, http.StatusForbidden, api.do(t, http.MethodDelete, recordPath(record.ID, ""), mallory.Token, nil).Code)

	fetched := api.do(t, http.MethodGet, recordPath(record.ID, ""), "", nil)
	require.Equal(t, http.StatusOK, fetched.Code)
	var unchanged records.RecordView
	decode(t, fetched, &unchanged)
	assert.Equal(t, "SOL", unchanged.CoinSymbol)
	assert.Len(t, unchanged.Notes, 1)

	updated := api.do(t, http.MethodPut, recordPath(record.ID, ""), alice.Token, `{"coinSymbol":"doge","notes":null}`)
	require.Equal(t, http.StatusOK, updated.Code, updated.Body.String())
	var changed records.RecordView
	decode(t, updated, &changed)
	assert.Equal(t, "DOGE", changed.CoinSymbol)
	assert.Len(t, changed.Notes, 1, "null notes keep the existing notes")

	assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodPut, recordPath(record.ID, ""), alice.Token, `{"coinSymbol":`).Code)
	assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodGet, "/records/abc", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodGet, "/records/9999", "", nil).Code)

	require.Equal(t, http.StatusNoContent, api.do(t, http.MethodDelete, recordPath(record.ID, ""), alice.Token, nil).Code)
	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodGet, recordPath(record.ID, ""), "", nil).Code)
	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodPost, recordPath(record.ID, "/favorite"), mallory.Token, nil).Code)
}

func TestListingRejectsInvalidQueries(t *testing.T) {
	api := newAPIHarness(t)

	testCases := map[string]string{
		"/records?limit=0":             "limit",
		"/records?limit=101":           "limit",
		"/records?page=-1":             "page",
		"/records?sort=random":         "sort",
		"/records?dateFrom=2024-02-30": "dateFrom",
		"/records?hasAiReview=perhaps": "hasAiReview",
	}
	for path, field := range testCases {
		recorder := api.do(t, http.MethodGet, path, "", nil)
		require.Equal(t, http.StatusBadRequest, recorder.Code, path)
		var body map[string]string
		decode(t, recorder, &body)
		assert.Equal(t, field, body["field"], path)
	}
}

func TestSessionLifecycle(t *testing.T) {
	api := newAPIHarness(t)
	alice := api.register(t, "alice", "a@x.com", "secret1")

	validated := api.do(t, http.MethodGet, "/auth/validate", alice.Token, nil)
	require.Equal(t, http.StatusOK, validated.Code)
	var response userResponse
	decode(t, validated, &response)
	assert.Equal(t, "alice", response.User.Username)
	assert.NotContains(t, validated.Body.String(), "password")

	login := api.do(t, http.MethodPost, "/auth/login", "", gin.H{"email": "A@X.com", "password": "secret1"})
	require.Equal(t, http.StatusOK, login.Code, login.Body.String())
	var second grantResponse
	decode(t, login, &second)

	require.Equal(t, http.StatusNoContent, api.do(t, http.MethodPost, "/auth/logout", alice.Token, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, api.do(t, http.MethodGet, "/auth/validate", alice.Token, nil).Code)
	assert.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/auth/validate", second.Token, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, api.do(t, http.MethodGet, "/auth/validate", "", nil).Code)
}

func TestAccountEndpoints(t *testing.T) {
	api := newAPIHarness(t)
	alice := api.register(t, "alice", "a@x.com", "secret1")
	api.register(t, "bob", "b@x.com", "secret2")

	duplicate := api.do(t, http.MethodPost, "/auth/register", "", gin.H{"username": "alice", "email": "other@x.com", "password": "secret1"})
	assert.Equal(t, http.StatusBadRequest, duplicate.Code)

	taken := api.do(t, http.MethodPatch, "/users/me", alice.Token, gin.H{"username": "bob"})
	assert.Equal(t, http.StatusBadRequest, taken.Code)

	renamed := api.do(t, http.MethodPatch, "/users/me", alice.Token, gin.H{"username": "alice_trades"})
	require.Equal(t, http.StatusOK, renamed.Code, renamed.Body.String())
	var response userResponse
	decode(t, renamed, &response)
	assert.Equal(t, "alice_trades", response.User.Username)

	created := api.do(t, http.MethodPost, "/records", alice.Token, gin.H{"reviewDate": "2024-01-05", "coinSymbol": "BTC"})
	require.Equal(t, http.StatusCreated, created.Code)

	require.Equal(t, http.StatusNoContent, api.do(t, http.MethodDelete, "/users/me", alice.Token, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, api.do(t, http.MethodGet, "/auth/validate", alice.Token, nil).Code)

	listed := api.do(t, http.MethodGet, "/records", "", nil)
	require.Equal(t, http.StatusOK, listed.Code)
	var page records.Page
	decode(t, listed, &page)
	assert.Zero(t, page.Total, "records of inactive authors are hidden")
}

func TestOperationalEndpoints(t *testing.T) {
	api := newAPIHarness(t)

	assert.Equal(t, http.StatusMethodNotAllowed, api.do(t, http.MethodPatch, "/records", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodGet, "/unknown", "", nil).Code)

	health := api.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, health.Code)
	assert.JSONEq(t, `{"status":"ok"}`, health.Body.String())

	metrics := api.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, metrics.Code)
	assert.True(t, strings.Contains(metrics.Body.String(), "traflow_http_requests_total"))

	sqlDB, err := api.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
	assert.Equal(t, http.StatusServiceUnavailable, api.do(t, http.MethodGet, "/healthz", "", nil).Code)
}

func TestAuthEndpointsAreRateLimited(t *testing.T) {
	api := newAPIHarness(t, func(deps *Dependencies) {
		deps.AuthRateLimit = 0.001
		deps.AuthRateBurst = 2
	})
	credentials := gin.H{"email": "nobody@x.com", "password": "secret1"}

	assert.Equal(t, http.StatusUnauthorized, api.do(t, http.MethodPost, "/auth/login", "", credentials).Code)
	assert.Equal(t, http.StatusUnauthorized, api.do(t, http.MethodPost, "/auth/login", "", credentials).Code)
	assert.Equal(t, http.StatusTooManyRequests, api.do(t, http.MethodPost, "/auth/login", "", credentials).Code)
	assert.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/records", "", nil).Code)
}
