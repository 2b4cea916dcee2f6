//go:build integration

package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stustapay/stustapay-sub000/internal/config"
	"github.com/stustapay/stustapay-sub000/internal/infra"
	"github.com/stustapay/stustapay-sub000/internal/repository"
	"github.com/stustapay/stustapay-sub000/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// ── Helpers ──────────────────────────────────────────────────────────────────

type testEnv struct {
	server *httptest.Server
	token  string
	rootID int64
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

func do(t *testing.T, srv *httptest.Server, method, path string, body io.Reader, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// decodeData unwraps the {"data": ...} envelope into v.
func decodeData(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	require.NoError(t, json.Unmarshal(env.Data, v))
}

func decodeErrorID(t *testing.T, resp *http.Response) string {
	t.Helper()
	var env struct {
		Error struct {
			ID string `json:"id"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return env.Error.ID
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	pgC, err := tcPostgres.Run(ctx, "postgres:16-alpine",
		tcPostgres.WithDatabase("stustapay_test"),
		tcPostgres.WithUsername("stustapay"),
		tcPostgres.WithPassword("stustapay"),
		tcPostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(pgC) })
	pgURL, err := pgC.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	rdC, err := tcRedis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(rdC) })
	rdURL, err := rdC.ConnectionString(ctx)
	require.NoError(t, err)

	cfg := &config.Config{
		Port:               8080,
		Env:                "test",
		CORSAllowedOrigins: "*",
		APIRateLimit:       1000,
		LoginRateLimit:     20,
		JWTSecret:          "test-secret-key",
		JWTExpirationHours: 1,
		DatabaseURL:        pgURL,
		RedisURL:           rdURL,
		WorkerPoolSize:     1,
		SumUpAPIURL:        "http://localhost:9999",
		BonStoragePath:     t.TempDir(),
	}

	db, err := infra.NewDatabase(cfg.DatabaseURL)
	require.NoError(t, err)
	rdb, err := infra.NewRedis(cfg.RedisURL)
	require.NoError(t, err)

	admin, err := service.BootstrapAdmin(ctx, repository.NewStore(db), "admin", "integration-pw")
	require.NoError(t, err)

	srv := httptest.NewServer(New(cfg, db, rdb, Build(cfg, db, rdb)))
	t.Cleanup(srv.Close)

	resp := do(t, srv, http.MethodPost, "/auth/login",
		jsonBody(t, map[string]string{"username": "admin", "password": "integration-pw"}), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var login struct {
		AccessToken string `json:"access_token"`
	}
	decodeData(t, resp, &login)
	require.NotEmpty(t, login.AccessToken)

	return &testEnv{server: srv, token: login.AccessToken, rootID: admin.NodeID}
}

// ── Tests ────────────────────────────────────────────────────────────────────

func TestIntegration_HealthReportsProviders(t *testing.T) {
	env := setupTestEnv(t)

	resp := do(t, env.server, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		OK        bool              `json:"ok"`
		Providers map[string]string `json:"providers"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.OK)
	assert.Equal(t, "closed", body.Providers["sumup"])
	assert.Equal(t, "closed", body.Providers["pretix"])
}

func TestIntegration_AdminNeedsToken(t *testing.T) {
	env := setupTestEnv(t)

	resp := do(t, env.server, http.MethodGet, "/admin/tree", nil, "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Unauthorized", decodeErrorID(t, resp))

	resp = do(t, env.server, http.MethodGet, "/admin/tree", nil, "not-a-jwt")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestIntegration_EventSetup(t *testing.T) {
	env := setupTestEnv(t)

	// 1. Create an event below the root node
	resp := do(t, env.server, http.MethodPost, fmt.Sprintf("/admin/nodes/%d/events", env.rootID),
		jsonBody(t, map[string]any{
			"name":                "Festival",
			"currency_identifier": "EUR",
			"max_account_balance": "150.00",
		}), env.token)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var event struct {
		ID        int64   `json:"id"`
		ParentIDs []int64 `json:"parent_ids"`
	}
	decodeData(t, resp, &event)
	require.NotZero(t, event.ID)
	assert.Contains(t, event.ParentIDs, env.rootID)

	// 2. The event settings are readable at the event node
	resp = do(t, env.server, http.MethodGet, fmt.Sprintf("/admin/nodes/%d/event", event.ID), nil, env.token)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// 3. Tax rate at the event
	resp = do(t, env.server, http.MethodPost, fmt.Sprintf("/admin/nodes/%d/tax-rates", event.ID),
		jsonBody(t, map[string]any{"name": "ust", "rate": "0.19", "description": "regular"}), env.token)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = do(t, env.server, http.MethodGet, fmt.Sprintf("/admin/nodes/%d/tax-rates", event.ID), nil, env.token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rates []struct {
		Name string `json:"name"`
	}
	decodeData(t, resp, &rates)
	names := make([]string, 0, len(rates))
	for _, r := range rates {
		names = append(names, r.Name)
	}
	assert.Contains(t, names, "ust")

	// 4. An out of range rate is rejected by validation
	resp = do(t, env.server, http.MethodPost, fmt.Sprintf("/admin/nodes/%d/tax-rates", event.ID),
		jsonBody(t, map[string]any{"name": "broken", "rate": "1.5"}), env.token)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// 5. The audit log records the event creation
	resp = do(t, env.server, http.MethodGet, fmt.Sprintf("/admin/nodes/%d/audit-logs", env.rootID), nil, env.token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestIntegration_DeadLettersRootOnly(t *testing.T) {
	env := setupTestEnv(t)

	resp := do(t, env.server, http.MethodGet,
		fmt.Sprintf("/admin/nodes/%d/dead-letters/jobs:presale", env.rootID), nil, env.token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Total int64 `json:"total"`
	}
	decodeData(t, resp, &body)
	assert.Zero(t, body.Total)

	resp = do(t, env.server, http.MethodGet,
		fmt.Sprintf("/admin/nodes/%d/dead-letters/jobs:unknown", env.rootID), nil, env.token)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIntegration_CustomerPortalRejectsAdminToken(t *testing.T) {
	env := setupTestEnv(t)

	resp := do(t, env.server, http.MethodGet, "/customer-portal/customer", nil, env.token)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = do(t, env.server, http.MethodPost, "/customer-portal/auth/login",
		jsonBody(t, map[string]string{"pin": "NO-SUCH-PIN"}), "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
