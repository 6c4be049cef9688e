package httpservice

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shiro-wallet/shirod/internal/core/application"
	"github.com/shiro-wallet/shirod/internal/infrastructure/cypher"
	"github.com/shiro-wallet/shirod/internal/infrastructure/db"
	inmemoryidempotency "github.com/shiro-wallet/shirod/internal/infrastructure/idempotency/inmemory"
	"github.com/shiro-wallet/shirod/internal/interface/http/handlers"
	"github.com/shiro-wallet/shirod/internal/interface/http/middleware"
	"github.com/stretchr/testify/require"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon " +
	"abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon " +
	"abandon abandon abandon abandon abandon art"

func newTestServer(t *testing.T) *fiber.App {
	t.Helper()

	repo, err := db.NewService(db.ServiceConfig{
		DataStoreType:   "badger",
		DataStoreConfig: []interface{}{"", nil},
	})
	require.NoError(t, err)
	t.Cleanup(repo.Close)

	svc, err := application.NewService(
		application.Config{Network: "regtest", Datadir: t.TempDir()},
		repo.Seed(), repo.Wallet(), cypher.New(), nil, nil,
	)
	require.NoError(t, err)
	require.NoError(t, svc.Start())
	t.Cleanup(svc.Stop)

	return newApp(
		handlers.NewHandler("test", svc, time.Second),
		inmemoryidempotency.NewStore(nil), time.Minute,
	)
}

func call(
	t *testing.T, app *fiber.App, method, path, body string, headers ...string,
) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	// nolint
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	result := make(map[string]any)
	if len(buf) > 0 {
		require.NoError(t, json.Unmarshal(buf, &result), string(buf))
	}
	return resp, result
}

func TestWalletLifecycle(t *testing.T) {
	app := newTestServer(t)

	resp, body := call(t, app, http.MethodGet, "/wallet/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, false, body["initialized"])

	resp, body = call(t, app, http.MethodGet, "/wallet/address", "")
	require.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)
	require.Equal(t, "WALLET_NOT_INITIALIZED", body["name"])

	resp, body = call(t, app, http.MethodPut, "/keys", `{"mnemonic":"`+testMnemonic+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	fingerprint := body["fingerprint"]
	require.NotEmpty(t, fingerprint)

	resp, body = call(t, app, http.MethodPut, "/keys", `{"mnemonic":"not a mnemonic"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "INVALID_ARGUMENT", body["name"])

	initBody := `{"mnemonic":"` + testMnemonic + `","password":"password"}`
	resp, body = call(t, app, http.MethodPut, "/wallet", initBody)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, fingerprint, body["fingerprint"])
	require.Equal(t, "regtest", body["network"])

	resp, body = call(t, app, http.MethodPut, "/wallet", initBody)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "ALREADY_INITIALIZED", body["name"])

	resp, body = call(t, app, http.MethodGet, "/wallet/address", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, strings.HasPrefix(body["address"].(string), "bcrt1p"))

	resp, body = call(t, app, http.MethodGet, "/wallet/data", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, float64(0), body["utxo_count"])
	require.Nil(t, body["online"])
	require.Equal(t, "offline", body["status"].(map[string]any)["connectivity"])

	resp, body = call(t, app, http.MethodGet, "/wallet/assets", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, body["assets"])

	resp, body = call(t, app, http.MethodPut, "/wallet/invoice", `{"amount":10}`)
	require.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)
	require.Equal(t, "WALLET_OFFLINE", body["name"])

	resp, body = call(t, app, http.MethodGet, "/wallet/asset_balance/asset1unknown", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "UNKNOWN_ASSET", body["name"])

	resp, body = call(t, app, http.MethodPost, "/wallet/reconcile", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["consistent"])
}

func TestIdempotentInitialize(t *testing.T) {
	app := newTestServer(t)

	initBody := `{"mnemonic":"` + testMnemonic + `","password":"password"}`
	resp, first := call(
		t, app, http.MethodPut, "/wallet", initBody, middleware.IdempotencyKeyHeader, "init-1",
	)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// The retry is served from the idempotency store instead of failing as already initialized.
	resp, second := call(
		t, app, http.MethodPut, "/wallet", initBody, middleware.IdempotencyKeyHeader, "init-1",
	)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, first, second)
}

func TestCors(t *testing.T) {
	app := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/wallet/status", nil)
	req.Header.Set(fiber.HeaderOrigin, "http://example.com")
	req.Header.Set(fiber.HeaderAccessControlRequestMethod, http.MethodGet)
	resp, err := app.Test(req)
	require.NoError(t, err)
	// nolint
	defer resp.Body.Close()

	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, "*", resp.Header.Get(fiber.HeaderAccessControlAllowOrigin))
	require.Contains(t, resp.Header.Get(fiber.HeaderAccessControlAllowMethods), "DELETE")

	resp, _ = call(t, app, http.MethodGet, "/wallet/status", "", fiber.HeaderOrigin, "http://a.b")
	require.Equal(t, "*", resp.Header.Get(fiber.HeaderAccessControlAllowOrigin))
	require.NotEmpty(t, resp.Header.Get(middleware.RequestIDHeader))
}
