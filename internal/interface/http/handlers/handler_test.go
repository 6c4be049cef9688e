package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shiro-wallet/shirod/internal/core/application"
	"github.com/shiro-wallet/shirod/internal/core/domain"
	"github.com/shiro-wallet/shirod/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockService struct {
	mock.Mock
	events chan application.TransferEvent
}

func newMockService() *mockService {
	return &mockService{events: make(chan application.TransferEvent, 10)}
}

func (m *mockService) Start() error { return nil }
func (m *mockService) Stop()        {}

func (m *mockService) GenerateKeys(ctx context.Context) (*application.KeysInfo, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*application.KeysInfo), args.Error(1)
}

func (m *mockService) RestoreKeys(
	ctx context.Context, mnemonic string,
) (*application.KeysInfo, error) {
	args := m.Called(ctx, mnemonic)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*application.KeysInfo), args.Error(1)
}

func (m *mockService) Initialize(
	ctx context.Context, mnemonic, password string,
) (*domain.WalletIdentity, error) {
	args := m.Called(ctx, mnemonic, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.WalletIdentity), args.Error(1)
}

func (m *mockService) Unlock(ctx context.Context, password string) error {
	return m.Called(ctx, password).Error(0)
}

func (m *mockService) GetStatus(ctx context.Context) application.WalletStatus {
	return m.Called(ctx).Get(0).(application.WalletStatus)
}

func (m *mockService) GetData(ctx context.Context) (*application.WalletData, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*application.WalletData), args.Error(1)
}

func (m *mockService) GoOnline(
	ctx context.Context, chainURL, relayURL string,
) (*domain.ConnectivityHandle, error) {
	args := m.Called(ctx, chainURL, relayURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ConnectivityHandle), args.Error(1)
}

func (m *mockService) GoOffline(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockService) GetAddress(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *mockService) CreateUtxos(
	ctx context.Context, req application.CreateUtxosRequest,
) (*domain.Transfer, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Transfer), args.Error(1)
}

func (m *mockService) ListUnspents(
	ctx context.Context, includeSpent bool,
) ([]application.Unspent, error) {
	args := m.Called(ctx, includeSpent)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]application.Unspent), args.Error(1)
}

func (m *mockService) Issue(
	ctx context.Context, req application.IssueRequest,
) (*domain.AssetContract, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AssetContract), args.Error(1)
}

func (m *mockService) ListAssets(ctx context.Context) ([]application.AssetInfo, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]application.AssetInfo), args.Error(1)
}

func (m *mockService) GetAssetBalance(
	ctx context.Context, assetID string,
) (*domain.Balance, error) {
	args := m.Called(ctx, assetID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Balance), args.Error(1)
}

func (m *mockService) CreateInvoice(
	ctx context.Context, assetID string, amount uint64,
) (*application.InvoiceInfo, error) {
	args := m.Called(ctx, assetID, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*application.InvoiceInfo), args.Error(1)
}

func (m *mockService) Send(
	ctx context.Context, req application.SendRequest,
) (*domain.Transfer, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Transfer), args.Error(1)
}

func (m *mockService) DrainTo(
	ctx context.Context, address string, feeRate uint64,
) (*domain.Transfer, error) {
	args := m.Called(ctx, address, feeRate)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Transfer), args.Error(1)
}

func (m *mockService) Refresh(ctx context.Context) (*application.RefreshReport, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*application.RefreshReport), args.Error(1)
}

func (m *mockService) ListTransfers(
	ctx context.Context, assetID string,
) ([]domain.Transfer, error) {
	args := m.Called(ctx, assetID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Transfer), args.Error(1)
}

func (m *mockService) GetTransfer(
	ctx context.Context, transferID string,
) (*domain.Transfer, error) {
	args := m.Called(ctx, transferID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Transfer), args.Error(1)
}

func (m *mockService) CancelTransfer(
	ctx context.Context, transferID string,
) (*domain.Transfer, error) {
	args := m.Called(ctx, transferID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Transfer), args.Error(1)
}

func (m *mockService) DeleteTransfers(ctx context.Context, transferIDs []string) (int, error) {
	args := m.Called(ctx, transferIDs)
	return args.Int(0), args.Error(1)
}

func (m *mockService) Reconcile(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockService) GetTransferEventsChannel(
	ctx context.Context,
) <-chan application.TransferEvent {
	return m.events
}

func newTestApp(t *testing.T, svc *mockService) (*fiber.App, *Handler) {
	t.Helper()
	t.Cleanup(func() { close(svc.events) })

	h := NewHandler("test", svc, time.Second)
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	h.Register(app)
	return app, h
}

func doRequest(
	t *testing.T, app *fiber.App, method, path, body string,
) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
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
	return resp.StatusCode, result
}

var testTransfer = domain.Transfer{
	ID:               "transfer-1",
	Kind:             domain.TransferKindAsset,
	Direction:        domain.Outgoing,
	AssetID:          "asset1abc",
	Amount:           300,
	Status:           domain.TransferBroadcast,
	RecipientInvoice: "shiro:invoice",
	Inputs:           []domain.Outpoint{{Txid: strings.Repeat("ab", 32), VOut: 1}},
	Txid:             strings.Repeat("cd", 32),
	CreatedAt:        1_700_000_000,
	UpdatedAt:        1_700_000_010,
}

func TestHandlers(t *testing.T) {
	t.Run("healthz", func(t *testing.T) {
		svc := newMockService()
		svc.On("GetStatus", mock.Anything).Return(application.WalletStatus{
			IsInitialized: true,
			Connectivity:  domain.Offline,
		})
		app, _ := newTestApp(t, svc)

		status, body := doRequest(t, app, http.MethodGet, "/healthz", "")
		require.Equal(t, http.StatusOK, status)
		require.Equal(t, "test", body["version"])
		walletStatus := body["status"].(map[string]any)
		require.Equal(t, true, walletStatus["initialized"])
		require.Equal(t, false, walletStatus["unlocked"])
		require.Equal(t, "offline", walletStatus["connectivity"])
	})

	t.Run("keys", func(t *testing.T) {
		svc := newMockService()
		keys := &application.KeysInfo{
			Mnemonic:    "abandon art",
			AccountXpub: "tpub",
			Fingerprint: "73c5da0a",
		}
		svc.On("GenerateKeys", mock.Anything).Return(keys, nil)
		svc.On("RestoreKeys", mock.Anything, "abandon art").Return(keys, nil)
		app, _ := newTestApp(t, svc)

		status, body := doRequest(t, app, http.MethodPost, "/keys", "")
		require.Equal(t, http.StatusCreated, status)
		require.Equal(t, "abandon art", body["mnemonic"])
		require.Equal(t, "73c5da0a", body["fingerprint"])

		status, body = doRequest(t, app, http.MethodPut, "/keys", `{"mnemonic":"abandon art"}`)
		require.Equal(t, http.StatusOK, status)
		require.Equal(t, "tpub", body["account_xpub"])

		status, body = doRequest(t, app, http.MethodPut, "/keys", `{}`)
		require.Equal(t, http.StatusBadRequest, status)
		require.Equal(t, "missing mnemonic", body["message"])
	})

	t.Run("initialize", func(t *testing.T) {
		svc := newMockService()
		svc.On("Initialize", mock.Anything, "abandon art", "pass").Return(
			&domain.WalletIdentity{IssuerKey: "02aa", Network: "regtest"}, nil,
		).Once()
		svc.On("Initialize", mock.Anything, "abandon art", "pass").Return(
			nil, errors.ALREADY_INITIALIZED.New("wallet already initialized"),
		)
		app, _ := newTestApp(t, svc)

		body := `{"mnemonic":"abandon art","password":"pass"}`
		status, resp := doRequest(t, app, http.MethodPut, "/wallet", body)
		require.Equal(t, http.StatusCreated, status)
		require.Equal(t, "02aa", resp["issuer_key"])

		status, resp = doRequest(t, app, http.MethodPut, "/wallet", body)
		require.Equal(t, http.StatusConflict, status)
		require.Equal(t, "ALREADY_INITIALIZED", resp["name"])
		require.Equal(t, float64(errors.ALREADY_INITIALIZED.Code), resp["code"])
	})

	t.Run("send", func(t *testing.T) {
		svc := newMockService()
		req := application.SendRequest{
			AssetID: "asset1abc",
			Amount:  300,
			Invoice: "shiro:invoice",
		}
		svc.On("Send", mock.Anything, req).Return(&testTransfer, nil).Once()
		svc.On("Send", mock.Anything, req).Return(
			nil, errors.INSUFFICIENT_FUNDS.New("not enough asset").WithMetadata(
				errors.InsufficientFundsMetadata{
					AssetID: "asset1abc", Requested: 300, Available: 0,
				},
			),
		)
		app, _ := newTestApp(t, svc)

		body := `{"asset_id":"asset1abc","amount":300,"invoice":"shiro:invoice"}`
		status, resp := doRequest(t, app, http.MethodPost, "/wallet/send", body)
		require.Equal(t, http.StatusOK, status)
		require.Equal(t, "transfer-1", resp["id"])
		require.Equal(t, "broadcast", resp["status"])
		require.Equal(t, "shiro:invoice", resp["invoice"])
		require.Len(t, resp["inputs"], 1)

		status, resp = doRequest(t, app, http.MethodPost, "/wallet/send", body)
		require.Equal(t, http.StatusPreconditionFailed, status)
		require.Equal(t, "INSUFFICIENT_FUNDS", resp["name"])
		metadata := resp["metadata"].(map[string]any)
		require.Equal(t, "300", metadata["requested"])
		require.Equal(t, "0", metadata["available"])

		status, resp = doRequest(t, app, http.MethodPost, "/wallet/send", `{"amount":1}`)
		require.Equal(t, http.StatusBadRequest, status)
		require.Equal(t, "missing invoice", resp["message"])

		status, _ = doRequest(t, app, http.MethodPost, "/wallet/send", `{"amount":`)
		require.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("typed errors", func(t *testing.T) {
		fixtures := []struct {
			err    error
			status int
			name   string
		}{
			{errors.WALLET_OFFLINE.New("offline"), http.StatusPreconditionFailed, "WALLET_OFFLINE"},
			{errors.WALLET_LOCKED.New("locked"), http.StatusPreconditionFailed, "WALLET_LOCKED"},
			{
				errors.UNKNOWN_ASSET.New("unknown").
					WithMetadata(errors.AssetMetadata{AssetID: "asset1x"}),
				http.StatusNotFound, "UNKNOWN_ASSET",
			},
			{
				errors.NETWORK_TIMEOUT.New("timeout").
					WithMetadata(errors.TimeoutMetadata{Operation: "balance"}),
				http.StatusGatewayTimeout, "NETWORK_TIMEOUT",
			},
			{
				errors.LINK_UNAVAILABLE.New("down").
					WithMetadata(errors.LinkMetadata{Endpoint: "http://x"}),
				http.StatusServiceUnavailable, "LINK_UNAVAILABLE",
			},
			{
				errors.RELAY_REJECTED.New("rejected").
					WithMetadata(errors.RelayRejectedMetadata{TransferID: "t", Reason: "r"}),
				http.StatusConflict, "RELAY_REJECTED",
			},
			{errors.INTERNAL_ERROR.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
			{io.ErrUnexpectedEOF, http.StatusInternalServerError, "INTERNAL_ERROR"},
		}
		for _, f := range fixtures {
			t.Run(f.name, func(t *testing.T) {
				svc := newMockService()
				svc.On("GetAssetBalance", mock.Anything, "asset1x").Return(nil, f.err)
				app, _ := newTestApp(t, svc)

				status, resp := doRequest(
					t, app, http.MethodGet, "/wallet/asset_balance/asset1x", "",
				)
				require.Equal(t, f.status, status)
				require.Equal(t, f.name, resp["name"])
			})
		}
	})

	t.Run("asset balance", func(t *testing.T) {
		svc := newMockService()
		svc.On("GetAssetBalance", mock.Anything, "asset1abc").Return(&domain.Balance{
			Settled: 1000, Pending: 50, Spendable: 300, Future: 850,
		}, nil)
		app, _ := newTestApp(t, svc)

		status, resp := doRequest(t, app, http.MethodGet, "/wallet/asset_balance/asset1abc", "")
		require.Equal(t, http.StatusOK, status)
		require.Equal(t, float64(1000), resp["settled"])
		require.Equal(t, float64(50), resp["pending"])
		require.Equal(t, float64(300), resp["spendable"])
		require.Equal(t, float64(850), resp["future"])
	})

	t.Run("unspents", func(t *testing.T) {
		svc := newMockService()
		outpoint := domain.Outpoint{Txid: strings.Repeat("ab", 32), VOut: 0}
		svc.On("ListUnspents", mock.Anything, true).Return([]application.Unspent{{
			Utxo: domain.Utxo{Outpoint: outpoint, Amount: 1000, Confirmed: true},
			Allocations: []domain.AssetAllocation{
				{AssetID: "asset1abc", Outpoint: outpoint, Amount: 700},
			},
		}}, nil)
		app, _ := newTestApp(t, svc)

		status, resp := doRequest(
			t, app, http.MethodGet, "/wallet/unspents?include_spent=true", "",
		)
		require.Equal(t, http.StatusOK, status)
		unspents := resp["unspents"].([]any)
		require.Len(t, unspents, 1)
		unspent := unspents[0].(map[string]any)
		require.Equal(t, outpoint.String(), unspent["outpoint"])
		allocations := unspent["allocations"].([]any)
		require.Len(t, allocations, 1)
		require.Equal(t, float64(700), allocations[0].(map[string]any)["amount"])
	})

	t.Run("transfers", func(t *testing.T) {
		svc := newMockService()
		svc.On("ListTransfers", mock.Anything, "asset1abc").
			Return([]domain.Transfer{testTransfer}, nil)
		svc.On("GetTransfer", mock.Anything, "transfer-1").Return(&testTransfer, nil)
		svc.On("GetTransfer", mock.Anything, "missing").Return(
			nil, errors.UNKNOWN_TRANSFER.New("not found").
				WithMetadata(errors.TransferMetadata{TransferID: "missing"}),
		)
		svc.On("DeleteTransfers", mock.Anything, []string{"a", "b"}).Return(2, nil)
		svc.On("DeleteTransfers", mock.Anything, []string(nil)).Return(5, nil)
		app, _ := newTestApp(t, svc)

		status, resp := doRequest(t, app, http.MethodGet, "/wallet/transfers?asset_id=asset1abc", "")
		require.Equal(t, http.StatusOK, status)
		require.Len(t, resp["transfers"], 1)

		status, resp = doRequest(t, app, http.MethodGet, "/wallet/transfers/transfer-1", "")
		require.Equal(t, http.StatusOK, status)
		require.Equal(t, testTransfer.Txid, resp["txid"])

		status, resp = doRequest(t, app, http.MethodGet, "/wallet/transfers/missing", "")
		require.Equal(t, http.StatusNotFound, status)
		require.Equal(t, "missing", resp["metadata"].(map[string]any)["transfer_id"])

		status, resp = doRequest(
			t, app, http.MethodDelete, "/wallet/transfers", `{"transfer_ids":["a","b"]}`,
		)
		require.Equal(t, http.StatusOK, status)
		require.Equal(t, float64(2), resp["deleted"])

		status, resp = doRequest(t, app, http.MethodDelete, "/wallet/transfers", "")
		require.Equal(t, http.StatusOK, status)
		require.Equal(t, float64(5), resp["deleted"])
	})

	t.Run("refresh", func(t *testing.T) {
		svc := newMockService()
		svc.On("Refresh", mock.Anything).Return(&application.RefreshReport{
			Updates: []application.TransferUpdate{{
				TransferID: "transfer-1",
				From:       domain.TransferBroadcast,
				To:         domain.TransferConfirming,
			}},
			NewUtxos: 1,
		}, nil)
		app, _ := newTestApp(t, svc)

		status, resp := doRequest(t, app, http.MethodPost, "/wallet/refresh", "")
		require.Equal(t, http.StatusOK, status)
		require.Equal(t, float64(1), resp["new_utxos"])
		require.Equal(t, false, resp["incomplete"])
		update := resp["updates"].([]any)[0].(map[string]any)
		require.Equal(t, "confirming", update["to"])
	})

	t.Run("go online", func(t *testing.T) {
		svc := newMockService()
		svc.On("GoOnline", mock.Anything, "http://esplora", "rgbhttpjsonrpc:http://relay").
			Return(&domain.ConnectivityHandle{
				ID:          "handle-1",
				ChainURL:    "http://esplora",
				RelayURL:    "rgbhttpjsonrpc:http://relay",
				ConnectedAt: time.Unix(1_700_000_000, 0),
			}, nil)
		app, _ := newTestApp(t, svc)

		body := `{"chain_url":"http://esplora","relay_url":"rgbhttpjsonrpc:http://relay"}`
		status, resp := doRequest(t, app, http.MethodPut, "/wallet/go_online", body)
		require.Equal(t, http.StatusOK, status)
		require.Equal(t, "handle-1", resp["id"])
		require.Equal(t, float64(1_700_000_000), resp["connected_at"])

		status, _ = doRequest(t, app, http.MethodPut, "/wallet/go_online", `{"chain_url":"x"}`)
		require.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("unknown route", func(t *testing.T) {
		app, _ := newTestApp(t, newMockService())

		status, resp := doRequest(t, app, http.MethodGet, "/wallet/nope", "")
		require.Equal(t, http.StatusNotFound, status)
		require.Equal(t, "Not Found", resp["name"])
	})
}

func TestListenToEvents(t *testing.T) {
	svc := newMockService()
	_, h := newTestApp(t, svc)

	byAsset := newListener[transferEvent]("by-asset", []string{"asset1abc"})
	other := newListener[transferEvent]("other", []string{"asset1other"})
	h.eventsBroker.pushListener(byAsset)
	h.eventsBroker.pushListener(other)

	svc.events <- application.TransferEvent{
		Transfer: testTransfer,
		From:     domain.TransferBlinded,
	}

	select {
	case ev := <-byAsset.ch:
		require.Equal(t, "transfer-1", ev.Transfer.ID)
		require.Equal(t, "blinded", ev.From)
		require.Equal(t, "broadcast", ev.Transfer.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("event not received")
	}
	require.Empty(t, other.ch)
}
