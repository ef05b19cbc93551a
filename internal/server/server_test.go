package server

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/textwallet/internal/chain/chaintest"
	"github.com/congo-pay/textwallet/internal/config"
	"github.com/congo-pay/textwallet/internal/ledger"
	"github.com/congo-pay/textwallet/internal/logging"
	"github.com/congo-pay/textwallet/internal/messages"
	"github.com/congo-pay/textwallet/internal/metrics"
	"github.com/congo-pay/textwallet/internal/payments"
	"github.com/congo-pay/textwallet/internal/routes"
	"github.com/congo-pay/textwallet/internal/wallet"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := logging.Discard()
	gw := chaintest.New()
	token := common.HexToAddress("0xec690C24B7451B85B6167a06292e49B5DA822fBE")
	wallets := wallet.NewService(wallet.NewMemoryRepository(), gw, wallet.PlainSealer{}, wallet.Network{Name: "test", ChainID: 689, Token: token}, logger)
	store := messages.NewSQLiteStore(filepath.Join(t.TempDir(), "chat.db"), false)
	srv, err := New(routes.Deps{
		Cfg:      config.Config{AppName: "test", AppEnv: "test", AdminToken: "t"},
		Logger:   logger,
		Metrics:  metrics.New(),
		Wallets:  wallets,
		Payments: payments.NewService(wallets, gw, ledger.NewInMemory(), payments.Config{Token: token}, logger),
		Messages: store,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv
}

func TestErrorsRenderAsJSON(t *testing.T) {
	srv := newTestServer(t)

	resp, err := srv.App().Test(httptest.NewRequest(fiber.MethodGet, "/api/v1/admin/users", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "missing bearer token" || body["request_id"] == "" {
		t.Fatalf("unexpected error body %v", body)
	}
}

func TestInternalErrorsAreMasked(t *testing.T) {
	srv := newTestServer(t)
	srv.App().Get("/boom", func(c *fiber.Ctx) error { return errors.New("pq: password authentication failed") })

	resp, err := srv.App().Test(httptest.NewRequest(fiber.MethodGet, "/boom", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	var body map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode != fiber.StatusInternalServerError || body["error"] != "Internal Server Error" {
		t.Fatalf("expected masked 500, got %d %v", resp.StatusCode, body)
	}
}
