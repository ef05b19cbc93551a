package messages

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func newHandlerApp(store Store) *fiber.App {
	h := NewHandler(store)
	app := fiber.New()
	app.Get("/messages", h.Recent)
	app.Post("/messages", h.Append)
	return app
}

func TestHandlerAppendAndList(t *testing.T) {
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "chat.db"), true)
	defer store.Close()
	app := newHandlerApp(store)

	req := httptest.NewRequest(fiber.MethodPost, "/messages", strings.NewReader(`{"identity":"+15551234567","text":"register","timestamp":1700000000123456789}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/messages?limit=5", nil))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var body struct {
		Messages []Message `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Messages) != 1 || body.Messages[0].Text != "register" || body.Messages[0].Timestamp != 1_700_000_000_123_456_789 {
		t.Fatalf("unexpected messages %+v", body.Messages)
	}
}

func TestHandlerRejectsInvalidInput(t *testing.T) {
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "chat.db"), true)
	defer store.Close()
	app := newHandlerApp(store)

	req := httptest.NewRequest(fiber.MethodPost, "/messages", strings.NewReader(`{"identity":" ","text":"help"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, _ := app.Test(req)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	resp, _ = app.Test(httptest.NewRequest(fiber.MethodGet, "/messages?limit=0", nil))
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", resp.StatusCode)
	}
}

type readOnlyStore struct{}

func (readOnlyStore) Available(context.Context) bool { return false }
func (readOnlyStore) ReadRecent(context.Context, int, int) ([]Message, error) {
	return nil, ErrUnavailable
}

func TestHandlerReadOnlyAndUnavailable(t *testing.T) {
	app := newHandlerApp(readOnlyStore{})

	req := httptest.NewRequest(fiber.MethodPost, "/messages", strings.NewReader(`{"identity":"+1","text":"help"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, _ := app.Test(req)
	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("expected 409 for non-appendable store, got %d", resp.StatusCode)
	}
	resp, _ = app.Test(httptest.NewRequest(fiber.MethodGet, "/messages", nil))
	if resp.StatusCode != fiber.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}

	ro := NewSQLiteStore(filepath.Join(t.TempDir(), "chat.db"), false)
	app = newHandlerApp(ro)
	req = httptest.NewRequest(fiber.MethodPost, "/messages", strings.NewReader(`{"identity":"+1","text":"help"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, _ = app.Test(req)
	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("expected 409 for read-only store, got %d", resp.StatusCode)
	}
}
