package messages

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

const defaultListLimit = 20

// Handler exposes the message log to administrators.
type Handler struct {
	store Store
}

// NewHandler builds a message log handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

type appendRequest struct {
	Identity  string `json:"identity"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// Recent lists the newest inbound messages.
func (h *Handler) Recent(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultListLimit)
	if limit <= 0 || limit > 500 {
		return fiber.NewError(http.StatusBadRequest, "limit must be between 1 and 500")
	}
	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		return fiber.NewError(http.StatusBadRequest, "offset must not be negative")
	}
	msgs, err := h.store.ReadRecent(c.UserContext(), limit, offset)
	if errors.Is(err, ErrUnavailable) {
		return fiber.NewError(http.StatusServiceUnavailable, err.Error())
	}
	if err != nil {
		return err
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"messages": msgs})
}

// Append injects an inbound message, stamped with the current time unless
// the request carries a timestamp.
func (h *Handler) Append(c *fiber.Ctx) error {
	appender, ok := h.store.(Appender)
	if !ok {
		return fiber.NewError(http.StatusConflict, ErrReadOnly.Error())
	}
	var req appendRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	req.Identity = strings.TrimSpace(req.Identity)
	if req.Identity == "" || strings.TrimSpace(req.Text) == "" {
		return fiber.NewError(http.StatusBadRequest, "identity and text are required")
	}
	if req.Timestamp <= 0 {
		req.Timestamp = time.Now().UnixNano()
	}

	msg := Message{Identity: req.Identity, Text: req.Text, Timestamp: req.Timestamp}
	err := appender.Append(c.UserContext(), msg)
	if errors.Is(err, ErrReadOnly) {
		return fiber.NewError(http.StatusConflict, err.Error())
	}
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(msg)
}
