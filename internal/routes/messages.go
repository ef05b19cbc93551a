package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/textwallet/internal/messages"
)

// RegisterMessageRoutes wires the message log endpoints.
func RegisterMessageRoutes(r fiber.Router, h *messages.Handler) {
	r.Get("/messages", h.Recent)
	r.Post("/messages", h.Append)
}
