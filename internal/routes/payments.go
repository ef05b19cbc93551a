package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/textwallet/internal/payments"
)

// RegisterPaymentRoutes wires the operation journal.
func RegisterPaymentRoutes(r fiber.Router, h *payments.Handler) {
	r.Get("/users/:identity/operations", h.Operations)
}
