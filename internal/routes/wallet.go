package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/textwallet/internal/wallet"
)

// RegisterWalletRoutes wires the registered-user endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	r.Get("/users", h.List)
	r.Get("/users/:identity", h.Get)
	r.Get("/users/:identity/status", h.Status)
	r.Delete("/users/:identity", h.Delete)
}
