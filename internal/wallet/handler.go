package wallet

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/textwallet/internal/logging"
)

// Handler exposes administrative wallet endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type recordResponse struct {
	Identity      string `json:"identity"`
	SignerSecret  string `json:"signer_secret"`
	SignerAddress string `json:"signer_address"`
	WalletAddress string `json:"wallet_address"`
	IsDeployed    bool   `json:"is_deployed"`
	Network       string `json:"network"`
	ChainID       int64  `json:"chain_id"`
	RegisteredAt  string `json:"registered_at"`
}

func toResponse(rec Record) recordResponse {
	return recordResponse{
		Identity:      rec.Identity,
		SignerSecret:  logging.Mask(rec.SignerSecret),
		SignerAddress: rec.SignerAddress,
		WalletAddress: rec.WalletAddress,
		IsDeployed:    rec.IsDeployed,
		Network:       rec.Network,
		ChainID:       rec.ChainID,
		RegisteredAt:  rec.RegisteredAt.Format(time.RFC3339),
	}
}

// List returns every registered identity.
func (h *Handler) List(c *fiber.Ctx) error {
	identities, err := h.service.ListIdentities(c.UserContext())
	if err != nil {
		return fiber.NewError(http.StatusServiceUnavailable, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"identities": identities,
		"count":      len(identities),
	})
}

// Get returns the record of one identity with its secret masked.
func (h *Handler) Get(c *fiber.Ctx) error {
	rec, ok, err := h.service.GetUserWallet(c.UserContext(), c.Params("identity"))
	if err != nil {
		return fiber.NewError(http.StatusServiceUnavailable, err.Error())
	}
	if !ok {
		return fiber.NewError(http.StatusNotFound, ErrNotRegistered.Error())
	}
	return c.Status(http.StatusOK).JSON(toResponse(rec))
}

// Status refreshes deployment state and native balance from the network.
func (h *Handler) Status(c *fiber.Ctx) error {
	status, err := h.service.GetWalletStatus(c.UserContext(), c.Params("identity"))
	if errors.Is(err, ErrNotRegistered) {
		return fiber.NewError(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return fiber.NewError(http.StatusBadGateway, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"wallet":  toResponse(status.Record),
		"balance": status.Balance.String(),
	})
}

// Delete unregisters an identity.
func (h *Handler) Delete(c *fiber.Ctx) error {
	removed, err := h.service.UnregisterUser(c.UserContext(), c.Params("identity"))
	if err != nil {
		return fiber.NewError(http.StatusServiceUnavailable, err.Error())
	}
	if !removed {
		return fiber.NewError(http.StatusNotFound, ErrNotRegistered.Error())
	}
	return c.SendStatus(http.StatusNoContent)
}
