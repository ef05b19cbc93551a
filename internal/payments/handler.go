package payments

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

const defaultOperationsLimit = 50

// Handler exposes the operation journal.
type Handler struct {
	service *Service
}

// NewHandler constructs a payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type operationResponse struct {
	ID            string `json:"id"`
	Kind          string `json:"kind"`
	Amount        string `json:"amount"`
	Destination   string `json:"destination"`
	OperationID   string `json:"operation_id,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// Operations lists the journaled operations of one identity, newest first.
func (h *Handler) Operations(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultOperationsLimit)
	if limit <= 0 || limit > 500 {
		return fiber.NewError(http.StatusBadRequest, "limit must be between 1 and 500")
	}
	entries, err := h.service.Operations(c.UserContext(), c.Params("identity"), limit)
	if err != nil {
		return fiber.NewError(http.StatusServiceUnavailable, err.Error())
	}

	out := make([]operationResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, operationResponse{
			ID:            e.ID,
			Kind:          string(e.Kind),
			Amount:        e.Amount.String(),
			Destination:   e.Destination,
			OperationID:   e.OperationID,
			TransactionID: e.TransactionID,
			Status:        e.Status,
			FailureReason: e.FailureReason,
			CreatedAt:     e.CreatedAt.Format(time.RFC3339),
		})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"operations": out})
}
