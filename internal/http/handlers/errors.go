package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/wedogs/backend/internal/http/dto"
	"github.com/wedogs/backend/internal/middleware"
	"github.com/wedogs/backend/internal/services"
	"go.uber.org/zap"
)

// Checked in order; an invalid donation wrapping ErrCampaignNotFound is a 400.
var errorTable = []struct {
	err    error
	status int
	code   string
}{
	{services.ErrInvalidDonation, fiber.StatusBadRequest, "invalid_donation"},
	{services.ErrInvalidCampaign, fiber.StatusBadRequest, "invalid_campaign"},
	{services.ErrCampaignNotFound, fiber.StatusNotFound, "campaign_not_found"},
	{services.ErrDonorNotFound, fiber.StatusNotFound, "donor_not_found"},
	{services.ErrForbidden, fiber.StatusForbidden, "forbidden"},
	{services.ErrEscrowAlreadyLinked, fiber.StatusConflict, "escrow_already_linked"},
	{services.ErrIntegrity, fiber.StatusUnprocessableEntity, "integrity_error"},
	{services.ErrPersistence, fiber.StatusServiceUnavailable, "persistence_failed"},
}

func classify(err error) (int, string) {
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			return e.status, e.code
		}
	}
	return fiber.StatusInternalServerError, "internal"
}

func statusFor(err error) int {
	status, _ := classify(err)
	return status
}

// respondError writes the error envelope. Messages of 5xx responses never
// reach the client; they are logged with the request id instead.
func respondError(c *fiber.Ctx, log *zap.Logger, err error) error {
	status, code := classify(err)
	reqID := middleware.GetRequestID(c)

	msg := err.Error()
	if status >= fiber.StatusInternalServerError {
		log.Error("request failed", zap.String("request_id", reqID), zap.String("code", code), zap.Error(err))
		msg = "internal error"
		if status == fiber.StatusServiceUnavailable {
			msg = services.ErrPersistence.Error()
		}
	}
	return c.Status(status).JSON(dto.ErrorResponse{Error: msg, Code: code, RequestID: reqID})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
		Error:     msg,
		Code:      "bad_request",
		RequestID: middleware.GetRequestID(c),
	})
}
