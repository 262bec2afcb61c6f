package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/wedogs/backend/internal/auth"
	"github.com/wedogs/backend/internal/http/dto"
	"github.com/wedogs/backend/internal/middleware"
	"github.com/wedogs/backend/internal/models"
	"github.com/wedogs/backend/internal/services"
	"go.uber.org/zap"
)

type donationRecorder interface {
	Record(ctx context.Context, req services.RecordRequest) (*services.Receipt, error)
}

type progressionProjector interface {
	Project(ctx context.Context, donorID uuid.UUID) (*models.Snapshot, error)
}

type DonationHandler struct {
	donationService    donationRecorder
	progressionService progressionProjector
	log                *zap.Logger
}

func NewDonationHandler(donationService donationRecorder, progressionService progressionProjector, log *zap.Logger) *DonationHandler {
	return &DonationHandler{donationService: donationService, progressionService: progressionService, log: log}
}

// RecordDonation answers as soon as the donation is stored. A 202 means the
// rail has not confirmed it yet; clients follow the websocket for updates.
func (h *DonationHandler) RecordDonation(c *fiber.Ctx) error {
	var body dto.RecordDonationRequest
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "invalid request")
	}

	req, err := toRecordRequest(body)
	if err != nil {
		return badRequest(c, err.Error())
	}
	if middleware.GetRole(c) == auth.RoleDonor {
		donorID := middleware.GetSubjectID(c)
		req.DonorID = &donorID
	}

	receipt, err := h.donationService.Record(c.UserContext(), req)
	if err != nil {
		return respondError(c, h.log, err)
	}

	status := fiber.StatusCreated
	if receipt.Duplicate {
		status = fiber.StatusOK
	}
	if receipt.Syncing && !receipt.Duplicate {
		status = fiber.StatusAccepted
	}
	return c.Status(status).JSON(dto.SuccessResponse{OK: true, Data: receipt})
}

func (h *DonationHandler) GetProgression(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid donor id")
	}

	snap, err := h.progressionService.Project(c.UserContext(), id)
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: snap})
}

func toRecordRequest(body dto.RecordDonationRequest) (services.RecordRequest, error) {
	var req services.RecordRequest

	rail, err := models.ParseRail(body.Rail)
	if err != nil {
		return req, err
	}
	amount, err := decimal.NewFromString(body.Amount)
	if err != nil {
		return req, errInvalidField("amount")
	}
	campaignID, err := uuid.Parse(body.CampaignID)
	if err != nil {
		return req, errInvalidField("campaign_id")
	}

	req = services.RecordRequest{
		Rail:         rail,
		Amount:       amount,
		Asset:        body.Asset,
		CampaignID:   campaignID,
		TxHash:       body.TxHash,
		DonorAddress: body.DonorAddress,
	}
	if body.FiatValue != nil {
		fiat, err := decimal.NewFromString(*body.FiatValue)
		if err != nil {
			return req, errInvalidField("fiat_value")
		}
		req.FiatValue = &fiat
	}
	return req, nil
}

type errInvalidField string

func (e errInvalidField) Error() string {
	return "invalid " + string(e)
}
