package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/wedogs/backend/internal/http/dto"
	"github.com/wedogs/backend/internal/middleware"
	"github.com/wedogs/backend/internal/models"
	"github.com/wedogs/backend/internal/repositories"
	"github.com/wedogs/backend/internal/services"
	"go.uber.org/zap"
)

const maxPageSize = 100

type CampaignHandler struct {
	campaignService *services.CampaignService
	log             *zap.Logger
}

func NewCampaignHandler(campaignService *services.CampaignService, log *zap.Logger) *CampaignHandler {
	return &CampaignHandler{campaignService: campaignService, log: log}
}

func (h *CampaignHandler) CreateCampaign(c *fiber.Ctx) error {
	var req dto.CreateCampaignRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}

	goal, err := decimal.NewFromString(req.GoalFiat)
	if err != nil {
		return badRequest(c, "goal_fiat must be a decimal")
	}

	campaign := &models.Campaign{
		Title:          req.Title,
		GoalFiat:       goal,
		InstantAddress: req.InstantAddress,
	}
	if req.DogID != nil {
		dogID, err := uuid.Parse(*req.DogID)
		if err != nil {
			return badRequest(c, "invalid dog id")
		}
		campaign.DogID = &dogID
	}

	if err := h.campaignService.Create(c.UserContext(), middleware.GetSubjectID(c), campaign); err != nil {
		return respondError(c, h.log, err)
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: campaign})
}

func (h *CampaignHandler) GetCampaign(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid campaign id")
	}

	campaign, err := h.campaignService.GetByID(c.UserContext(), id)
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: campaign})
}

func (h *CampaignHandler) ListCampaigns(c *fiber.Ctx) error {
	filter := repositories.CampaignFilter{
		Limit:  20,
		Offset: 0,
	}

	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = min(n, maxPageSize)
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filter.Offset = n
		}
	}
	if v := c.Query("status"); v != "" {
		filter.Status = &v
	}
	if v := c.Query("care_provider_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return badRequest(c, "invalid care provider id")
		}
		filter.CareProviderID = &id
	}

	campaigns, err := h.campaignService.List(c.UserContext(), filter)
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: campaigns})
}

func (h *CampaignHandler) GetTransactions(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid campaign id")
	}
	opts, err := services.ParseSort(c.Query("sort"), c.Query("order"))
	if err != nil {
		return badRequest(c, err.Error())
	}

	agg, err := h.campaignService.Transactions(c.UserContext(), id, opts)
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: agg})
}

func (h *CampaignHandler) GetBalances(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid campaign id")
	}

	balances, err := h.campaignService.Balances(c.UserContext(), id)
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: balances})
}

func (h *CampaignHandler) LinkEscrow(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid campaign id")
	}

	var req dto.LinkEscrowRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}

	campaign, err := h.campaignService.LinkEscrow(c.UserContext(), id, req.ContractID, middleware.GetSubjectID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: campaign})
}

// GetAuditTrail serves the owning care provider's view of a campaign's
// audit entries.
func (h *CampaignHandler) GetAuditTrail(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid campaign id")
	}
	limit := min(c.QueryInt("limit", 50), maxPageSize)
	offset := max(c.QueryInt("offset", 0), 0)

	trail, err := h.campaignService.AuditTrail(c.UserContext(), id, middleware.GetSubjectID(c), limit, offset)
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: trail})
}
