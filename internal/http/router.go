package http

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/wedogs/backend/internal/auth"
	"github.com/wedogs/backend/internal/config"
	"github.com/wedogs/backend/internal/http/handlers"
	"github.com/wedogs/backend/internal/middleware"
	"go.uber.org/zap"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb redis.Cmdable,
	campaignHandler *handlers.CampaignHandler,
	donationHandler *handlers.DonationHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.AllowedOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api/v1")
	api.Use(middleware.RateLimitMiddleware(rdb, "api", cfg.RateLimitRPM, time.Minute))

	// Public reads
	api.Get("/campaigns", campaignHandler.ListCampaigns)
	api.Get("/campaigns/:id", campaignHandler.GetCampaign)
	api.Get("/campaigns/:id/transactions", campaignHandler.GetTransactions)
	api.Get("/campaigns/:id/balances", campaignHandler.GetBalances)
	api.Get("/donors/:id/progression", donationHandler.GetProgression)

	// Guests may donate; a donor token attributes the donation.
	api.Post("/donations", middleware.OptionalAuthMiddleware(cfg.JWTSecret, log), donationHandler.RecordDonation)

	// Care providers
	provider := api.Group("",
		middleware.AuthMiddleware(cfg.JWTSecret, log),
		middleware.RequireRole(auth.RoleCareProvider),
	)
	provider.Post("/campaigns", campaignHandler.CreateCampaign)
	provider.Post("/campaigns/:id/escrow", campaignHandler.LinkEscrow)
	provider.Get("/campaigns/:id/audit", campaignHandler.GetAuditTrail)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
