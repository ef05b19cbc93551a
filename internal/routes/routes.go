package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/textwallet/internal/config"
	"github.com/congo-pay/textwallet/internal/messages"
	"github.com/congo-pay/textwallet/internal/metrics"
	"github.com/congo-pay/textwallet/internal/middleware"
	"github.com/congo-pay/textwallet/internal/payments"
	"github.com/congo-pay/textwallet/internal/wallet"
)

const (
	adminRequestsPerMinute = 120
	idempotencyTTL         = 24 * time.Hour
)

// Deps aggregates shared dependencies required to wire routes. DB and Cache
// are optional in development.
type Deps struct {
	Cfg      config.Config
	DB       *pgxpool.Pool
	Cache    *redis.Client
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Wallets  *wallet.Service
	Payments *payments.Service
	Messages messages.Store
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if d.Wallets == nil || d.Payments == nil || d.Messages == nil {
		return fmt.Errorf("wallets, payments and messages are required")
	}
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	if d.Cfg.AdminToken == "" {
		d.Logger.Warn("ADMIN_TOKEN not set; admin API is unauthenticated")
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger, d.Metrics))

	RegisterHealthRoutes(app, d)
	app.Get("/metrics", adaptor.HTTPHandler(d.Metrics.Handler()))

	api := app.Group("/api/v1")
	api.Get("/network", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"name":            d.Cfg.Chain.Name,
			"chain_id":        d.Cfg.Chain.ID,
			"currency":        d.Cfg.Chain.Currency,
			"explorer_url":    d.Cfg.Chain.ExplorerURL,
			"entry_point":     d.Cfg.Chain.EntryPoint,
			"account_factory": d.Cfg.Chain.AccountFactory,
			"usdc":            d.Cfg.Chain.USDCAddress,
		})
	})

	admin := api.Group("/admin",
		middleware.RateLimit(d.Cache, "admin", adminRequestsPerMinute),
		middleware.AdminToken(d.Cfg.AdminToken),
		middleware.Idempotency(d.Cache, idempotencyTTL, d.Logger),
	)
	RegisterWalletRoutes(admin, wallet.NewHandler(d.Wallets))
	RegisterPaymentRoutes(admin, payments.NewHandler(d.Payments))
	RegisterMessageRoutes(admin, messages.NewHandler(d.Messages))

	return nil
}
