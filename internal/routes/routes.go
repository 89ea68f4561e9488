package routes

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/vcard-pay/vcard_pay/internal/auth"
	"github.com/vcard-pay/vcard_pay/internal/card"
	"github.com/vcard-pay/vcard_pay/internal/cardtype"
	"github.com/vcard-pay/vcard_pay/internal/config"
	"github.com/vcard-pay/vcard_pay/internal/funding"
	"github.com/vcard-pay/vcard_pay/internal/identity"
	"github.com/vcard-pay/vcard_pay/internal/issuer"
	"github.com/vcard-pay/vcard_pay/internal/ledger"
	"github.com/vcard-pay/vcard_pay/internal/lock"
	"github.com/vcard-pay/vcard_pay/internal/metrics"
	"github.com/vcard-pay/vcard_pay/internal/middleware"
	"github.com/vcard-pay/vcard_pay/internal/notification"
	"github.com/vcard-pay/vcard_pay/internal/ratelimit"
	"github.com/vcard-pay/vcard_pay/internal/referral"
	"github.com/vcard-pay/vcard_pay/internal/review"
	"github.com/vcard-pay/vcard_pay/internal/sysconfig"
	"github.com/vcard-pay/vcard_pay/internal/wallet"
)

const (
	loginMaxFailures = 5
	loginLockout     = 15 * time.Minute
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg     config.Config
	DB      *pgxpool.Pool
	Cache   *redis.Client
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	ctx := context.Background()

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	if d.Cfg.IsDev() {
		app.Use(logger.New(logger.Config{
			Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
			TimeFormat: "15:04:05",
			TimeZone:   "Local",
		}))
	}
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)
	if d.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(d.Metrics.Handler()))
	}

	// Storage
	var (
		ledgerBackend ledger.Ledger
		walletRepo    wallet.Repository
		identityRepo  identity.Repository
		cardRepo      card.Repository
		typeRepo      cardtype.Repository
		configStore   sysconfig.Store
	)
	if d.DB != nil {
		ledgerBackend = ledger.NewPostgresLedger(d.DB)
		walletRepo = wallet.NewPostgresRepository(d.DB)
		identityRepo = identity.NewPostgresRepository(d.DB)
		cardRepo = card.NewPostgresRepository(d.DB)
		typeRepo = cardtype.NewPostgresRepository(d.DB)
		configStore = sysconfig.NewPostgresStore(d.DB)
	} else {
		ledgerBackend = ledger.NewInMemory()
		walletRepo = wallet.NewMemoryRepository()
		identityRepo = identity.NewMemoryRepository()
		cardRepo = card.NewMemoryRepository()
		typeRepo = cardtype.NewMemoryRepository()
		configStore = sysconfig.NewMemoryStore(nil)
	}
	for _, code := range ledger.SystemAccounts {
		if err := ledgerBackend.EnsureAccount(ctx, code); err != nil {
			return fmt.Errorf("ensure %s: %w", code, err)
		}
	}

	// Coordination
	var locker lock.Locker = lock.NewMemory()
	var lockout auth.Lockout
	var rechargeLimit fiber.Handler
	if d.Cache != nil {
		locker = lock.NewRedis(d.Cache, d.Cfg.LockTTL)
		lockout = ratelimit.NewLockout(d.Cache, "login", loginMaxFailures, loginLockout)
		rechargeLimit = middleware.Throttle(ratelimit.NewThrottle(d.Cache, "recharge", ratelimit.RechargeTiers), d.Metrics, d.Logger)
	}

	var issuerClient issuer.Client
	if d.Cfg.IssuerMock {
		issuerClient = issuer.NewStatic()
	} else {
		issuerClient = issuer.NewHTTPClient(d.Cfg.IssuerBaseURL, d.Cfg.IssuerAPIKey, d.Cfg.IssuerTimeout)
	}
	issuerClient = issuer.Instrument(issuerClient, d.Metrics)

	// Services
	settings, err := sysconfig.NewService(ctx, configStore, d.Logger)
	if err != nil {
		return err
	}
	notifier := notification.NewLoggerNotifier(d.Logger)
	typeSvc := cardtype.NewService(typeRepo, d.Logger)
	identitySvc := identity.NewService(identityRepo)
	walletSvc := wallet.NewService(walletRepo, ledgerBackend)
	signer := auth.NewSigner(d.Cfg.JWTSecret, d.Cfg.AccessTTL, d.Cfg.RefreshTTL)
	authSvc := auth.NewService(identitySvc, identityRepo, signer, lockout, d.Logger)
	rewards := referral.NewService(ledgerBackend, identitySvc, settings, notifier, d.Logger)
	cardSvc := card.NewService(card.Options{
		Ledger:        ledgerBackend,
		Cards:         cardRepo,
		Types:         typeSvc,
		Issuer:        issuerClient,
		Locker:        locker,
		Referral:      rewards,
		Notifier:      notifier,
		Metrics:       d.Metrics,
		Logger:        d.Logger,
		IssuerTimeout: d.Cfg.IssuerTimeout,
	})
	fundingSvc, err := funding.NewService(ctx, ledgerBackend, settings, d.Metrics, d.Logger)
	if err != nil {
		return err
	}
	reviewSvc := review.NewService(ledgerBackend, cardSvc, typeSvc, settings, notifier, d.Metrics, d.Logger)

	// Handlers
	identityHandler := identity.NewHandler(identitySvc, walletSvc, d.Logger)
	authHandler := auth.NewHandler(authSvc)
	typeHandler := cardtype.NewHandler(typeSvc)
	configHandler := sysconfig.NewHandler(settings)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("request_id").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Public routes
	RegisterAuthRoutes(api, identityHandler, authHandler)
	api.Get("/payment-info", configHandler.PaymentInfo)
	api.Get("/card-types", typeHandler.ListPublic)

	// Protected routes
	jwt := middleware.JWTAuth(authSvc)
	admin := api.Group("/admin", jwt, middleware.RequireRole(identity.RoleAdmin))
	RegisterAdminRoutes(admin, AdminHandlers{
		Review:    review.NewHandler(reviewSvc),
		CardTypes: typeHandler,
		Config:    configHandler,
		Identity:  identityHandler,
	})

	protected := api.Group("", jwt)
	var money []fiber.Handler
	if d.Cache != nil {
		money = append(money, middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}
	RegisterIdentityRoutes(protected, identityHandler, authHandler)
	RegisterWalletRoutes(protected, wallet.NewHandler(walletSvc))
	RegisterCardRoutes(protected, card.NewHandler(cardSvc), money)
	RegisterFundingRoutes(protected, funding.NewHandler(fundingSvc), rechargeLimit, money)

	return nil
}
