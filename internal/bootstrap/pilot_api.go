package bootstrap

import (
	"time"

	"pilot_server/adapter/in/http"
	"pilot_server/config"
	"pilot_server/infra/middleware"
	"pilot_server/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

// NewAPI builds the HTTP application: webhook intake, approval endpoints,
// and health probes.
func NewAPI(cfg *config.Config) (*fiber.App, func(), error) {
	logLevel := logger.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = logger.LevelDebug
	}
	logger.Init(logger.Config{
		Level:   logLevel,
		Service: "leadpilot-api",
	})

	// Supabase signs agent tokens with ES256; JWKS serves the public keys.
	middleware.InitJWKS(cfg.SupabaseURL)

	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize dependencies")
		return nil, nil, err
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),
		ReadBufferSize:        16384,
		WriteBufferSize:       16384,

		// go-json is substantially faster than encoding/json
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		BodyLimit: 10 * 1024 * 1024,
	})

	// Global middleware stack (order matters)
	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.SecurityHeaders())
	app.Use(middleware.RequestLogger())

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,X-Request-ID",
	}))

	// Health probes (no auth)
	healthHandler := http.NewHealthHandler(deps.DB, deps.Redis, deps.MongoDB)
	healthHandler.Register(app)

	// Provider webhooks (no auth; Google and Microsoft cannot send tokens)
	webhookHandler := http.NewWebhookHandler(
		deps.Watch,
		deps.Redis,
		time.Duration(cfg.WebhookDedupeTTLSec)*time.Second,
	)
	webhookHandler.Register(app)

	// Authenticated API
	api := app.Group("/api/v1", middleware.JWTAuth(cfg.JWTSecret))

	pipelineHandler := http.NewPipelineHandler(deps.Pipeline)
	pipelineHandler.Register(api)

	return app, cleanup, nil
}
