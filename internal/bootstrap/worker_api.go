package bootstrap

import (
	"context"
	"database/sql"
	"time"

	"triage_worker/adapter/in/http"
	"triage_worker/config"
	"triage_worker/infra/middleware"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/rs/zerolog"
)

// NewAPI builds the fiber app over the same pipeline the batch uses. ctx
// bounds background work such as the rate limiter cleanup.
func NewAPI(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*fiber.App, func(), error) {
	deps, cleanup, err := NewDependencies(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}

	apiLog := log.With().Str("component", "api").Logger()

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(apiLog),
		DisableStartupMessage: !cfg.IsDevelopment(),

		// go-json for request and response bodies
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		BodyLimit:    4 * 1024 * 1024,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: time.Duration(cfg.APITimeoutSec+10) * time.Second,
	})

	// Global middleware stack (order matters)
	app.Use(middleware.RequestID())
	app.Use(middleware.Recover(apiLog))
	app.Use(middleware.SecurityHeaders())
	app.Use(middleware.RequestLogger(apiLog))
	app.Use(compress.New(compress.Config{Level: compress.LevelBestSpeed}))

	classifier := "heuristic"
	if deps.Client != nil {
		classifier = "model"
	}
	var sqlDB *sql.DB
	if deps.SQLDB != nil {
		sqlDB = deps.SQLDB.DB
	}
	http.NewHealthHandler(deps.DB, sqlDB, deps.Redis, classifier, deps.Embedder != nil).Register(app)

	timeout := time.Duration(cfg.APITimeoutSec) * time.Second
	v1 := app.Group("/v1", middleware.RequireJSON())

	limiter := middleware.NewRateLimiter(ctx, cfg.APIRateLimit, time.Minute)
	var similar http.SimilarFinder
	if deps.Embedder != nil {
		similar = deps.Retriever
	}
	http.NewTriageHandler(deps.Pipeline, deps.Results, similar, timeout, log).
		RegisterRoutes(v1, limiter.Handler())
	v1.Use("/senders", middleware.MaxBodySize(64*1024))
	http.NewSenderProfileHandler(deps.Profiles, deps.ProfileWriter, cfg.DBTimeout).
		RegisterRoutes(v1)

	log.Info().Str("classifier", classifier).Msg("API server initialized")
	return app, cleanup, nil
}
