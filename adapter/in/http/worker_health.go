package http

import (
	"context"
	"database/sql"
	"time"

	"triage_worker/pkg/metrics"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

type HealthHandler struct {
	db         *pgxpool.Pool
	sqlDB      *sql.DB
	redis      *redis.Client
	classifier string
	embeddings bool
}

// NewHealthHandler reports on the optional stores. classifier names the
// primary classification path ("model" or "heuristic").
func NewHealthHandler(db *pgxpool.Pool, sqlDB *sql.DB, redis *redis.Client, classifier string, embeddings bool) *HealthHandler {
	return &HealthHandler{
		db:         db,
		sqlDB:      sqlDB,
		redis:      redis,
		classifier: classifier,
		embeddings: embeddings,
	}
}

func (h *HealthHandler) Register(app *fiber.App) {
	app.Get("/health", h.Health)
	app.Get("/ready", h.Ready)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	pools := make(map[string]metrics.PoolHealth)
	allHealthy := true

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			checks["postgres"] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			checks["postgres"] = "healthy"
		}
		pools["pgx"] = metrics.PgxPoolHealth(h.db)
	} else {
		checks["postgres"] = "not configured"
	}

	if h.sqlDB != nil {
		pools["sql"] = metrics.SQLPoolHealth(h.sqlDB)
	}
	for _, p := range pools {
		if p.Status == metrics.PoolUnhealthy {
			allHealthy = false
		}
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			checks["redis"] = "healthy"
		}
	} else {
		checks["redis"] = "not configured"
	}

	checks["classifier"] = h.classifier
	if h.embeddings {
		checks["embeddings"] = "enabled"
	} else {
		checks["embeddings"] = "disabled"
	}

	status := "ready"
	statusCode := fiber.StatusOK
	if !allHealthy {
		status = "not ready"
		statusCode = fiber.StatusServiceUnavailable
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"status":    status,
		"checks":    checks,
		"pools":     pools,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
