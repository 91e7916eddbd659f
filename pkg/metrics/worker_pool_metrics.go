// Package metrics provides prometheus collectors and pool health checks.
package metrics

import (
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// PoolHealthStatus indicates the health of a connection pool.
type PoolHealthStatus string

const (
	PoolHealthy   PoolHealthStatus = "healthy"
	PoolDegraded  PoolHealthStatus = "degraded"
	PoolUnhealthy PoolHealthStatus = "unhealthy"
)

// PoolHealth represents the health assessment of a pool.
type PoolHealth struct {
	Status      PoolHealthStatus `json:"status"`
	Utilization float64          `json:"utilization"` // 0.0 - 1.0
	Message     string           `json:"message,omitempty"`
}

// AssessPoolHealth grades a pool by utilization and accumulated wait time.
func AssessPoolHealth(inUse, maxConns int, waitCount int64, waitDuration time.Duration) PoolHealth {
	if maxConns == 0 {
		return PoolHealth{Status: PoolHealthy, Message: "unlimited connections"}
	}

	utilization := float64(inUse) / float64(maxConns)

	var status PoolHealthStatus
	var message string

	switch {
	case utilization >= 0.95:
		status = PoolUnhealthy
		message = "pool nearly exhausted"
	case utilization >= 0.80:
		status = PoolDegraded
		message = "high pool utilization"
	default:
		status = PoolHealthy
		message = "pool operating normally"
	}

	if waitCount > 0 && waitDuration > 5*time.Second {
		if status == PoolHealthy {
			status = PoolDegraded
		}
		message = "elevated connection wait times"
	}

	return PoolHealth{Status: status, Utilization: utilization, Message: message}
}

// SQLPoolHealth assesses a database/sql pool (the sqlx side).
func SQLPoolHealth(db *sql.DB) PoolHealth {
	s := db.Stats()
	return AssessPoolHealth(s.InUse, s.MaxOpenConnections, s.WaitCount, s.WaitDuration)
}

// PgxPoolHealth assesses a pgxpool pool.
func PgxPoolHealth(pool *pgxpool.Pool) PoolHealth {
	s := pool.Stat()
	return AssessPoolHealth(int(s.AcquiredConns()), int(s.MaxConns()), s.EmptyAcquireCount(), s.AcquireDuration())
}

// RegisterSQLPool exports database/sql pool statistics under the given name.
func RegisterSQLPool(name string, db *sql.DB) {
	err := prometheus.Register(collectors.NewDBStatsCollector(db, name))
	var are prometheus.AlreadyRegisteredError
	if err != nil && !errors.As(err, &are) {
		panic(err)
	}
}
