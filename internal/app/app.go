// Package app provides application initialization and dependency wiring.
//
// App is the container that owns every process-wide singleton: the Genkit
// runtime, the PostgreSQL pool, the Redis client, the semantic cache, the
// history stores, and the request pipeline built on top of them. Components
// receive their dependencies through constructors; nothing reaches for
// ambient global state.
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/venn0/venn/internal/cache"
	"github.com/venn0/venn/internal/config"
	"github.com/venn0/venn/internal/history"
	"github.com/venn0/venn/internal/pipeline"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	// Core services
	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	DBPool   *pgxpool.Pool
	Redis    *redis.Client

	// Domain components
	Cache        *cache.SemanticCache
	HotStore     *history.HotStore
	ColdStore    *history.ColdStore
	Orchestrator *pipeline.Orchestrator

	otelCleanup func()
}

// Close gracefully shuts down all resources.
func (a *App) Close() error {
	a.logger().Info("shutting down application")

	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.logger().Warn("closing redis client", "error", err)
		}
	}
	if a.DBPool != nil {
		a.DBPool.Close()
		a.logger().Info("database pool closed")
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}
	return nil
}

// ReadyChecks returns dependency pings for the readiness probe.
func (a *App) ReadyChecks() map[string]func(context.Context) error {
	checks := make(map[string]func(context.Context) error, 2)
	if a.DBPool != nil {
		checks["postgres"] = a.DBPool.Ping
	}
	if a.Redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		}
	}
	return checks
}

func (a *App) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

// shutdownTimeout bounds teardown of external clients.
const shutdownTimeout = 5 * time.Second
