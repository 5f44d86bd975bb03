package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aidenappl/monitor-trends/db"
	"github.com/aidenappl/monitor-trends/discover"
	"github.com/aidenappl/monitor-trends/env"
	"github.com/aidenappl/monitor-trends/logging"
	"github.com/aidenappl/monitor-trends/routes"
	"github.com/aidenappl/monitor-trends/services"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

func main() {
	logging.Init(env.LogLevel, env.LogFormat, os.Stderr)

	// Validate configuration
	if env.APIKey == "" {
		logging.Warn().Msg("API_KEY is not set, authentication is disabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Connect to ClickHouse
	if err := db.Connect(ctx, env.ClickHouseAddr, env.ClickHouseDatabase, env.ClickHouseUsername, env.ClickHousePassword, env.QueryTimeout); err != nil {
		logging.Fatal().Err(err).Msg("failed to connect to ClickHouse")
	}
	defer db.Close()

	executor := db.NewExecutor(db.Conn, db.Database)
	engine := services.NewBreakerEngine(discover.NewEngine(executor, db.Database), "clickhouse", env.BreakerTimeout)
	routes.Trends = services.NewTrendService(engine)
	routes.Projects = executor

	// Setup router
	r := mux.NewRouter()
	routes.Register(r)

	// CORS Middleware
	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowCredentials: true,
		AllowedHeaders:   []string{"X-Requested-With", "Content-Type", "Origin", "Authorization", "Accept", "X-Api-Key", "X-Request-Id"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
	})

	server := &http.Server{
		Addr:         ":" + env.Port,
		Handler:      corsMiddleware.Handler(r),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: env.QueryTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logging.Info().Str("port", env.Port).Msg("monitor-trends running")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	logging.Info().Msg("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("HTTP server shutdown error")
	}

	logging.Info().Msg("shutdown complete")
}
