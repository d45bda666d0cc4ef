package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/tendant/chi-demo/app"

	"github.com/tendant/artisan-nft/pkg/artisan/api"
	"github.com/tendant/artisan-nft/pkg/artisan/config"
)

func main() {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	serverConfig, err := config.Load(config.WithEnv(""))
	if err != nil {
		slog.Error("Failed to load configuration", "err", err)
		os.Exit(1)
	}

	ctx := context.Background()
	client, err := serverConfig.Build(ctx)
	if err != nil {
		slog.Error("Failed to build marketplace client", "err", err)
		os.Exit(1)
	}
	defer client.Close()

	// A server-held signer connects up front; a failure leaves browsing available.
	if !client.Session.Connect(ctx) {
		slog.Warn("Session not connected, serving read-only", "err", client.Session.Err())
	}

	handler, err := api.NewHandler(api.Deps{
		Session:      client.Session,
		Aggregator:   client.Aggregator,
		Orchestrator: client.Orchestrator,
		Uploader:     client.Uploader,
		Resolver:     client.Resolver,
		Store:        client.Store,
		Repository:   client.Repository,
	}, api.WithJWTSecret(serverConfig.APIJWTSecret))
	if err != nil {
		slog.Error("Failed to create API handler", "err", err)
		os.Exit(1)
	}
	if serverConfig.APIJWTSecret == "" {
		slog.Warn("API_JWT_SECRET is not set, write routes are unauthenticated")
	}

	server := app.DefaultApp()

	app.RoutesHealthz(server.R)
	app.RoutesHealthzReady(server.R)

	server.R.Mount("/api/v1", handler.Routes())
	server.R.Get("/ipfs/{cid}", handler.ServeContent)
	server.R.Head("/ipfs/{cid}", handler.ServeContent)

	slog.Info("Artisan marketplace starting",
		"env", serverConfig.Environment,
		"ledger", serverConfig.LedgerType,
		"contract", serverConfig.ContractAddress)
	server.Run()
}
