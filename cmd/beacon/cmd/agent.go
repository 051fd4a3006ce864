package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/perimetric/beacon"
	"github.com/perimetric/beacon/internal/core/api"
	"github.com/perimetric/beacon/internal/core/auth"
	"github.com/perimetric/beacon/internal/core/config"
	"github.com/perimetric/beacon/internal/core/db"
	"github.com/perimetric/beacon/internal/core/server"
)

const Version = "0.1.0"

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Start the local HTTP relay agent",
	RunE:  runAgent,
}

func init() {
	rootCmd.AddCommand(agentCmd)
	agentCmd.Flags().String("host", "127.0.0.1", "HTTP server host")
	agentCmd.Flags().Int("port", 8686, "HTTP server port")
}

func runAgent(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	logger := slog.Default()

	cfg, err := config.LoadAgentConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cmd.Flags().Changed("host") {
		host, _ := cmd.Flags().GetString("host")
		cfg.Host = host
	}
	if cmd.Flags().Changed("port") {
		port, _ := cmd.Flags().GetInt("port")
		cfg.Port = port
	}
	if dbURL != "" {
		cfg.Pipeline.DatabaseURL = dbURL
	}

	secrets, err := config.HMACSecrets()
	if err != nil {
		return fmt.Errorf("failed to load HMAC secrets: %w", err)
	}
	if len(secrets) == 0 {
		return fmt.Errorf("no HMAC secrets configured (set BEACON_HMAC_SECRET environment variable)")
	}

	client, err := beacon.New(&cfg.Pipeline, beacon.Options{Logger: logger})
	if err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}
	defer client.Close()

	// Separate connection for key verification; the pipeline owns its own.
	conn, err := db.Open(cfg.Pipeline.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer conn.Close()

	queries, err := db.LoadQueries(conn)
	if err != nil {
		return fmt.Errorf("failed to load queries: %w", err)
	}

	authenticator := auth.NewAuthenticator(secrets, queries)
	service := api.NewService(client, logger)

	httpServer, err := server.NewHTTPServer(cfg, service, authenticator)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	logger.Info("starting beacon agent",
		"version", Version, "host", cfg.Host, "port", cfg.Port)

	errChan := make(chan error, 1)
	go func() {
		errChan <- httpServer.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		logger.Info("shutting down gracefully", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}
