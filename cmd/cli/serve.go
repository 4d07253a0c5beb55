package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/corpusworks/corpus/internal/config"
	"github.com/corpusworks/corpus/internal/server"
	"github.com/corpusworks/corpus/internal/version"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long:  `Start the knowledge base HTTP API and the ingestion workers.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}

	return cmd
}

func runServe() error {
	ctx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	deps, err := BuildServiceDependencies(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build service dependencies")
	}
	defer deps.Close()

	app := server.NewHTTPServer(server.HTTPServerDependencies{
		Sessions:            deps.Sessions,
		APIKeys:             deps.APIKeys,
		KnowledgeController: deps.KnowledgeController,
		DocumentController:  deps.DocumentController,
		ChunkController:     deps.ChunkController,
	})

	go func() {
		log.Info().
			Str("address", cfg.HTTPAddress).
			Str("version", version.GetVersion()).
			Msg("Starting HTTP server")

		if err := app.Listen(cfg.HTTPAddress); err != nil {
			log.Fatal().Err(err).Msg("HTTP server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shut down HTTP server cleanly")
	}

	return nil
}
