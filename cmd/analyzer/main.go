// Auto-analyzer server — classifies failed test items against triage history,
// clusters similar error logs, and serves similar-log search.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/api"
	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/boosting"
	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/config"
	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/esclient"
	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/logprep"
	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/services"
	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/similarity"
	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/stats"
	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/version"
)

func main() {
	envFile := flag.String("env-file", ".env", "Path to the environment file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		slog.Warn("Could not load env file, continuing with existing environment",
			"path", *envFile, "error", err)
	}

	slog.Info("Starting auto-analyzer", "version", version.Full())

	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	es, err := esclient.NewClient(cfg.App.ESURL)
	if err != nil {
		slog.Error("Failed to create search backend client",
			"url", logprep.RemoveCredentialsFromURL(cfg.App.ESURL), "error", err)
		os.Exit(1)
	}
	slog.Info("Search backend client initialized",
		"url", logprep.RemoveCredentialsFromURL(cfg.App.ESURL))

	weights, err := similarity.LoadWeights(cfg.Search.SimilarityWeightsFolder)
	if err != nil {
		slog.Error("Failed to load similarity weights", "error", err)
		os.Exit(1)
	}
	scorer := similarity.NewScorer(weights, cfg.Search.MinWordLength)

	var publisher stats.Publisher = stats.NopPublisher{}
	if cfg.App.AmqpURL != "" {
		publisher = stats.NewAmqpPublisher(cfg.App.AmqpURL, cfg.App.ExchangeName)
		slog.Info("Stats publisher initialized", "exchange", cfg.App.ExchangeName)
	}

	analyzer := services.NewAutoAnalyzerService(
		es, cfg, scorer,
		boosting.NewWeightedSimilarityFeaturizer(scorer),
		boosting.NewFilesystemModelChooser(cfg.Search.BoostModelFolder),
		boosting.NoopNamespaceFinder{},
		publisher,
	)
	cluster := services.NewClusterService(es, cfg, scorer, publisher)
	search := services.NewSearchService(es, cfg, scorer)

	server := api.NewServer(analyzer, cluster, search)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.App.HTTPPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	slog.Info("Shutdown complete")
}
