package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/api"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/app"
	cfgpkg "github.com/Sweet-James-Lannon/ai-check-validation-system/internal/config"
	logpkg "github.com/Sweet-James-Lannon/ai-check-validation-system/internal/logger"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/metrics"
)

func main() {
	cfg := cfgpkg.Load()

	// Init logging
	_ = logpkg.Init(logpkg.Options{
		Level:        cfg.Logging.Level,
		Pretty:       cfg.Logging.Pretty,
		File:         cfg.Logging.File,
		MaxSizeMB:    cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAgeDays:   cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
		AxiomAPIKey:  cfg.Axiom.APIKey,
		AxiomOrgID:   cfg.Axiom.OrgID,
		AxiomDataset: cfg.Axiom.Dataset,
		AxiomFlush:   cfg.Axiom.FlushInterval,
	})
	defer logpkg.Close()

	metrics.Init()

	a, err := app.New(context.Background(), cfg, app.Overrides{})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to wire services")
	}
	defer a.Close()

	srvAPI := api.New(api.Dependencies{
		Ingest:         a.Ingest,
		Records:        a.Records,
		Splits:         a.Splits,
		Review:         a.Review,
		Merger:         a.Merger,
		Status:         a.Status,
		MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
		BatchWidth:     cfg.Ingest.BatchNumberWidth,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      srvAPI.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Msgf("HTTP server listening on :%s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(ctx)
	fmt.Println("shutdown complete")
}
