// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/autobrr/sanitarr/internal/api"
	"github.com/autobrr/sanitarr/internal/arr"
	"github.com/autobrr/sanitarr/internal/buildinfo"
	"github.com/autobrr/sanitarr/internal/config"
	"github.com/autobrr/sanitarr/internal/database"
	"github.com/autobrr/sanitarr/internal/metrics"
	"github.com/autobrr/sanitarr/internal/models"
	"github.com/autobrr/sanitarr/internal/services/cleaner"
)

func RunServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the cleaner engine and API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(configPath)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to config file or directory")

	return cmd
}

func runServe(configPath string) error {
	cfg, err := config.New(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Config.Version = buildinfo.Version

	log.Info().
		Str("version", buildinfo.Version).
		Str("commit", buildinfo.Commit).
		Msg("starting sanitarr")

	db, err := database.Open(cfg.GetDatabasePath())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	encryptionKey, err := cfg.GetEncryptionKey()
	if err != nil {
		return err
	}

	instanceStore, err := models.NewInstanceStore(db, encryptionKey)
	if err != nil {
		return fmt.Errorf("failed to create instance store: %w", err)
	}
	configStore := models.NewCleanerConfigStore(db)
	runLogStore := models.NewRunLogStore(db)
	strikeStore := models.NewStrikeStore(db)

	provider := arr.NewProvider(instanceStore, buildinfo.UserAgent)

	var metricsManager *metrics.Manager
	var cleanerMetrics cleaner.Metrics
	if cfg.Config.MetricsEnabled {
		metricsManager = metrics.NewManager()
		cleanerMetrics = metricsManager
	}

	cleanerService := cleaner.NewService(cleaner.Config{
		ClassifyWorkers:     cfg.Config.CleanerClassifyWorkers,
		ActionDelay:         time.Duration(cfg.Config.CleanerActionDelayMS) * time.Millisecond,
		RunLogRetentionDays: cfg.Config.RunLogRetentionDays,
	}, instanceStore, configStore, runLogStore, strikeStore, provider, cleanerMetrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cleanerService.Start(ctx)
	defer cleanerService.Stop()

	server := api.NewServer(&api.Dependencies{
		InstanceStore:  instanceStore,
		ConfigStore:    configStore,
		RunLogStore:    runLogStore,
		StrikeStore:    strikeStore,
		Provider:       provider,
		CleanerService: cleanerService,
		Stats:          cleaner.NewStatsAggregator(runLogStore),
		Metrics:        metricsManager,
	})

	addr := net.JoinHostPort(cfg.Config.Host, strconv.Itoa(cfg.Config.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown failed")
	}

	return nil
}
