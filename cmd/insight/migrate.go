package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/defiinsight/insight/internal/config"
	"github.com/defiinsight/insight/internal/persistence/postgres"
)

func runMigrate(cmd *cobra.Command, args []string) error {
	settings, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(settings.LogLevel)

	dir := flagOrDefault(cmd.Flags(), "dir", settings.MigrationsDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Connect(ctx, settings.PostgresDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	migrator := postgres.NewMigrator(db)

	if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
		pending, err := migrator.Pending(ctx, dir)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			log.Info().Msg("No pending migrations")
			return nil
		}
		for _, name := range pending {
			log.Info().Str("migration", name).Msg("Pending")
		}
		return nil
	}

	ran, err := migrator.Apply(ctx, dir)
	if err != nil {
		return err
	}
	if len(ran) == 0 {
		log.Info().Msg("No pending migrations")
	} else {
		log.Info().Int("applied", len(ran)).Msg("Migrations applied")
	}
	return nil
}
