package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/safar/go-storefront/internal/config"
	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/migrations"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	if len(os.Args) < 2 {
		logger.Error("usage: migrate [up|down]")
		os.Exit(2)
	}

	if err := run(logger, database.MigrationDirection(os.Args[1])); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, direction database.MigrationDirection) error {
	if direction != database.MigrateUp && direction != database.MigrateDown {
		return fmt.Errorf("direction must be up or down, got %q", direction)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := database.NewConnection(context.Background(), &cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	version, err := database.Migrate(db, migrations.FS, direction)
	if err != nil {
		return err
	}

	logger.Info("migrations applied", "direction", direction, "version", version)
	return nil
}
