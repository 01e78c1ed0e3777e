package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"load-forecast/internal/config"
	"load-forecast/pkg/logging"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	steps := flag.Int("steps", 0, "Number of migrations to apply (0 = all)")
	path := flag.String("path", "file://migrations", "Migration source URL")
	flag.Parse()

	if err := validateFlags(*direction, *steps); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewStructuredLogger("load-forecast-migrate", "1.0.0", logging.ParseLevel(cfg.Logging.Level))
	ctx := context.Background()

	m, err := migrate.New(*path, cfg.Database.URL())
	if err != nil {
		logger.Fatal(ctx, "[MIGRATE_ERROR] Failed to initialize migrations", logging.Fields{
			"path": *path,
		}, err)
	}
	defer m.Close()

	err = apply(m, *direction, *steps)
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info(ctx, "[MIGRATE_NOOP] Schema is up to date", logging.Fields{})
		return
	}
	if err != nil {
		logger.Fatal(ctx, "[MIGRATE_ERROR] Migration failed", logging.Fields{
			"direction": *direction,
		}, err)
	}

	version, dirty, _ := m.Version()
	logger.Info(ctx, "[MIGRATE_COMPLETE] Migration completed successfully", logging.Fields{
		"direction": *direction,
		"version":   version,
		"dirty":     dirty,
	})
}

// migrator is the part of *migrate.Migrate the command drives.
type migrator interface {
	Up() error
	Down() error
	Steps(n int) error
}

func validateFlags(direction string, steps int) error {
	if direction != "up" && direction != "down" {
		return fmt.Errorf("unknown direction %q, expected up or down", direction)
	}
	if steps < 0 {
		return fmt.Errorf("steps must be >= 0, got %d", steps)
	}
	return nil
}

func apply(m migrator, direction string, steps int) error {
	switch {
	case steps != 0 && direction == "down":
		return m.Steps(-steps)
	case steps != 0:
		return m.Steps(steps)
	case direction == "down":
		return m.Down()
	default:
		return m.Up()
	}
}
