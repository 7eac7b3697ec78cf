package postgresql

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// driverConfig keeps each migration file as one statement. The multi-statement
// splitter cuts on every ';', including those inside $$-quoted function bodies.
// lib/pq runs an argument-free Exec over the simple protocol, which accepts
// several statements at once.
func driverConfig() *migratepg.Config {
	return &migratepg.Config{MultiStatementEnabled: false}
}

// Migrate applies every pending migration found at the root of fsys and
// returns the resulting schema version. It opens its own connection since
// the migrate driver closes the handle it is given.
func Migrate(config *Config, fsys fs.FS, logger *slog.Logger) (uint, error) {
	src, err := iofs.New(fsys, ".")
	if err != nil {
		return 0, fmt.Errorf("failed to open migration source: %w", err)
	}

	db, err := sql.Open("postgres", config.DSN())
	if err != nil {
		return 0, fmt.Errorf("failed to open migration connection: %w", err)
	}

	driver, err := migratepg.WithInstance(db, driverConfig())
	if err != nil {
		db.Close()
		return 0, fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		driver.Close()
		return 0, fmt.Errorf("failed to init migrations: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil || dbErr != nil {
			logger.Warn("Failed to close migrator",
				slog.Any("source_error", srcErr),
				slog.Any("database_error", dbErr),
			)
		}
	}()

	logger.Info("Running database migrations", slog.String("database", config.Database))

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("schema version %d is dirty", version)
	}

	logger.Info("Migrations complete", slog.Uint64("version", uint64(version)))
	return version, nil
}
