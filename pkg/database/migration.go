package database

import (
	"errors"
	"fmt"
	"os"

	"github.com/Gobusters/ectologger"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
)

type MigrationLogger struct {
	ectologger.Logger
}

func (l MigrationLogger) Verbose() bool {
	return true
}

func (l MigrationLogger) Printf(format string, v ...any) {
	l.Infof(format, v...)
}

type MigrationConfig struct {
	MigrationFolderPath string
	Version             uint
	Force               int
}

// Migrate runs file-based migrations against the database. A zero Version
// migrates all the way up.
func Migrate(db *sqlx.DB, databaseName string, cfg MigrationConfig, logger ectologger.Logger) error {
	folder := cfg.MigrationFolderPath
	if _, err := os.Stat(folder); err != nil {
		workingDirectory, _ := os.Getwd()
		folder = workingDirectory + "/" + cfg.MigrationFolderPath
		if _, statErr := os.Stat(folder); statErr != nil {
			return fmt.Errorf("migration folder %s does not exist: %w", cfg.MigrationFolderPath, err)
		}
	}

	driver, err := postgres.WithInstance(db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+folder, databaseName, driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	m.Log = MigrationLogger{logger}

	if cfg.Force > 0 {
		if err := m.Force(cfg.Force); err != nil {
			return fmt.Errorf("failed to force migration version %d: %w", cfg.Force, err)
		}
	}

	if cfg.Version > 0 {
		err = m.Migrate(cfg.Version)
	} else {
		err = m.Up()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}

	logger.Info("Database migrations applied")
	return nil
}
