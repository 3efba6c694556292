package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// ErrDirtySchema means a previous ledger migration stopped halfway. The schema
// has to be repaired and forced to a clean version before either binary starts.
type ErrDirtySchema struct {
	Version uint
}

func (e ErrDirtySchema) Error() string {
	return fmt.Sprintf("ledger schema is dirty at version %d", e.Version)
}

// Is matches any ErrDirtySchema when the target version is zero
func (e ErrDirtySchema) Is(target error) bool {
	t, ok := target.(ErrDirtySchema)
	if !ok {
		return false
	}
	return t.Version == 0 || t.Version == e.Version
}

// schemaVersioner is satisfied by *migrate.Migrate
type schemaVersioner interface {
	Version() (version uint, dirty bool, err error)
}

// migrateLogger sends golang-migrate progress to slog at debug level
type migrateLogger struct {
	logger *slog.Logger
}

func (l migrateLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l migrateLogger) Verbose() bool {
	return l.logger.Enabled(context.Background(), slog.LevelDebug)
}

// RunMigrations brings the ledger tables (bookings, wallets, transactions,
// booking_movements, webhook_events) to the newest version in migrationsPath.
// Both binaries run it on startup under golang-migrate's advisory lock.
func RunMigrations(logger *slog.Logger, databaseURL string, migrationsPath string) error {
	if migrationsPath == "" {
		return errors.New("migrations path cannot be empty")
	}
	if databaseURL == "" {
		return errors.New("database URL cannot be empty")
	}

	m, err := migrate.New("file://"+migrationsPath, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{logger: logger}

	if err := applyMigrations(logger, m); err != nil {
		m.Close()
		return err
	}

	sourceErr, dbErr := m.Close()
	if sourceErr != nil {
		return fmt.Errorf("migration source error: %w", sourceErr)
	}
	if dbErr != nil {
		return fmt.Errorf("migration database error: %w", dbErr)
	}
	return nil
}

func applyMigrations(logger *slog.Logger, m *migrate.Migrate) error {
	from, err := cleanSchemaVersion(m)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	to, err := cleanSchemaVersion(m)
	if err != nil {
		return err
	}
	logger.Info("Ledger schema ready", "from_version", from, "version", to, "migrated", from != to)
	return nil
}

// cleanSchemaVersion returns the applied version, 0 for an empty database
func cleanSchemaVersion(v schemaVersioner) (uint, error) {
	version, dirty, err := v.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if dirty {
		return 0, ErrDirtySchema{Version: version}
	}
	return version, nil
}
