package repository

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"shortsight/internal/config"
	"shortsight/internal/models"

	"github.com/glebarez/sqlite"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func InitDB(cfg config.Config) (*gorm.DB, error) {
	var dialer gorm.Dialector
	isSQLite := false
	if strings.HasPrefix(cfg.DatabaseURL, "postgres") {
		dialer = postgres.Open(cfg.DatabaseURL)
	} else if strings.HasPrefix(cfg.DatabaseURL, "sqlite") {
		dialer = sqlite.Open(strings.TrimPrefix(cfg.DatabaseURL, "sqlite://"))
		isSQLite = true
	} else {
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.DatabaseURL)
	}

	gormCfg := &gorm.Config{
		TranslateError:         true,
		SkipDefaultTransaction: true,
	}
	if cfg.IsProduction() {
		gormCfg.Logger = logger.Default.LogMode(logger.Warn)
	}

	db, err := gorm.Open(dialer, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if isSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access sql.DB: %w", err)
		}
		// SQLite allows a single writer.
		sqlDB.SetMaxOpenConns(1)
		if err := sqlDB.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
	}

	return db, nil
}

// AutoMigrate creates the schema through gorm. It is used for SQLite, where the SQL migrations
// (written for Postgres) do not apply.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Link{}, &models.VisitorEvent{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	// Slugs are unique among links that are not soft-deleted.
	if err := db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS idx_links_slug_active ON links (slug) WHERE deleted_at IS NULL").Error; err != nil {
		return fmt.Errorf("create slug index: %w", err)
	}
	return nil
}

// RunMigrations applies the embedded SQL migrations to a Postgres database.
func RunMigrations(databaseURL string, logger *slog.Logger) error {
	if !strings.HasPrefix(databaseURL, "postgres") {
		return fmt.Errorf("migrations require a postgres url, got %q", databaseURL)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run up migrations: %w", err)
	}

	version, _, _ := m.Version()
	logger.Info("Database migrations ran successfully", "version", version)
	return nil
}

// Migrate brings the schema up to date for whichever driver cfg selects.
func Migrate(db *gorm.DB, cfg config.Config, logger *slog.Logger) error {
	if strings.HasPrefix(cfg.DatabaseURL, "postgres") {
		return RunMigrations(cfg.DatabaseURL, logger)
	}
	return AutoMigrate(db)
}
