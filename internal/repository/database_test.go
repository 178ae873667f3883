package repository

import (
	"log/slog"
	"testing"

	"shortsight/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitDB(t *testing.T) {
	t.Run("SQLite Success", func(t *testing.T) {
		cfg := config.Config{
			DatabaseURL: "sqlite://:memory:",
		}
		db, err := InitDB(cfg)
		assert.NoError(t, err)
		assert.NotNil(t, db)
	})

	t.Run("Unsupported Driver", func(t *testing.T) {
		cfg := config.Config{
			DatabaseURL: "mysql://localhost",
		}
		_, err := InitDB(cfg)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported database driver")
	})

	t.Run("Invalid SQLite Path", func(t *testing.T) {
		cfg := config.Config{
			DatabaseURL: "sqlite:///non/existent/path/db.sqlite",
		}
		_, err := InitDB(cfg)
		assert.Error(t, err)
	})
}

func TestAutoMigrate(t *testing.T) {
	db, err := InitDB(config.Config{DatabaseURL: "sqlite://:memory:"})
	require.NoError(t, err)

	require.NoError(t, AutoMigrate(db))
	// Idempotent.
	require.NoError(t, AutoMigrate(db))

	assert.True(t, db.Migrator().HasTable("links"))
	assert.True(t, db.Migrator().HasTable("visitor_events"))
	assert.True(t, db.Migrator().HasIndex("links", "idx_links_slug_active"))
}

func TestRunMigrations_Fail(t *testing.T) {
	t.Run("Unsupported DB Driver", func(t *testing.T) {
		err := RunMigrations("mysql://localhost", slog.Default())
		assert.Error(t, err)
	})

	t.Run("Empty Database URL", func(t *testing.T) {
		err := RunMigrations("", slog.Default())
		assert.Error(t, err)
	})
}

func TestMigrate_SQLite(t *testing.T) {
	cfg := config.Config{DatabaseURL: "sqlite://:memory:"}
	db, err := InitDB(cfg)
	require.NoError(t, err)

	require.NoError(t, Migrate(db, cfg, slog.Default()))
	assert.True(t, db.Migrator().HasTable("links"))
}

func TestInitRedis_Fail(t *testing.T) {
	t.Run("Unreachable", func(t *testing.T) {
		client, err := InitRedis("localhost:1", "", 0)
		assert.Error(t, err)
		assert.Nil(t, client)
	})

	t.Run("Bad URL", func(t *testing.T) {
		client, err := InitRedis("redis://:bad:port/x", "", 0)
		assert.Error(t, err)
		assert.Nil(t, client)
	})
}
