// Package store provides the database layer: gorm connection management
// with driver selection by DSN, schema migration, and the item repository.
package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/quickapi/quickapi/internal/xerrors"
)

// DB wraps the gorm handle with lifecycle helpers.
type DB struct {
	gorm *gorm.DB
}

// Open connects to the database selected by the DSN scheme: postgres:// for
// PostgreSQL, anything else for sqlite (file path or file: URI). It pings
// before returning and configures modest pool limits.
func Open(ctx context.Context, dsn string) (*DB, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, xerrors.Wrap(err, "open database")
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, xerrors.Wrap(err, "get sql.DB handle")
	}
	sqlDB.SetMaxOpenConns(5)
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, xerrors.Wrap(err, "ping database")
	}

	return &DB{gorm: gdb}, nil
}

// Migrate creates or updates the schema for all models.
func (d *DB) Migrate() error {
	if err := d.gorm.AutoMigrate(&Item{}); err != nil {
		return xerrors.Wrap(err, "migrate schema")
	}
	return nil
}

// Ping verifies connectivity, used by the readiness probe.
func (d *DB) Ping(ctx context.Context) error {
	sqlDB, err := d.gorm.DB()
	if err != nil {
		return xerrors.Wrap(err, "get sql.DB handle")
	}
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return xerrors.Wrap(err, "database ping")
	}
	return nil
}

// SQLDB exposes the underlying pool, e.g. for stats.
func (d *DB) SQLDB() (*sql.DB, error) { return d.gorm.DB() }

// Close releases all pooled connections.
func (d *DB) Close() error {
	sqlDB, err := d.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
