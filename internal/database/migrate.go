// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package database

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/sqlite/*.sql migrations/mysql/*.sql
var embedMigrations embed.FS

// prepare points goose at the migration set for driver and returns its directory.
func prepare(driver string) (string, error) {
	goose.SetBaseFS(embedMigrations)

	var dialect goose.Dialect
	switch driver {
	case "", DriverSQLite:
		dialect, driver = goose.DialectSQLite3, DriverSQLite
	case DriverMySQL:
		dialect = goose.DialectMySQL
	default:
		return "", fmt.Errorf("unsupported database driver: %s", driver)
	}

	if err := goose.SetDialect(string(dialect)); err != nil {
		return "", err
	}

	return "migrations/" + driver, nil
}

// RunMigrations runs all pending goose migrations.
func RunMigrations(db *sql.DB, driver string) error {
	dir, err := prepare(driver)
	if err != nil {
		return err
	}
	return goose.Up(db, dir)
}

// MigrateDown rolls back the last migration.
func MigrateDown(db *sql.DB, driver string) error {
	dir, err := prepare(driver)
	if err != nil {
		return err
	}
	return goose.Down(db, dir)
}

// MigrateReset rolls back all migrations.
func MigrateReset(db *sql.DB, driver string) error {
	dir, err := prepare(driver)
	if err != nil {
		return err
	}
	return goose.Reset(db, dir)
}

// MigrateStatus logs the state of every migration.
func MigrateStatus(db *sql.DB, driver string) error {
	dir, err := prepare(driver)
	if err != nil {
		return err
	}
	return goose.Status(db, dir)
}

// MigrationVersion returns the current schema version.
func MigrationVersion(db *sql.DB, driver string) (int64, error) {
	if _, err := prepare(driver); err != nil {
		return 0, err
	}
	return goose.GetDBVersion(db)
}
