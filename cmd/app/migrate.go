// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"codeberg.org/oliverandrich/go-otp-recovery/internal/database"
	"github.com/urfave/cli/v3"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Manage the database schema",
		Commands: []*cli.Command{
			{
				Name:   "up",
				Usage:  "Apply all pending migrations",
				Action: withDB(database.RunMigrations),
			},
			{
				Name:   "down",
				Usage:  "Roll back the last migration",
				Action: withDB(database.MigrateDown),
			},
			{
				Name:   "reset",
				Usage:  "Roll back all migrations",
				Action: withDB(database.MigrateReset),
			},
			{
				Name:   "status",
				Usage:  "Show the state of every migration",
				Action: withDB(database.MigrateStatus),
			},
			{
				Name:  "version",
				Usage: "Print the current schema version",
				Action: withDB(func(db *sql.DB, driver string) error {
					version, err := database.MigrationVersion(db, driver)
					if err != nil {
						return err
					}
					fmt.Println(version)
					return nil
				}),
			},
		},
	}
}

// withDB connects to the configured database without migrating it and
// runs fn against it.
func withDB(fn func(db *sql.DB, driver string) error) cli.ActionFunc {
	return func(_ context.Context, cmd *cli.Command) error {
		driver := cmd.String("database-driver")
		dsn := cmd.String("database-dsn")

		conn, err := database.Connect(driver, dsn)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer func() {
			if closeErr := conn.Close(); closeErr != nil {
				slog.Error("failed to close database", "error", closeErr)
			}
		}()

		if driver == "" {
			driver = database.DriverSQLite
		}
		return fn(conn.DB, driver)
	}
}
