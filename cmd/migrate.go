/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

/*
Package main provides the CLI commands for managing database migrations.
Migrations run against the default data source, or against one tenant's database with --tenant.
*/

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	migrate "github.com/rubenv/sql-migrate"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wagenesys/statemanager"
	"github.com/wagenesys/statemanager/database"
)

func migrationSource() migrate.EmbedFileSystemMigrationSource {
	return migrate.EmbedFileSystemMigrationSource{
		FileSystem: statemanager.SQLFiles,
		Root:       "sql",
	}
}

// migrationTarget opens the database to migrate. The returned close func must be called.
func (app *appInstance) migrationTarget(ctx context.Context, tenantID string) (*sql.DB, func(), error) {
	if tenantID == "" {
		db, err := database.ConnectDB(app.cnf.DataSource)
		if err != nil {
			return nil, nil, err
		}
		return db, func() { _ = db.Close() }, nil
	}

	if app.tenants == nil {
		return nil, nil, errors.New("tenant migrations need tenant.credential_service_url to be configured")
	}
	db, err := app.tenants.GetConnection(ctx, tenantID)
	if err != nil {
		return nil, nil, err
	}
	return db, func() { _ = app.tenants.CloseConnection(tenantID) }, nil
}

func (app *appInstance) runMigrations(ctx context.Context, tenantID string, dir migrate.MigrationDirection) (int, error) {
	db, closeDB, err := app.migrationTarget(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("error connecting to database: %w", err)
	}
	defer closeDB()

	return migrate.Exec(db, "postgres", migrationSource(), dir)
}

// migrateCommands creates the root command for migration-related operations.
func migrateCommands(app *appInstance) *cobra.Command {
	var tenantID string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "apply or roll back the state manager schema",
	}
	cmd.PersistentFlags().StringVar(&tenantID, "tenant", "", "migrate this tenant's database instead of the default data source")

	cmd.AddCommand(&cobra.Command{
		Use: "up",
		Run: func(cmd *cobra.Command, args []string) {
			n, err := app.runMigrations(cmd.Context(), tenantID, migrate.Up)
			if err != nil {
				logrus.WithError(err).Error("error migrating up")
				return
			}
			fmt.Printf("Applied %d migrations!\n", n)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use: "down",
		Run: func(cmd *cobra.Command, args []string) {
			n, err := app.runMigrations(cmd.Context(), tenantID, migrate.Down)
			if err != nil {
				logrus.WithError(err).Error("error migrating down")
				return
			}
			fmt.Printf("Rolled back %d migrations!\n", n)
		},
	})

	return cmd
}
