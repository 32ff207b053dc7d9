// cmd/flowmetrics-migrate/main.go
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/ignatij/flowmetrics/internal/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{Use: "flowmetrics-migrate"}

func newMigrate(cmd *cobra.Command) (*migrate.Migrate, error) {
	cfg, err := config.Load("", cmd.Flags())
	if err != nil {
		return nil, err
	}
	if cfg.Database.URL == "" {
		return nil, errors.New("--db flag, FLOWMETRICS_DATABASE_URL or complete DB_* env vars (DB_USERNAME, DB_PASSWORD, DB_HOST, DB_PORT, DB_NAME) required")
	}
	source, _ := cmd.Flags().GetString("source")
	m, err := migrate.New(source, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize migrations: %w", err)
	}
	return m, nil
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply all pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newMigrate(cmd)
		if err != nil {
			return err
		}
		defer m.Close()
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
		fmt.Println("Migrations applied successfully")
		return nil
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Revert the most recent migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newMigrate(cmd)
		if err != nil {
			return err
		}
		defer m.Close()
		if err := m.Steps(-1); err != nil {
			return fmt.Errorf("failed to roll back: %w", err)
		}
		fmt.Println("Rolled back one migration")
		return nil
	},
}

func main() {
	rootCmd.PersistentFlags().String("db", "", "Database connection string (optional if DB_* env vars are set)")
	rootCmd.PersistentFlags().String("source", "file://migrations", "Migrations source URL")
	rootCmd.AddCommand(migrateCmd, rollbackCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
