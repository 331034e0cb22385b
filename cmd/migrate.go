package cmd

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/lib/pq"
	"github.com/spf13/cobra"
)

const (
	envDatabaseURL        = "OPENGRANT_DATABASE_URL"
	envMigrateDatabaseURL = "OPENGRANT_MIGRATE_DATABASE_URL"
	envMigrationsTable    = "OPENGRANT_MIGRATE_MIGRATIONS_TABLE"

	defaultMigrationsTable = "opengrant.schema_migrations"
	defaultMigrationsPath  = "pkg/storage/postgres/migrations"
)

type migrateConfig struct {
	DatabaseURL     string
	MigrationsTable string
	MigrationsPath  string
}

func init() {
	rootCmd.AddCommand(newMigrateCommand())
}

func newMigrateCommand() *cobra.Command {
	cfg := migrateConfig{MigrationsTable: defaultMigrationsTable}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run OpenGrant schema migration routines",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	migrateCmd.PersistentFlags().StringVar(&cfg.DatabaseURL, "database-url", "", "Postgres connection URL. Can also be set via "+envMigrateDatabaseURL+".")
	migrateCmd.PersistentFlags().StringVar(&cfg.MigrationsTable, "migrations-table", cfg.MigrationsTable, "Migrations version table. Supports table or schema.table format. Can also be set via "+envMigrationsTable+".")
	migrateCmd.PersistentFlags().StringVar(&cfg.MigrationsPath, "migrations-path", "", "Path or source URL for migration files. Defaults to "+defaultMigrationsPath+".")

	migrateCmd.AddCommand(newMigrateUpCommand(&cfg))
	migrateCmd.AddCommand(newMigrateDownCommand(&cfg))
	migrateCmd.AddCommand(newMigrateForceCommand(&cfg))

	return migrateCmd
}

func newMigrateUpCommand(cfg *migrateConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "up [steps]",
		Short: "Apply schema migrations",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, hasSteps, err := parseStepsArg(args)
			if err != nil {
				return err
			}

			runner, sourceURL, err := newMigrationRunner(*cfg)
			if err != nil {
				return err
			}
			defer closeRunner(cmd, runner)

			if hasSteps {
				err = runner.Steps(steps)
			} else {
				err = runner.Up()
			}

			if err != nil {
				if isBoundaryError(err) {
					cmd.Println("No schema changes to apply.")
					return nil
				}

				var shortLimit migrate.ErrShortLimit
				if hasSteps && errors.As(err, &shortLimit) {
					applied := steps - int(shortLimit.Short)
					if applied <= 0 {
						cmd.Println("No schema changes to apply.")
						return nil
					}
					cmd.Printf("Applied %d of %d requested migration step(s) from %s\n", applied, steps, sourceURL)
					return nil
				}

				return fmt.Errorf("apply migrations: %w", err)
			}

			if hasSteps {
				cmd.Printf("Applied %d migration step(s) from %s\n", steps, sourceURL)
				return nil
			}
			cmd.Printf("Applied all pending migrations from %s\n", sourceURL)
			return nil
		},
	}
}

func newMigrateDownCommand(cfg *migrateConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "down <steps>",
		Short: "Roll back schema migrations by step count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, _, err := parseStepsArg(args)
			if err != nil {
				return err
			}

			runner, sourceURL, err := newMigrationRunner(*cfg)
			if err != nil {
				return err
			}
			defer closeRunner(cmd, runner)

			if err := runner.Steps(-steps); err != nil {
				if isBoundaryError(err) {
					cmd.Println("No schema changes to rollback.")
					return nil
				}

				var shortLimit migrate.ErrShortLimit
				if errors.As(err, &shortLimit) {
					rolledBack := steps - int(shortLimit.Short)
					if rolledBack <= 0 {
						cmd.Println("No schema changes to rollback.")
						return nil
					}
					cmd.Printf("Rolled back %d of %d requested migration step(s) from %s\n", rolledBack, steps, sourceURL)
					return nil
				}

				return fmt.Errorf("rollback migrations: %w", err)
			}

			cmd.Printf("Rolled back %d migration step(s) from %s\n", steps, sourceURL)
			return nil
		},
	}
}

func newMigrateForceCommand(cfg *migrateConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "force <version>",
		Short: "Force-set migration version (-1 for nil version)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(strings.TrimSpace(args[0]))
			if err != nil || version < -1 {
				return fmt.Errorf("invalid force version %q: expected an integer >= -1", args[0])
			}

			runner, _, err := newMigrationRunner(*cfg)
			if err != nil {
				return err
			}
			defer closeRunner(cmd, runner)

			if err := runner.Force(version); err != nil {
				return fmt.Errorf("force migration version: %w", err)
			}

			if version == -1 {
				cmd.Println("Forced migration version to -1 (no version).")
				return nil
			}
			cmd.Printf("Forced migration version to %d.\n", version)
			return nil
		},
	}
}

func newMigrationRunner(cfg migrateConfig) (*migrate.Migrate, string, error) {
	databaseURL, err := resolveDatabaseURL(cfg.DatabaseURL)
	if err != nil {
		return nil, "", err
	}

	schema, table, err := resolveMigrationsTable(cfg.MigrationsTable)
	if err != nil {
		return nil, "", err
	}
	if err := ensureSchemaExists(databaseURL, schema); err != nil {
		return nil, "", err
	}
	databaseURL, err = applyMigrationsTable(databaseURL, schema, table)
	if err != nil {
		return nil, "", err
	}

	sourceURL, err := resolveSourceURL(cfg.MigrationsPath)
	if err != nil {
		return nil, "", err
	}

	runner, err := migrate.New(sourceURL, databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("create migrate runner: %w", err)
	}
	return runner, sourceURL, nil
}

func resolveDatabaseURL(flagValue string) (string, error) {
	databaseURL := strings.TrimSpace(flagValue)
	if databaseURL == "" {
		databaseURL = strings.TrimSpace(os.Getenv(envMigrateDatabaseURL))
	}
	if databaseURL == "" {
		databaseURL = strings.TrimSpace(os.Getenv(envDatabaseURL))
	}
	if databaseURL == "" {
		return "", errors.New("missing database URL: set --database-url or " + envMigrateDatabaseURL)
	}
	return databaseURL, nil
}

func resolveMigrationsTable(flagValue string) (schema string, table string, err error) {
	value := strings.TrimSpace(flagValue)
	if value == "" {
		value = strings.TrimSpace(os.Getenv(envMigrationsTable))
	}
	if value == "" {
		value = defaultMigrationsTable
	}

	parts := strings.Split(value, ".")
	switch len(parts) {
	case 1:
		if strings.TrimSpace(parts[0]) == "" {
			return "", "", fmt.Errorf("invalid migrations table %q", flagValue)
		}
		return "", parts[0], nil
	case 2:
		if strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
			return "", "", fmt.Errorf("invalid migrations table %q", flagValue)
		}
		return parts[0], parts[1], nil
	default:
		return "", "", fmt.Errorf("invalid migrations table %q: expected table or schema.table", flagValue)
	}
}

func applyMigrationsTable(databaseURL string, schema string, table string) (string, error) {
	if table == "" {
		return databaseURL, nil
	}

	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("parse --database-url: %w", err)
	}

	query := parsed.Query()
	if strings.TrimSpace(query.Get("x-migrations-table")) != "" {
		return databaseURL, nil
	}

	if schema != "" {
		query.Set("x-migrations-table", pq.QuoteIdentifier(schema)+"."+pq.QuoteIdentifier(table))
		query.Set("x-migrations-table-quoted", "true")
	} else {
		query.Set("x-migrations-table", table)
	}

	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// ensureSchemaExists bootstraps the migrations schema before golang-migrate
// touches its version table, which fails on a missing schema.
func ensureSchemaExists(databaseURL string, schema string) error {
	if schema == "" {
		return nil
	}

	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return fmt.Errorf("parse --database-url: %w", err)
	}
	sanitized := migrate.FilterCustomQuery(parsed)

	db, err := sql.Open("postgres", sanitized.String())
	if err != nil {
		return fmt.Errorf("open database for schema bootstrap: %w", err)
	}
	defer db.Close()

	if _, err := db.Exec("CREATE SCHEMA IF NOT EXISTS " + pq.QuoteIdentifier(schema)); err != nil {
		return fmt.Errorf("ensure migrations schema %q exists: %w", schema, err)
	}
	return nil
}

func resolveSourceURL(migrationsPath string) (string, error) {
	pathOrURL := strings.TrimSpace(migrationsPath)
	if pathOrURL == "" {
		pathOrURL = defaultMigrationsPath
	}
	if strings.Contains(pathOrURL, "://") {
		return pathOrURL, nil
	}

	absPath, err := filepath.Abs(pathOrURL)
	if err != nil {
		return "", fmt.Errorf("resolve migrations path %q: %w", pathOrURL, err)
	}
	return "file://" + filepath.ToSlash(absPath), nil
}

func parseStepsArg(args []string) (int, bool, error) {
	if len(args) == 0 {
		return 0, false, nil
	}

	steps, err := strconv.Atoi(strings.TrimSpace(args[0]))
	if err != nil || steps <= 0 {
		return 0, false, fmt.Errorf("invalid migration steps %q: expected a positive integer", args[0])
	}
	return steps, true, nil
}

func closeRunner(cmd *cobra.Command, runner *migrate.Migrate) {
	if runner == nil {
		return
	}
	sourceErr, databaseErr := runner.Close()
	if err := errors.Join(sourceErr, databaseErr); err != nil {
		cmd.PrintErrf("warning: failed to close migration runner cleanly: %v\n", err)
	}
}

func isBoundaryError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, migrate.ErrNoChange) {
		return true
	}
	// golang-migrate returns bare os.ErrNotExist when a step command
	// reaches the migration boundary.
	return err == os.ErrNotExist
}
