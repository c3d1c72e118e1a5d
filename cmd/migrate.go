package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/neverbot/internal/config"
)

var migrationsDir string

// migrationsPath picks --migrations-dir, then NEVERBOT_MIGRATIONS_DIR, then
// a migrations directory next to the binary.
func migrationsPath() string {
	switch {
	case migrationsDir != "":
		return migrationsDir
	case os.Getenv("NEVERBOT_MIGRATIONS_DIR") != "":
		return os.Getenv("NEVERBOT_MIGRATIONS_DIR")
	}
	exe, err := os.Executable()
	if err != nil {
		return "migrations"
	}
	return filepath.Join(filepath.Dir(exe), "migrations")
}

// latestMigration returns the highest version among the *.up.sql files in
// dir, or 0 when there are none.
func latestMigration(dir string) (uint, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.up.sql"))
	if err != nil {
		return 0, err
	}
	var latest uint
	for _, f := range files {
		prefix, _, ok := strings.Cut(filepath.Base(f), "_")
		if !ok {
			continue
		}
		v, err := strconv.ParseUint(prefix, 10, 64)
		if err != nil {
			continue
		}
		latest = max(latest, uint(v))
	}
	return latest, nil
}

// withMigrator opens a migrator on the managed-mode database and runs fn.
// Only Postgres is migrated; the SQLite store applies its schema on open.
func withMigrator(fn func(m *migrate.Migrate) error) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Database.PostgresDSN == "" {
		return fmt.Errorf("NEVERBOT_POSTGRES_DSN is not set; migrations apply to managed mode only")
	}
	m, err := migrate.New("file://"+migrationsPath(), cfg.Database.PostgresDSN)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	defer m.Close()
	return fn(m)
}

// ignoreNoChange treats "already there" as success.
func ignoreNoChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

func logVersion(m *migrate.Migrate, msg string) {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		slog.Info(msg, "version", "none")
		return
	}
	slog.Info(msg, "version", v, "dirty", dirty)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema used in managed mode",
	}
	cmd.PersistentFlags().StringVar(&migrationsDir, "migrations-dir", "", "directory holding the *.sql migrations")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(m *migrate.Migrate) error {
				if err := ignoreNoChange(m.Up()); err != nil {
					return fmt.Errorf("migrate up: %w", err)
				}
				logVersion(m, "schema up to date")
				return nil
			})
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the newest migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(m *migrate.Migrate) error {
				if err := ignoreNoChange(m.Steps(-max(steps, 1))); err != nil {
					return fmt.Errorf("migrate down: %w", err)
				}
				logVersion(m, "schema rolled back")
				return nil
			})
		},
	}
	down.Flags().IntVarP(&steps, "steps", "n", 1, "how many migrations to roll back")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied and the latest available schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			latest, err := latestMigration(migrationsPath())
			if err != nil {
				return err
			}
			return withMigrator(func(m *migrate.Migrate) error {
				v, dirty, err := m.Version()
				switch {
				case errors.Is(err, migrate.ErrNilVersion):
					fmt.Printf("applied: none, latest: %d\n", latest)
					return nil
				case err != nil:
					return fmt.Errorf("read version: %w", err)
				}
				fmt.Printf("applied: %d, latest: %d, dirty: %v\n", v, latest, dirty)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Record a version as applied without running it (clears dirty state)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("version %q: %w", args[0], err)
			}
			return withMigrator(func(m *migrate.Migrate) error {
				if err := m.Force(v); err != nil {
					return fmt.Errorf("force %d: %w", v, err)
				}
				logVersion(m, "schema version forced")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "goto <version>",
		Short: "Migrate up or down to exactly the given version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("version %q: %w", args[0], err)
			}
			return withMigrator(func(m *migrate.Migrate) error {
				if err := ignoreNoChange(m.Migrate(uint(v))); err != nil {
					return fmt.Errorf("migrate to %d: %w", v, err)
				}
				logVersion(m, "schema moved")
				return nil
			})
		},
	})
	return cmd
}
