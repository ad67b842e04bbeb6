package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/BaSui01/config2flow/internal/migration"
)

// =============================================================================
// 🗄️ Database Migration Commands
// =============================================================================

type migrateFlags struct {
	dbType string
	dbURL  string
}

func newMigrateCmd(c *cli) *cobra.Command {
	mf := &migrateFlags{}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the run history schema (postgres, mysql)",
		Long: `Database migrations for the sql run store.

The connection comes from store.database in --settings, or from
--db-type together with --db-url. SQLite schemas are created by
AutoMigrate when the store opens and need no migrations.`,
		Example: `  config2flow migrate up --settings config.yaml
  config2flow migrate status --db-type postgres --db-url postgres://localhost/config2flow
  config2flow migrate goto 1
  config2flow migrate force 0`,
	}
	cmd.PersistentFlags().StringVar(&mf.dbType, "db-type", "", "database type: postgres, mysql (default: from settings)")
	cmd.PersistentFlags().StringVar(&mf.dbURL, "db-url", "", "database connection URL (default: from settings)")

	sub := func(use, short string, args cobra.PositionalArgs, run func(ctx context.Context, m *migration.CLI, args []string) error) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  args,
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withMigrator(cmd, mf, func(m *migration.CLI) error {
					return run(cmd.Context(), m, args)
				})
			},
		}
	}

	var all bool
	down := sub("down", "Rollback the last migration", cobra.NoArgs, func(ctx context.Context, m *migration.CLI, _ []string) error {
		if all {
			return m.RunDownAll(ctx)
		}
		return m.RunDown(ctx)
	})
	down.Flags().BoolVar(&all, "all", false, "rollback all migrations")

	cmd.AddCommand(
		sub("up", "Apply all pending migrations", cobra.NoArgs, func(ctx context.Context, m *migration.CLI, _ []string) error {
			return m.RunUp(ctx)
		}),
		down,
		sub("status", "Show migration status", cobra.NoArgs, func(ctx context.Context, m *migration.CLI, _ []string) error {
			return m.RunStatus(ctx)
		}),
		sub("version", "Show current migration version", cobra.NoArgs, func(ctx context.Context, m *migration.CLI, _ []string) error {
			return m.RunVersion(ctx)
		}),
		sub("info", "Show detailed migration information", cobra.NoArgs, func(ctx context.Context, m *migration.CLI, _ []string) error {
			return m.RunInfo(ctx)
		}),
		sub("steps <n>", "Apply (n > 0) or rollback (n < 0) n migrations", cobra.ExactArgs(1), func(ctx context.Context, m *migration.CLI, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid step count: %s", args[0])
			}
			return m.RunSteps(ctx, n)
		}),
		sub("goto <version>", "Migrate to a specific version", cobra.ExactArgs(1), func(ctx context.Context, m *migration.CLI, args []string) error {
			version, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid version number: %s", args[0])
			}
			return m.RunGoto(ctx, uint(version))
		}),
		sub("force <version>", "Force set migration version (use with caution)", cobra.ExactArgs(1), func(ctx context.Context, m *migration.CLI, args []string) error {
			version, err := strconv.ParseInt(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid version number: %s", args[0])
			}
			return m.RunForce(ctx, int(version))
		}),
		sub("reset", "Rollback all migrations", cobra.NoArgs, func(ctx context.Context, m *migration.CLI, _ []string) error {
			return m.RunDownAll(ctx)
		}),
	)
	return cmd
}

// withMigrator 按参数或运行配置创建 migrator，执行 fn 后关闭
func (c *cli) withMigrator(cmd *cobra.Command, mf *migrateFlags, fn func(m *migration.CLI) error) error {
	var (
		migrator *migration.DefaultMigrator
		err      error
	)
	if mf.dbType != "" && mf.dbURL != "" {
		migrator, err = migration.NewMigratorFromURL(mf.dbType, mf.dbURL)
	} else {
		dbCfg := c.cfg.Store.Database
		if mf.dbType != "" {
			dbCfg.Driver = mf.dbType
		}
		migrator, err = migration.NewMigratorFromDatabaseConfig(dbCfg)
	}
	if errors.Is(err, migration.ErrAutoMigrated) {
		fmt.Fprintln(cmd.OutOrStdout(), "SQLite schema is managed by AutoMigrate; nothing to migrate.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer migrator.Close()

	m := migration.NewCLI(migrator)
	m.SetOutput(cmd.OutOrStdout())
	return fn(m)
}
