package migration

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
)

// =============================================================================
// 🖨️ 迁移命令输出
// =============================================================================

// CLI 把 Migrator 的操作包装成 config2flow migrate 子命令的可读输出
type CLI struct {
	migrator Migrator
	output   io.Writer
}

// NewCLI 创建 CLI，默认输出到 stdout
func NewCLI(migrator Migrator) *CLI {
	return &CLI{migrator: migrator, output: os.Stdout}
}

// SetOutput 设置输出目标（cobra 命令传入 cmd.OutOrStdout()）
func (c *CLI) SetOutput(w io.Writer) {
	c.output = w
}

func (c *CLI) printf(format string, args ...any) {
	fmt.Fprintf(c.output, format, args...)
}

// apply 执行一次变更并打印变更后的版本；dirty 时提示用 force 修复
func (c *CLI) apply(ctx context.Context, banner, failure string, op func(context.Context) error) error {
	c.printf("%s\n", banner)
	if err := op(ctx); err != nil {
		return fmt.Errorf("%s: %w", failure, err)
	}

	info, err := c.migrator.Info(ctx)
	if err != nil {
		return err
	}
	c.printf("Done. Current version: %d\n", info.CurrentVersion)
	if info.Dirty {
		c.printf("Schema is dirty; fix it manually, then run: config2flow migrate force %d\n", info.CurrentVersion)
	}
	return nil
}

// RunUp 应用全部待执行迁移（run_records 表）
func (c *CLI) RunUp(ctx context.Context) error {
	return c.apply(ctx, "Applying pending migrations...", "migration failed", c.migrator.Up)
}

// RunDown 回滚最近一次迁移
func (c *CLI) RunDown(ctx context.Context) error {
	return c.apply(ctx, "Rolling back the last migration...", "rollback failed", c.migrator.Down)
}

// RunDownAll 回滚全部迁移，run_records 表会被删除
func (c *CLI) RunDownAll(ctx context.Context) error {
	c.printf("Rolling back all migrations...\n")
	if err := c.migrator.DownAll(ctx); err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}
	c.printf("All migrations rolled back.\n")
	return nil
}

// RunSteps n>0 前进，n<0 回退
func (c *CLI) RunSteps(ctx context.Context, n int) error {
	banner := fmt.Sprintf("Applying %d migration(s)...", n)
	if n < 0 {
		banner = fmt.Sprintf("Rolling back %d migration(s)...", -n)
	}
	return c.apply(ctx, banner, "migration steps failed", func(ctx context.Context) error {
		return c.migrator.Steps(ctx, n)
	})
}

// RunGoto 迁移到指定版本
func (c *CLI) RunGoto(ctx context.Context, version uint) error {
	return c.apply(ctx, fmt.Sprintf("Migrating to version %d...", version), "migration failed", func(ctx context.Context) error {
		return c.migrator.Goto(ctx, version)
	})
}

// RunForce 只改写版本号，不执行 SQL
func (c *CLI) RunForce(ctx context.Context, version int) error {
	c.printf("Forcing version to %d...\n", version)
	if err := c.migrator.Force(ctx, version); err != nil {
		return fmt.Errorf("force failed: %w", err)
	}
	c.printf("Version forced to %d\n", version)
	return nil
}

// RunVersion 打印当前版本
func (c *CLI) RunVersion(ctx context.Context) error {
	version, dirty, err := c.migrator.Version(ctx)
	if err != nil {
		return fmt.Errorf("failed to get version: %w", err)
	}
	switch {
	case version == 0:
		c.printf("No migrations applied yet.\n")
	case dirty:
		c.printf("Current version: %d (dirty)\n", version)
	default:
		c.printf("Current version: %d\n", version)
	}
	return nil
}

// RunStatus 以表格列出每个迁移文件的状态，再打印汇总
func (c *CLI) RunStatus(ctx context.Context) error {
	statuses, err := c.migrator.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}
	if len(statuses) == 0 {
		c.printf("No migrations found.\n")
		return nil
	}

	w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tSTATUS\tAPPLIED AT")
	for _, s := range statuses {
		state, at := "Pending", "-"
		if s.Applied {
			state = "Applied"
		}
		if s.Dirty {
			state = "Dirty"
		}
		if s.AppliedAt != nil {
			at = s.AppliedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%06d\t%s\t%s\t%s\n", s.Version, s.Name, state, at)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	info, err := c.migrator.Info(ctx)
	if err != nil {
		return err
	}
	c.printf("\nTotal: %d, Applied: %d, Pending: %d\n",
		info.TotalMigrations, info.AppliedMigrations, info.PendingMigrations)
	return nil
}

// RunInfo 打印迁移汇总信息
func (c *CLI) RunInfo(ctx context.Context) error {
	info, err := c.migrator.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to get info: %w", err)
	}

	w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Current Version:\t", info.CurrentVersion)
	fmt.Fprintln(w, "Dirty:\t", info.Dirty)
	fmt.Fprintln(w, "Total Migrations:\t", info.TotalMigrations)
	fmt.Fprintln(w, "Applied Migrations:\t", info.AppliedMigrations)
	fmt.Fprintln(w, "Pending Migrations:\t", info.PendingMigrations)
	return w.Flush()
}
