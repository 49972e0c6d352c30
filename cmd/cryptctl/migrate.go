package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"message-crypto-service/config"
	"message-crypto-service/internal/domain"
	"message-crypto-service/internal/infra"
	"message-crypto-service/internal/repository"
	"message-crypto-service/internal/usecase"
	"message-crypto-service/migrations"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long:  "Manage key_slots schema migrations (DB_DRIVER / DATABASE_URL from the environment)",
		// APIクライアントは使わない
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	}
	cmd.AddCommand(migrateUpCmd(), migrateStatusCmd())
	return cmd
}

// newMigrationService は設定からMigrationServiceを組み立てる。
// MIGRATIONS_DIR が存在すればそれを、なければバイナリに埋め込んだSQLを使う。
func newMigrationService() (*usecase.MigrationService, error) {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	db, err := infra.NewDB(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	var source fs.FS = migrations.FS
	if info, err := os.Stat(cfg.MigrationsDir); err == nil && info.IsDir() {
		source = os.DirFS(cfg.MigrationsDir)
	}
	return usecase.NewMigrationService(repository.NewMigrationRepository(db), source), nil
}

func migrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newMigrationService()
			if err != nil {
				return err
			}

			appliedCount, err := svc.ApplyMigrations(context.Background())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			if appliedCount == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No pending migrations.")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", appliedCount)
			}
			return nil
		},
	}
}

func migrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newMigrationService()
			if err != nil {
				return err
			}

			list, err := svc.GetMigrationStatus(context.Background())
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			// テーブル形式で出力
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "VERSION\tNAME\tSTATUS\tAPPLIED AT")
			for _, m := range list {
				appliedAt := "-"
				if m.AppliedAt != nil {
					appliedAt = m.AppliedAt.Format("2006-01-02 15:04:05")
				}
				status := string(domain.MigrationStatusPending)
				if m.Status == domain.MigrationStatusApplied {
					status = string(domain.MigrationStatusApplied)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.Version, m.Name, status, appliedAt)
			}
			return w.Flush()
		},
	}
}
