package usecase

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"

	"message-crypto-service/internal/domain"
)

// MigrationRepository はマイグレーション履歴を管理するリポジトリのインターフェース。
type MigrationRepository interface {
	EnsureHistoryTable(ctx context.Context) error
	FindAllApplied(ctx context.Context) ([]*domain.Migration, error)
	IsMigrationApplied(ctx context.Context, version string) (bool, error)
	Apply(ctx context.Context, version, statement string) error
}

// MigrationService は key_slots スキーマのマイグレーションを実行する。
type MigrationService struct {
	repo       MigrationRepository
	migrations fs.FS
}

// NewMigrationService は新しいMigrationServiceを生成する。
// migrations には *.sql を直下に持つファイルシステムを渡す。
func NewMigrationService(repo MigrationRepository, migrations fs.FS) *MigrationService {
	return &MigrationService{
		repo:       repo,
		migrations: migrations,
	}
}

// scanMigrationFiles は .sql ファイルをバージョン順に列挙する。
func (s *MigrationService) scanMigrationFiles() ([]*domain.Migration, error) {
	entries, err := fs.ReadDir(s.migrations, ".")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMigrationFileNotFound, err)
	}

	var migrations []*domain.Migration
	seen := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}

		version, name, err := parseMigrationFileName(entry.Name())
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("%w: version %s used by %s and %s", domain.ErrInvalidMigrationFile, version, prev, entry.Name())
		}
		seen[version] = entry.Name()

		migrations = append(migrations, &domain.Migration{
			Version:  version,
			Name:     name,
			FilePath: entry.Name(),
			Status:   domain.MigrationStatusPending,
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

// parseMigrationFileName はファイル名からバージョンと名前を抽出する。
// フォーマット: {version}_{name}.sql (例: 001_create_key_slots.sql)
func parseMigrationFileName(filename string) (version, name string, err error) {
	version, name, ok := strings.Cut(strings.TrimSuffix(filename, ".sql"), "_")
	if !ok || version == "" || name == "" {
		return "", "", fmt.Errorf("%w: %s (expected format: {version}_{name}.sql)", domain.ErrInvalidMigrationFile, filename)
	}
	for _, r := range version {
		if r < '0' || r > '9' {
			return "", "", fmt.Errorf("%w: %s (version must be numeric)", domain.ErrInvalidMigrationFile, filename)
		}
	}
	return version, name, nil
}

// ApplyMigrations は未適用マイグレーションを番号順に実行し、適用件数を返す。
func (s *MigrationService) ApplyMigrations(ctx context.Context) (int, error) {
	all, err := s.scanMigrationFiles()
	if err != nil {
		slog.ErrorContext(ctx, "failed to scan migration files",
			"operation", "apply_migrations",
			"error", err,
		)
		return 0, err
	}

	if err := s.repo.EnsureHistoryTable(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrMigrationFailed, err)
	}

	applied := 0
	for _, migration := range all {
		done, err := s.repo.IsMigrationApplied(ctx, migration.Version)
		if err != nil {
			return applied, fmt.Errorf("failed to check migration status: %w", err)
		}
		if done {
			continue
		}

		statement, err := fs.ReadFile(s.migrations, migration.FilePath)
		if err != nil {
			return applied, fmt.Errorf("%w: %s: %v", domain.ErrMigrationFileNotFound, migration.FilePath, err)
		}

		if err := s.repo.Apply(ctx, migration.Version, string(statement)); err != nil {
			return applied, fmt.Errorf("%w: version %s: %v", domain.ErrMigrationFailed, migration.Version, err)
		}
		slog.InfoContext(ctx, "migration applied",
			"operation", "apply_migrations",
			"version", migration.Version,
			"name", migration.Name,
		)
		applied++
	}

	return applied, nil
}

// GetMigrationStatus は各マイグレーションの適用状況を返す。
func (s *MigrationService) GetMigrationStatus(ctx context.Context) ([]*domain.Migration, error) {
	all, err := s.scanMigrationFiles()
	if err != nil {
		return nil, err
	}

	if err := s.repo.EnsureHistoryTable(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMigrationFailed, err)
	}

	appliedMigrations, err := s.repo.FindAllApplied(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch applied migrations: %w", err)
	}

	appliedMap := make(map[string]*domain.Migration, len(appliedMigrations))
	for _, m := range appliedMigrations {
		appliedMap[m.Version] = m
	}

	for _, migration := range all {
		if applied, ok := appliedMap[migration.Version]; ok {
			migration.Status = domain.MigrationStatusApplied
			migration.AppliedAt = applied.AppliedAt
		}
	}

	return all, nil
}
