package usecase

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"
	"time"

	"message-crypto-service/internal/domain"
)

// mockMigrationRepository はテスト用のモック。
type mockMigrationRepository struct {
	applied    map[string]*domain.Migration
	statements []string
	applyErr   map[string]error
	ensureErr  error
}

func newMockMigrationRepository() *mockMigrationRepository {
	return &mockMigrationRepository{
		applied:  make(map[string]*domain.Migration),
		applyErr: make(map[string]error),
	}
}

func (m *mockMigrationRepository) EnsureHistoryTable(ctx context.Context) error {
	return m.ensureErr
}

func (m *mockMigrationRepository) FindAllApplied(ctx context.Context) ([]*domain.Migration, error) {
	var result []*domain.Migration
	for _, migration := range m.applied {
		result = append(result, migration)
	}
	return result, nil
}

func (m *mockMigrationRepository) IsMigrationApplied(ctx context.Context, version string) (bool, error) {
	_, exists := m.applied[version]
	return exists, nil
}

func (m *mockMigrationRepository) Apply(ctx context.Context, version, statement string) error {
	if err := m.applyErr[version]; err != nil {
		return err
	}
	now := time.Now()
	m.applied[version] = &domain.Migration{
		Version:   version,
		AppliedAt: &now,
		Status:    domain.MigrationStatusApplied,
	}
	m.statements = append(m.statements, statement)
	return nil
}

func testMigrationsFS() fstest.MapFS {
	return fstest.MapFS{
		"002_add_index.sql":        {Data: []byte("CREATE INDEX idx ON key_slots (slot);")},
		"001_create_key_slots.sql": {Data: []byte("CREATE TABLE key_slots (id TEXT);")},
		"README.md":                {Data: []byte("ignored")},
	}
}

func TestMigrationService_ApplyMigrations(t *testing.T) {
	ctx := context.Background()
	repo := newMockMigrationRepository()
	service := NewMigrationService(repo, testMigrationsFS())

	count, err := service.ApplyMigrations(ctx)
	if err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 migrations applied, got %d", count)
	}

	// バージョン順に実行される
	if len(repo.statements) != 2 || repo.statements[0] != "CREATE TABLE key_slots (id TEXT);" {
		t.Errorf("unexpected statement order: %v", repo.statements)
	}

	// 2回目は何も適用しない
	count, err = service.ApplyMigrations(ctx)
	if err != nil {
		t.Fatalf("second ApplyMigrations failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 migrations on second run, got %d", count)
	}
}

func TestMigrationService_ApplyMigrations_StopsOnFailure(t *testing.T) {
	ctx := context.Background()
	repo := newMockMigrationRepository()
	repo.applyErr["002"] = errors.New("syntax error")
	service := NewMigrationService(repo, testMigrationsFS())

	count, err := service.ApplyMigrations(ctx)
	if !errors.Is(err, domain.ErrMigrationFailed) {
		t.Fatalf("expected ErrMigrationFailed, got %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 migration applied before failure, got %d", count)
	}
}

func TestMigrationService_ApplyMigrations_HistoryTableError(t *testing.T) {
	repo := newMockMigrationRepository()
	repo.ensureErr = errors.New("permission denied")
	service := NewMigrationService(repo, testMigrationsFS())

	if _, err := service.ApplyMigrations(context.Background()); !errors.Is(err, domain.ErrMigrationFailed) {
		t.Errorf("expected ErrMigrationFailed, got %v", err)
	}
}

func TestMigrationService_GetMigrationStatus(t *testing.T) {
	ctx := context.Background()
	repo := newMockMigrationRepository()
	now := time.Now()
	repo.applied["001"] = &domain.Migration{Version: "001", AppliedAt: &now, Status: domain.MigrationStatusApplied}
	service := NewMigrationService(repo, testMigrationsFS())

	status, err := service.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus failed: %v", err)
	}
	if len(status) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(status))
	}
	if status[0].Version != "001" || status[0].Status != domain.MigrationStatusApplied {
		t.Errorf("expected 001 applied, got %+v", status[0])
	}
	if status[0].AppliedAt == nil {
		t.Error("expected AppliedAt for applied migration")
	}
	if status[1].Version != "002" || status[1].Status != domain.MigrationStatusPending {
		t.Errorf("expected 002 pending, got %+v", status[1])
	}
	if status[1].Name != "add_index" {
		t.Errorf("expected name add_index, got %s", status[1].Name)
	}
}

func TestMigrationService_InvalidFileName(t *testing.T) {
	fsys := fstest.MapFS{
		"create_key_slots.sql": {Data: []byte("SELECT 1;")},
	}
	service := NewMigrationService(newMockMigrationRepository(), fsys)

	if _, err := service.ApplyMigrations(context.Background()); !errors.Is(err, domain.ErrInvalidMigrationFile) {
		t.Errorf("expected ErrInvalidMigrationFile, got %v", err)
	}
}

func TestMigrationService_DuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"001_a.sql": {Data: []byte("SELECT 1;")},
		"001_b.sql": {Data: []byte("SELECT 2;")},
	}
	service := NewMigrationService(newMockMigrationRepository(), fsys)

	if _, err := service.GetMigrationStatus(context.Background()); !errors.Is(err, domain.ErrInvalidMigrationFile) {
		t.Errorf("expected ErrInvalidMigrationFile, got %v", err)
	}
}

func TestParseMigrationFileName(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion string
		wantName    string
		wantErr     bool
	}{
		{"001_create_key_slots.sql", "001", "create_key_slots", false},
		{"20240101_init.sql", "20240101", "init", false},
		{"nounderscore.sql", "", "", true},
		{"abc_name.sql", "", "", true},
		{"_name.sql", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, err := parseMigrationFileName(tt.filename)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if version != tt.wantVersion || name != tt.wantName {
				t.Errorf("got (%s, %s), want (%s, %s)", version, name, tt.wantVersion, tt.wantName)
			}
		})
	}
}
