package repository

import (
	"context"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"message-crypto-service/internal/domain"
)

// setupTestDB はテスト用のインメモリSQLiteデータベースを作成する。
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	// :memory: は接続ごとに別DBになるため1接続に固定
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	sql := `
		CREATE TABLE key_slots (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			slot TEXT NOT NULL,
			protected_key BLOB NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(user_id, slot)
		);
	`
	if err := db.Exec(sql).Error; err != nil {
		t.Fatalf("failed to create key_slots table: %v", err)
	}

	return db
}

func insertSlot(t *testing.T, db *gorm.DB, id, userID, slot string, data []byte) {
	t.Helper()
	if err := db.Exec("INSERT INTO key_slots (id, user_id, slot, protected_key) VALUES (?, ?, ?, ?)",
		id, userID, slot, data).Error; err != nil {
		t.Fatalf("failed to insert test data: %v", err)
	}
}

func TestKeySlotRepository_Exists(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewKeySlotRepository(db)

	insertSlot(t, db, "slot-1", "alice", "private", []byte("protected-private"))

	exists, err := repo.Exists(ctx, "alice", domain.SlotPrivate)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("expected exists=true, got false")
	}

	// 別スロットは存在しない
	exists, err = repo.Exists(ctx, "alice", domain.SlotPublic)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists {
		t.Error("expected exists=false for public slot, got true")
	}

	// 別ユーザーは存在しない
	exists, err = repo.Exists(ctx, "bob", domain.SlotPrivate)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists {
		t.Error("expected exists=false for bob, got true")
	}
}

func TestKeySlotRepository_FindByUserIDAndSlot(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewKeySlotRepository(db)

	insertSlot(t, db, "slot-1", "alice", "public", []byte("protected-public"))

	found, err := repo.FindByUserIDAndSlot(ctx, "alice", domain.SlotPublic)
	if err != nil {
		t.Fatalf("FindByUserIDAndSlot failed: %v", err)
	}
	if found == nil {
		t.Fatal("expected slot, got nil")
	}
	if found.ID != "slot-1" {
		t.Errorf("expected ID slot-1, got %s", found.ID)
	}
	if found.Slot != domain.SlotPublic {
		t.Errorf("expected slot public, got %s", found.Slot)
	}
	if string(found.ProtectedKey) != "protected-public" {
		t.Errorf("unexpected protected key: %q", found.ProtectedKey)
	}

	// 存在しない場合はnil, nil
	missing, err := repo.FindByUserIDAndSlot(ctx, "alice", domain.SlotPrivate)
	if err != nil {
		t.Fatalf("FindByUserIDAndSlot failed: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for missing slot, got %+v", missing)
	}
}

func TestKeySlotRepository_ReplaceAll(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewKeySlotRepository(db)

	insertSlot(t, db, "old-private", "alice", "private", []byte("old-private"))
	insertSlot(t, db, "old-public", "alice", "public", []byte("old-public"))
	insertSlot(t, db, "bob-private", "bob", "private", []byte("bob-private"))

	slots := []*domain.KeySlot{
		{Slot: domain.SlotPrivate, ProtectedKey: []byte("new-private")},
		{Slot: domain.SlotPublic, ProtectedKey: []byte("new-public")},
	}
	if err := repo.ReplaceAll(ctx, "alice", slots); err != nil {
		t.Fatalf("ReplaceAll failed: %v", err)
	}

	for _, s := range slots {
		if s.ID == "" {
			t.Error("expected ID to be generated")
		}
		if s.UserID != "alice" {
			t.Errorf("expected user alice, got %s", s.UserID)
		}
	}

	priv, err := repo.FindByUserIDAndSlot(ctx, "alice", domain.SlotPrivate)
	if err != nil {
		t.Fatalf("FindByUserIDAndSlot failed: %v", err)
	}
	if priv == nil || string(priv.ProtectedKey) != "new-private" {
		t.Errorf("private slot was not replaced: %+v", priv)
	}
	if priv != nil && priv.ID == "old-private" {
		t.Error("old private slot still present")
	}

	var count int64
	if err := db.Model(&KeySlotModel{}).Where("user_id = ?", "alice").Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 slots for alice, got %d", count)
	}

	// 他ユーザーには影響しない
	bob, err := repo.FindByUserIDAndSlot(ctx, "bob", domain.SlotPrivate)
	if err != nil {
		t.Fatalf("FindByUserIDAndSlot failed: %v", err)
	}
	if bob == nil {
		t.Error("bob's slot should remain")
	}
}

func TestKeySlotRepository_ReplaceAll_RollsBackOnDuplicate(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewKeySlotRepository(db)

	insertSlot(t, db, "old-private", "alice", "private", []byte("old-private"))

	// 同じスロットを2回書くとUNIQUE制約違反
	slots := []*domain.KeySlot{
		{Slot: domain.SlotPrivate, ProtectedKey: []byte("a")},
		{Slot: domain.SlotPrivate, ProtectedKey: []byte("b")},
	}
	if err := repo.ReplaceAll(ctx, "alice", slots); err == nil {
		t.Fatal("expected error for duplicate slot, got nil")
	}

	priv, err := repo.FindByUserIDAndSlot(ctx, "alice", domain.SlotPrivate)
	if err != nil {
		t.Fatalf("FindByUserIDAndSlot failed: %v", err)
	}
	if priv == nil || priv.ID != "old-private" {
		t.Errorf("expected rollback to keep old slot, got %+v", priv)
	}
}

func TestKeySlotRepository_DeleteByUserID(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewKeySlotRepository(db)

	insertSlot(t, db, "a-private", "alice", "private", []byte("p"))
	insertSlot(t, db, "a-public", "alice", "public", []byte("q"))
	insertSlot(t, db, "b-private", "bob", "private", []byte("r"))

	deleted, err := repo.DeleteByUserID(ctx, "alice")
	if err != nil {
		t.Fatalf("DeleteByUserID failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("expected 2 rows deleted, got %d", deleted)
	}

	exists, err := repo.Exists(ctx, "alice", domain.SlotPrivate)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists {
		t.Error("alice's private slot should be deleted")
	}

	// 存在しないユーザーの削除はエラーにならない
	deleted, err = repo.DeleteByUserID(ctx, "nobody")
	if err != nil {
		t.Fatalf("DeleteByUserID failed: %v", err)
	}
	if deleted != 0 {
		t.Errorf("expected 0 rows deleted, got %d", deleted)
	}
}

func TestAutoMigrate(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate failed: %v", err)
	}
	for _, table := range []string{"key_slots", "schema_migrations"} {
		if !db.Migrator().HasTable(table) {
			t.Errorf("expected table %s to exist", table)
		}
	}

	repo := NewKeySlotRepository(db)
	ctx := context.Background()
	if err := repo.ReplaceAll(ctx, "alice", []*domain.KeySlot{{Slot: domain.SlotPublic, ProtectedKey: []byte("x")}}); err != nil {
		t.Fatalf("ReplaceAll after AutoMigrate failed: %v", err)
	}
}
