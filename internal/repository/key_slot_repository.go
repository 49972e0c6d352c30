// Package repository はデータアクセス層の実装を提供する。
package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"message-crypto-service/internal/domain"
)

// KeySlotModel はgorm用のモデル定義。
type KeySlotModel struct {
	ID           string    `gorm:"type:char(36);primaryKey"`
	UserID       string    `gorm:"type:varchar(64);not null;uniqueIndex:uk_user_slot"`
	Slot         string    `gorm:"type:varchar(16);not null;uniqueIndex:uk_user_slot"`
	ProtectedKey []byte    `gorm:"type:blob;not null"`
	CreatedAt    time.Time `gorm:"type:datetime(6);not null;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"type:datetime(6);not null;autoUpdateTime"`
}

// TableName はテーブル名を返す。
func (KeySlotModel) TableName() string {
	return "key_slots"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (m *KeySlotModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

// toDomain はモデルをドメインエンティティに変換する。
func (m *KeySlotModel) toDomain() *domain.KeySlot {
	return &domain.KeySlot{
		ID:           m.ID,
		UserID:       m.UserID,
		Slot:         domain.SlotName(m.Slot),
		ProtectedKey: m.ProtectedKey,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

// AutoMigrate は端末ローカルのSQLite向けにスキーマを作成する。
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&KeySlotModel{}, &SchemaMigrationModel{})
}

// KeySlotRepository は鍵スロットへのデータアクセスを提供する。
type KeySlotRepository struct {
	db *gorm.DB
}

// NewKeySlotRepository は新しいKeySlotRepositoryを生成する。
func NewKeySlotRepository(db *gorm.DB) *KeySlotRepository {
	return &KeySlotRepository{db: db}
}

// Exists は指定されたユーザー・スロットに鍵が存在するか確認する。
func (r *KeySlotRepository) Exists(ctx context.Context, userID string, slot domain.SlotName) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&KeySlotModel{}).
		Where("user_id = ? AND slot = ?", userID, string(slot)).
		Count(&count).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to count key slots",
			"operation", "exists",
			"user_id", userID,
			"slot", slot,
			"error", err,
		)
		return false, err
	}
	return count > 0, nil
}

// FindByUserIDAndSlot は指定されたユーザー・スロットの鍵を取得する。
// 存在しない場合は nil を返す。
func (r *KeySlotRepository) FindByUserIDAndSlot(ctx context.Context, userID string, slot domain.SlotName) (*domain.KeySlot, error) {
	var model KeySlotModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND slot = ?", userID, string(slot)).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find key slot",
			"operation", "find_by_user_id_and_slot",
			"user_id", userID,
			"slot", slot,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

// ReplaceAll は指定されたユーザーの鍵スロットを1トランザクションで置き換える。
func (r *KeySlotRepository) ReplaceAll(ctx context.Context, userID string, slots []*domain.KeySlot) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&KeySlotModel{}).Error; err != nil {
			return err
		}
		for _, slot := range slots {
			model := &KeySlotModel{
				ID:           slot.ID,
				UserID:       userID,
				Slot:         string(slot.Slot),
				ProtectedKey: slot.ProtectedKey,
			}
			if err := tx.Create(model).Error; err != nil {
				return err
			}
			// gormで設定された値をドメインエンティティに反映
			slot.ID = model.ID
			slot.UserID = userID
			slot.CreatedAt = model.CreatedAt
			slot.UpdatedAt = model.UpdatedAt
		}
		return nil
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to replace key slots",
			"operation", "replace_all",
			"user_id", userID,
			"error", err,
		)
		return err
	}
	return nil
}

// DeleteByUserID は指定されたユーザーの鍵スロットをすべて削除する。
func (r *KeySlotRepository) DeleteByUserID(ctx context.Context, userID string) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&KeySlotModel{})
	if result.Error != nil {
		slog.ErrorContext(ctx, "failed to delete key slots",
			"operation", "delete_by_user_id",
			"user_id", userID,
			"error", result.Error,
		)
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
