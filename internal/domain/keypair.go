// Package domain はドメインモデルとビジネスルールを定義する。
package domain

import (
	"crypto/rsa"
	"time"
)

// SlotName は鍵スロットの種類を表す。
type SlotName string

const (
	// SlotPrivate は秘密鍵スロット。
	SlotPrivate SlotName = "private"
	// SlotPublic は公開鍵スロット。
	SlotPublic SlotName = "public"
)

// MinRSAKeyBits は許容する最小のRSA鍵長。
const MinRSAKeyBits = 2048

// KeyPair はローカルIDの非対称鍵ペアを表す。
// 秘密鍵は端末外へ送信されない。
type KeyPair struct {
	PublicKey  *rsa.PublicKey
	PrivateKey *rsa.PrivateKey
}

// KeySlot は保護済みの鍵を保存する1スロット分のレコードを表す。
type KeySlot struct {
	ID           string
	UserID       string
	Slot         SlotName
	ProtectedKey []byte // KeyProtectorで保護済みのDER
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AssociatedData はスロットを特定する追加認証データを返す。
// 別ユーザー・別スロットへのレコード差し替えを検出するために使う。
func (s *KeySlot) AssociatedData() []byte {
	return SlotAssociatedData(s.UserID, s.Slot)
}

// SlotAssociatedData はユーザーIDとスロット名から追加認証データを生成する。
func SlotAssociatedData(userID string, slot SlotName) []byte {
	return []byte(userID + "/" + string(slot))
}
