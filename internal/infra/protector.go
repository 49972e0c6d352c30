package infra

import (
	"context"
	"fmt"

	"message-crypto-service/config"
	"message-crypto-service/internal/domain"
)

// Protector は鍵スロットの保護（暗号化）を行うセキュアストレージ。
type Protector interface {
	Protect(ctx context.Context, plaintext, aad []byte) ([]byte, error)
	Unprotect(ctx context.Context, ciphertext, aad []byte) ([]byte, error)
	Close() error
}

// NewProtector は設定に応じたProtectorを生成する。
// 構成されていない場合は平文保存にフォールバックせず ErrSecureStorageUnavailable を返す。
func NewProtector(ctx context.Context, cfg *config.Config) (Protector, error) {
	switch cfg.KeyProtector {
	case "kms":
		return NewKMSProtector(ctx, cfg.KMSKeyName)
	case "passphrase":
		if cfg.KeyPassphrase == "" {
			return nil, fmt.Errorf("%w: KEY_PASSPHRASE is not set", domain.ErrSecureStorageUnavailable)
		}
		return NewPassphraseProtector(cfg.KeyPassphrase, DefaultArgon2Params)
	default:
		return nil, fmt.Errorf("%w: unknown KEY_PROTECTOR %q", domain.ErrSecureStorageUnavailable, cfg.KeyProtector)
	}
}
