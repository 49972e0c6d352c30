package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrKeyNotFound はローカルに秘密鍵（または公開鍵）が存在しない場合のエラー。
	ErrKeyNotFound = errors.New("key not found")

	// ErrNoRecipientKey は送信先ユーザーが公開鍵を公開していない場合のエラー。
	ErrNoRecipientKey = errors.New("recipient has no public key")

	// ErrInvalidPublicKey は公開鍵の形式が不正な場合のエラー。
	ErrInvalidPublicKey = errors.New("invalid public key")

	// ErrInvalidPrivateKey は保存された秘密鍵の形式が不正な場合のエラー。
	ErrInvalidPrivateKey = errors.New("invalid private key")

	// ErrMalformedEncoding はテキストからバイト列への変換に失敗した場合のエラー。
	ErrMalformedEncoding = errors.New("malformed encoding")

	// ErrDecryptionFailed は改ざん・鍵の不一致・破損により復号できない場合のエラー。
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrKeyGenerationFailed は鍵ペアの生成に失敗した場合のエラー。
	ErrKeyGenerationFailed = errors.New("key generation failed")

	// ErrWeakKeySize は鍵長が最小要件（2048bit）を満たさない場合のエラー。
	ErrWeakKeySize = errors.New("key size below 2048 bits")

	// ErrInvalidPlaintext は平文が有効なUTF-8でない場合のエラー。
	ErrInvalidPlaintext = errors.New("plaintext is not valid UTF-8")

	// ErrSecureStorageUnavailable は鍵保護（KMS/パスフレーズ）が構成されていない場合のエラー。
	ErrSecureStorageUnavailable = errors.New("secure key storage is unavailable")

	// ErrKeyProtectionFailed は保存された鍵の保護解除に失敗した場合のエラー。
	ErrKeyProtectionFailed = errors.New("key protection failed")

	// ErrInvalidUserID はユーザーIDの形式が不正な場合のエラー。
	ErrInvalidUserID = errors.New("invalid user ID")

	// ErrSessionNotFound は指定されたセッションが存在しない場合のエラー。
	ErrSessionNotFound = errors.New("session not found")

	// ErrMigrationFailed はマイグレーション実行時のエラー。
	ErrMigrationFailed = errors.New("migration failed")

	// ErrMigrationFileNotFound はマイグレーションファイルが見つからない場合のエラー。
	ErrMigrationFileNotFound = errors.New("migration file not found")

	// ErrInvalidMigrationFile はマイグレーションファイルのフォーマットが不正な場合のエラー。
	ErrInvalidMigrationFile = errors.New("invalid migration file")
)

// DecryptStage は復号処理のどの段階で失敗したかを表す。
type DecryptStage string

const (
	// StageUnwrapKey は共通鍵のアンラップ（RSA-OAEP）での失敗。
	StageUnwrapKey DecryptStage = "unwrap_key"
	// StageImportKey は共通鍵のインポートでの失敗。
	StageImportKey DecryptStage = "import_key"
	// StageAuthenticate はAES-GCMの認証タグ検証での失敗。
	StageAuthenticate DecryptStage = "authenticate"
	// StageDecodeText は復号結果のUTF-8デコードでの失敗。
	StageDecodeText DecryptStage = "decode_text"
)

// DecryptionError は段階ごとに区別された復号エラー。
// errors.Is(err, ErrDecryptionFailed) で判定できる。
type DecryptionError struct {
	Stage DecryptStage
	Err   error
}

func (e *DecryptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrDecryptionFailed, e.Stage, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrDecryptionFailed, e.Stage)
}

// Is は ErrDecryptionFailed との一致を判定する。
func (e *DecryptionError) Is(target error) bool {
	return target == ErrDecryptionFailed
}

func (e *DecryptionError) Unwrap() error {
	return e.Err
}
