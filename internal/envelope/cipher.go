package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/awnumar/memguard"

	"message-crypto-service/internal/domain"
)

const (
	// SymmetricKeySize はAES-256の鍵長（バイト）。
	SymmetricKeySize = 32
	// NonceSize はGCMのノンス長（バイト）。
	NonceSize = 12
	// TagSize はGCMの認証タグ長（バイト）。
	TagSize = 16
)

var (
	errInvalidKeySize   = errors.New("invalid symmetric key size")
	errInvalidNonceSize = errors.New("invalid nonce size")
)

// Cipher はメッセージ単位の暗号化・復号を行う。
// 状態を持たないため並行に使用できる。
type Cipher struct {
	random io.Reader
}

// NewCipher は暗号論的乱数を使うCipherを生成する。
func NewCipher() *Cipher {
	return &Cipher{random: rand.Reader}
}

// Encrypt は平文を新しい共通鍵で暗号化し、共通鍵を受信者の公開鍵でラップする。
// 共通鍵はこの呼び出しの外に残らない。
func (c *Cipher) Encrypt(plaintext string, recipient *rsa.PublicKey) (*domain.Envelope, error) {
	if recipient == nil {
		return nil, domain.ErrNoRecipientKey
	}
	if !utf8.ValidString(plaintext) {
		return nil, domain.ErrInvalidPlaintext
	}

	key := make([]byte, SymmetricKeySize)
	if _, err := io.ReadFull(c.random, key); err != nil {
		return nil, fmt.Errorf("%w: generating symmetric key: %v", domain.ErrKeyGenerationFailed, err)
	}
	defer memguard.WipeBytes(key)

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(c.random, nonce); err != nil {
		return nil, fmt.Errorf("%w: generating nonce: %v", domain.ErrKeyGenerationFailed, err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	wrappedKey, err := rsa.EncryptOAEP(sha256.New(), c.random, recipient, key, nil)
	if err != nil {
		return nil, fmt.Errorf("wrapping key: %w", err)
	}

	return &domain.Envelope{
		Ciphertext: ciphertext,
		WrappedKey: wrappedKey,
		Nonce:      nonce,
	}, nil
}

// Decrypt はラップされた共通鍵を秘密鍵で復元し、暗号文を復号する。
// どの段階で失敗しても平文は返さない。
func (c *Cipher) Decrypt(env *domain.Envelope, priv *rsa.PrivateKey) (string, error) {
	if priv == nil {
		return "", domain.ErrKeyNotFound
	}
	if env == nil {
		return "", &domain.DecryptionError{Stage: domain.StageUnwrapKey, Err: errors.New("nil envelope")}
	}

	key, err := rsa.DecryptOAEP(sha256.New(), nil, priv, env.WrappedKey, nil)
	if err != nil {
		return "", &domain.DecryptionError{Stage: domain.StageUnwrapKey, Err: err}
	}
	defer memguard.WipeBytes(key)

	if len(key) != SymmetricKeySize {
		return "", &domain.DecryptionError{
			Stage: domain.StageImportKey,
			Err:   fmt.Errorf("%w: got %d, want %d", errInvalidKeySize, len(key), SymmetricKeySize),
		}
	}
	gcm, err := newGCM(key)
	if err != nil {
		return "", &domain.DecryptionError{Stage: domain.StageImportKey, Err: err}
	}

	// Open はノンス長が不正だとpanicする
	if len(env.Nonce) != gcm.NonceSize() {
		return "", &domain.DecryptionError{
			Stage: domain.StageAuthenticate,
			Err:   fmt.Errorf("%w: got %d, want %d", errInvalidNonceSize, len(env.Nonce), gcm.NonceSize()),
		}
	}
	plaintext, err := gcm.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return "", &domain.DecryptionError{Stage: domain.StageAuthenticate, Err: err}
	}

	if !utf8.Valid(plaintext) {
		memguard.WipeBytes(plaintext)
		return "", &domain.DecryptionError{Stage: domain.StageDecodeText}
	}
	return string(plaintext), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
