// Package usecase はアプリケーションのユースケースを実装する。
package usecase

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"message-crypto-service/internal/domain"
	"message-crypto-service/internal/envelope"
)

var tracer = otel.Tracer("message-crypto-service/usecase")

// KeySlotRepository は鍵スロットのデータアクセスのインターフェース。
type KeySlotRepository interface {
	Exists(ctx context.Context, userID string, slot domain.SlotName) (bool, error)
	FindByUserIDAndSlot(ctx context.Context, userID string, slot domain.SlotName) (*domain.KeySlot, error)
	ReplaceAll(ctx context.Context, userID string, slots []*domain.KeySlot) error
	DeleteByUserID(ctx context.Context, userID string) (int64, error)
}

// KeyProtector は保存する鍵の保護/保護解除のインターフェース。
type KeyProtector interface {
	Protect(ctx context.Context, plaintext, aad []byte) ([]byte, error)
	Unprotect(ctx context.Context, ciphertext, aad []byte) ([]byte, error)
}

// KeyPairGenerator は鍵ペア生成のインターフェース。
type KeyPairGenerator interface {
	Generate() (*domain.KeyPair, error)
}

// MetricsRecorder は操作結果を記録するインターフェース。
type MetricsRecorder interface {
	ObserveOperation(operation, result string, elapsed time.Duration)
}

// KeyPairManager はローカルIDの鍵ペアの生成・保存・読み出しを行う。
// 保護解除した鍵はClearまでメモリ上に保持する。
type KeyPairManager struct {
	repo      KeySlotRepository
	protector KeyProtector
	generator KeyPairGenerator
	metrics   MetricsRecorder

	mu    sync.RWMutex
	cache map[string]*domain.KeyPair

	// generations はClearのたびに進む。読み込み開始後に進んでいればキャッシュしない。
	generations map[string]uint64
}

// NewKeyPairManager は新しいKeyPairManagerを生成する。
// protector が nil の場合は ErrSecureStorageUnavailable を返す。
func NewKeyPairManager(repo KeySlotRepository, protector KeyProtector, generator KeyPairGenerator, metrics MetricsRecorder) (*KeyPairManager, error) {
	if protector == nil {
		return nil, domain.ErrSecureStorageUnavailable
	}
	return &KeyPairManager{
		repo:        repo,
		protector:   protector,
		generator:   generator,
		metrics:     metrics,
		cache:       make(map[string]*domain.KeyPair),
		generations: make(map[string]uint64),
	}, nil
}

// HasKeyPair は秘密鍵が保存されているかを返す。
func (m *KeyPairManager) HasKeyPair(ctx context.Context, userID string) (bool, error) {
	exists, err := m.repo.Exists(ctx, userID, domain.SlotPrivate)
	if err != nil {
		return false, fmt.Errorf("checking private key slot: %w", err)
	}
	return exists, nil
}

// GenerateKeyPair は新しい鍵ペアを生成する。保存はしない。
func (m *KeyPairManager) GenerateKeyPair() (*domain.KeyPair, error) {
	kp, err := m.generator.Generate()
	if err != nil {
		if errors.Is(err, domain.ErrKeyGenerationFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrKeyGenerationFailed, err)
	}
	if kp == nil || kp.PrivateKey == nil || kp.PublicKey == nil {
		return nil, fmt.Errorf("%w: generator returned an incomplete key pair", domain.ErrKeyGenerationFailed)
	}
	return kp, nil
}

// Persist は鍵ペアを保護して private / public の2スロットに書き込む。
// 既存のスロットは置き換えられる。
func (m *KeyPairManager) Persist(ctx context.Context, userID string, kp *domain.KeyPair) error {
	if kp == nil || kp.PrivateKey == nil || kp.PublicKey == nil {
		return fmt.Errorf("persisting key pair: %w", domain.ErrInvalidPrivateKey)
	}
	gen := m.generation(userID)

	privDER, err := envelope.MarshalPrivateKey(kp.PrivateKey)
	if err != nil {
		return err
	}
	defer memguard.WipeBytes(privDER)

	pubDER, err := envelope.MarshalPublicKey(kp.PublicKey)
	if err != nil {
		return err
	}

	protectedPriv, err := m.protector.Protect(ctx, privDER, domain.SlotAssociatedData(userID, domain.SlotPrivate))
	if err != nil {
		return fmt.Errorf("%w: protecting private key: %v", domain.ErrKeyProtectionFailed, err)
	}
	protectedPub, err := m.protector.Protect(ctx, pubDER, domain.SlotAssociatedData(userID, domain.SlotPublic))
	if err != nil {
		return fmt.Errorf("%w: protecting public key: %v", domain.ErrKeyProtectionFailed, err)
	}

	slots := []*domain.KeySlot{
		{UserID: userID, Slot: domain.SlotPrivate, ProtectedKey: protectedPriv},
		{UserID: userID, Slot: domain.SlotPublic, ProtectedKey: protectedPub},
	}
	if err := m.repo.ReplaceAll(ctx, userID, slots); err != nil {
		return fmt.Errorf("storing key slots: %w", err)
	}

	m.mu.Lock()
	if m.generations[userID] == gen {
		m.cache[userID] = kp
	}
	m.mu.Unlock()
	return nil
}

// LoadPrivateKey は保存された秘密鍵を取得する。
// 存在しない場合は ErrKeyNotFound を返す。
func (m *KeyPairManager) LoadPrivateKey(ctx context.Context, userID string) (*rsa.PrivateKey, error) {
	if kp := m.cached(userID); kp != nil {
		return kp.PrivateKey, nil
	}
	gen := m.generation(userID)

	der, err := m.loadSlot(ctx, userID, domain.SlotPrivate)
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(der)

	priv, err := envelope.ParsePrivateKey(der)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generations[userID] != gen {
		// 読み込み中にClearされた鍵はキャッシュに戻さない
		return nil, domain.ErrKeyNotFound
	}
	kp := m.cache[userID]
	if kp == nil {
		kp = &domain.KeyPair{PublicKey: &priv.PublicKey}
		m.cache[userID] = kp
	}
	kp.PrivateKey = priv
	return priv, nil
}

// LoadPublicKey は保存された公開鍵を取得する。
// 公開鍵は生成時に秘密鍵と一緒に保存されたものだけを返し、秘密鍵からは復元しない。
func (m *KeyPairManager) LoadPublicKey(ctx context.Context, userID string) (*rsa.PublicKey, error) {
	der, err := m.loadSlot(ctx, userID, domain.SlotPublic)
	if err != nil {
		return nil, err
	}
	return envelope.ParsePublicKey(der)
}

// LoadPublicKeyText は公開用のテキスト形式で公開鍵を返す。
func (m *KeyPairManager) LoadPublicKeyText(ctx context.Context, userID string) (string, error) {
	pub, err := m.LoadPublicKey(ctx, userID)
	if err != nil {
		return "", err
	}
	return envelope.PublicKeyToText(pub)
}

// Initialize は鍵ペアが存在すれば既存の公開鍵を、なければ生成・保存した公開鍵を返す。
// 既存の鍵を上書きすることはない。
func (m *KeyPairManager) Initialize(ctx context.Context, userID string) (pub *rsa.PublicKey, err error) {
	ctx, span := tracer.Start(ctx, "KeyPairManager.Initialize")
	defer span.End()
	start := time.Now()
	defer func() {
		m.observe("initialize", err, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	exists, err := m.HasKeyPair(ctx, userID)
	if err != nil {
		return nil, err
	}
	if exists {
		span.SetAttributes(attribute.Bool("key_pair.generated", false))
		pub, err := m.LoadPublicKey(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("loading existing public key: %w", err)
		}
		return pub, nil
	}

	kp, err := m.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	if err := m.Persist(ctx, userID, kp); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Bool("key_pair.generated", true))
	slog.InfoContext(ctx, "generated new key pair",
		"operation", "initialize",
		"user_id", userID,
		"key_bits", kp.PublicKey.N.BitLen(),
	)
	return kp.PublicKey, nil
}

// Clear は保存された鍵を両スロットとも削除し、メモリ上の鍵も破棄する。
func (m *KeyPairManager) Clear(ctx context.Context, userID string) (err error) {
	start := time.Now()
	defer func() { m.observe("clear", err, time.Since(start)) }()

	m.invalidate(userID)
	deleted, err := m.repo.DeleteByUserID(ctx, userID)
	// 削除前に始まった読み込みがキャッシュに書き戻さないよう、削除後にも世代を進める
	m.invalidate(userID)
	if err != nil {
		return fmt.Errorf("deleting key slots: %w", err)
	}
	slog.InfoContext(ctx, "cleared key pair",
		"operation", "clear",
		"user_id", userID,
		"deleted_slots", deleted,
	)
	return nil
}

func (m *KeyPairManager) generation(userID string) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.generations[userID]
}

func (m *KeyPairManager) invalidate(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, userID)
	m.generations[userID]++
}

func (m *KeyPairManager) cached(userID string) *domain.KeyPair {
	m.mu.RLock()
	defer m.mu.RUnlock()
	kp := m.cache[userID]
	if kp == nil || kp.PrivateKey == nil {
		return nil
	}
	return kp
}

// loadSlot はスロットを読み出して保護を解除したDERを返す。
func (m *KeyPairManager) loadSlot(ctx context.Context, userID string, slot domain.SlotName) ([]byte, error) {
	stored, err := m.repo.FindByUserIDAndSlot(ctx, userID, slot)
	if err != nil {
		return nil, fmt.Errorf("finding %s key slot: %w", slot, err)
	}
	if stored == nil {
		return nil, domain.ErrKeyNotFound
	}

	der, err := m.protector.Unprotect(ctx, stored.ProtectedKey, domain.SlotAssociatedData(userID, slot))
	if err != nil {
		return nil, fmt.Errorf("%w: unprotecting %s key: %v", domain.ErrKeyProtectionFailed, slot, err)
	}
	return der, nil
}

func (m *KeyPairManager) observe(operation string, err error, elapsed time.Duration) {
	if m.metrics == nil {
		return
	}
	m.metrics.ObserveOperation(operation, resultLabel(err), elapsed)
}

// resultLabel はメトリクスのresultラベル値を返す。
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrKeyNotFound):
		return "key_not_found"
	case errors.Is(err, domain.ErrNoRecipientKey):
		return "no_recipient_key"
	case errors.Is(err, domain.ErrDecryptionFailed):
		return "decryption_failed"
	case errors.Is(err, domain.ErrMalformedEncoding):
		return "malformed_encoding"
	default:
		return "error"
	}
}
