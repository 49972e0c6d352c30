package usecase

import (
	"context"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"message-crypto-service/internal/domain"
	"message-crypto-service/internal/envelope"
)

// EnvelopeCipher はメッセージ単位の暗号化・復号のインターフェース。
type EnvelopeCipher interface {
	Encrypt(plaintext string, recipient *rsa.PublicKey) (*domain.Envelope, error)
	Decrypt(env *domain.Envelope, priv *rsa.PrivateKey) (string, error)
}

// MessageCrypto はメッセージングレイヤーに seal / open を提供する。
// 暗号状態は持たず、鍵は呼び出しごとに受け取る。
type MessageCrypto struct {
	cipher          EnvelopeCipher
	metrics         MetricsRecorder
	openConcurrency int
}

// NewMessageCrypto は新しいMessageCryptoを生成する。
func NewMessageCrypto(cipher EnvelopeCipher, metrics MetricsRecorder, openConcurrency int) *MessageCrypto {
	if openConcurrency < 1 {
		openConcurrency = 1
	}
	return &MessageCrypto{
		cipher:          cipher,
		metrics:         metrics,
		openConcurrency: openConcurrency,
	}
}

// Seal は平文を受信者の公開鍵で暗号化し、送信用の3フィールドを返す。
// 公開鍵がない場合は ErrNoRecipientKey で失敗し、平文を返すことはない。
func (s *MessageCrypto) Seal(ctx context.Context, plaintext string, recipient *rsa.PublicKey) (*domain.SealedMessage, error) {
	return s.seal(ctx, plaintext, func() (*rsa.PublicKey, error) { return recipient, nil })
}

// SealForPublicKeyText は公開用テキスト形式の公開鍵を宛先として Seal する。
func (s *MessageCrypto) SealForPublicKeyText(ctx context.Context, plaintext, recipientPublicKey string) (*domain.SealedMessage, error) {
	return s.seal(ctx, plaintext, func() (*rsa.PublicKey, error) {
		return envelope.PublicKeyFromText(recipientPublicKey)
	})
}

// seal は宛先の解決から暗号化までを1つのスパンと計測で囲む。
func (s *MessageCrypto) seal(ctx context.Context, plaintext string, resolve func() (*rsa.PublicKey, error)) (sealed *domain.SealedMessage, err error) {
	_, span := tracer.Start(ctx, "MessageCrypto.Seal")
	defer span.End()
	start := time.Now()
	defer func() {
		s.observe("seal", err, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	recipient, err := resolve()
	if err != nil {
		return nil, err
	}
	if recipient == nil {
		return nil, domain.ErrNoRecipientKey
	}

	env, err := s.cipher.Encrypt(plaintext, recipient)
	if err != nil {
		return nil, fmt.Errorf("sealing message: %w", err)
	}
	m := envelope.SealedFromEnvelope(env)
	return &m, nil
}

// Open はレコードを復号する。
// 秘密鍵がない場合のみエラー（ErrKeyNotFound）を返す。
// 復号に失敗したメッセージはプレースホルダーと原因を持つ OpenedMessage として返す。
func (s *MessageCrypto) Open(ctx context.Context, record domain.Record, priv *rsa.PrivateKey) (*domain.OpenedMessage, error) {
	_, span := tracer.Start(ctx, "MessageCrypto.Open")
	defer span.End()
	start := time.Now()

	if priv == nil {
		s.observe("open", domain.ErrKeyNotFound, time.Since(start))
		span.SetStatus(codes.Error, domain.ErrKeyNotFound.Error())
		return nil, domain.ErrKeyNotFound
	}

	opened := s.open(ctx, record, priv)
	span.SetAttributes(
		attribute.Bool("message.legacy", opened.Legacy),
		attribute.Bool("message.failed", opened.Failed),
	)
	if opened.Failed {
		span.RecordError(opened.Err)
		span.SetStatus(codes.Error, opened.Err.Error())
	}
	if opened.Legacy {
		s.observeResult("open", "legacy", time.Since(start))
	} else {
		s.observe("open", opened.Err, time.Since(start))
	}
	return opened, nil
}

// OpenBatch は複数のレコードを並行に復号し、入力順で結果を返す。
// 1件の失敗がバッチ全体を中断することはない。
func (s *MessageCrypto) OpenBatch(ctx context.Context, records []domain.Record, priv *rsa.PrivateKey) ([]*domain.OpenedMessage, error) {
	if priv == nil {
		return nil, domain.ErrKeyNotFound
	}

	results := make([]*domain.OpenedMessage, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.openConcurrency)
	for i, record := range records {
		g.Go(func() error {
			opened, err := s.Open(gctx, record, priv)
			if err != nil {
				return err
			}
			results[i] = opened
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// open は1件のレコードを復号する。パニックも失敗として閉じ込める。
func (s *MessageCrypto) open(ctx context.Context, record domain.Record, priv *rsa.PrivateKey) (opened *domain.OpenedMessage) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic while opening message",
				"operation", "open",
				"panic", fmt.Sprint(r),
			)
			opened = failedMessage(fmt.Errorf("%w: panic: %v", domain.ErrDecryptionFailed, r))
		}
	}()

	switch rec := record.(type) {
	case domain.LegacyPlaintext:
		return &domain.OpenedMessage{Text: rec.Content, Legacy: true}
	case domain.Encrypted:
		env, err := envelope.EnvelopeFromSealed(rec.Sealed)
		if err != nil {
			return failedMessage(err)
		}
		text, err := s.cipher.Decrypt(env, priv)
		if err != nil {
			return failedMessage(err)
		}
		return &domain.OpenedMessage{Text: text}
	default:
		return failedMessage(fmt.Errorf("%w: unsupported record type %T", domain.ErrMalformedEncoding, record))
	}
}

func failedMessage(err error) *domain.OpenedMessage {
	return &domain.OpenedMessage{
		Text:   domain.DecryptionPlaceholder,
		Failed: true,
		Err:    err,
	}
}

func (s *MessageCrypto) observe(operation string, err error, elapsed time.Duration) {
	s.observeResult(operation, resultLabel(err), elapsed)
}

func (s *MessageCrypto) observeResult(operation, result string, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveOperation(operation, result, elapsed)
}
