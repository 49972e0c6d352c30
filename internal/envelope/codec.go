package envelope

import (
	"encoding/base64"
	"fmt"
	"strings"

	"message-crypto-service/internal/domain"
)

// strictEncoding は標準base64（パディングあり）の厳格版。
// 末尾の余剰ビットが0でない入力を拒否する。
var strictEncoding = base64.StdEncoding.Strict()

// ToText はバイト列を標準base64（パディングあり）に変換する。
func ToText(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// FromText は ToText の逆変換を行う。
// 不正な文字・パディング・長さの場合は ErrMalformedEncoding を返す。
func FromText(s string) ([]byte, error) {
	// 標準デコーダは改行を読み飛ばすため、ここで明示的に拒否する
	if strings.ContainsAny(s, "\r\n") {
		return nil, fmt.Errorf("%w: unexpected line break", domain.ErrMalformedEncoding)
	}
	b, err := strictEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedEncoding, err)
	}
	return b, nil
}

// SealedFromEnvelope はEnvelopeの各フィールドをテキスト化する。
func SealedFromEnvelope(env *domain.Envelope) domain.SealedMessage {
	return domain.SealedMessage{
		Content:      ToText(env.Ciphertext),
		EncryptedKey: ToText(env.WrappedKey),
		IV:           ToText(env.Nonce),
	}
}

// EnvelopeFromSealed はテキスト化されたメッセージをEnvelopeへ戻す。
func EnvelopeFromSealed(m domain.SealedMessage) (*domain.Envelope, error) {
	ciphertext, err := FromText(m.Content)
	if err != nil {
		return nil, fmt.Errorf("decoding content: %w", err)
	}
	wrappedKey, err := FromText(m.EncryptedKey)
	if err != nil {
		return nil, fmt.Errorf("decoding encrypted key: %w", err)
	}
	nonce, err := FromText(m.IV)
	if err != nil {
		return nil, fmt.Errorf("decoding iv: %w", err)
	}
	return &domain.Envelope{
		Ciphertext: ciphertext,
		WrappedKey: wrappedKey,
		Nonce:      nonce,
	}, nil
}
