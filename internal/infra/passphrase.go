package infra

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	protectedVersion = 1
	saltSize         = 16
	// version(1) | time(4) | memoryKB(4) | threads(1) | salt | nonce
	headerSize = 1 + 4 + 4 + 1 + saltSize + chacha20poly1305.NonceSizeX
)

var (
	// ErrProtectedDataInvalid は保護済みデータの形式が不正な場合のエラー。
	ErrProtectedDataInvalid = errors.New("protected key data is invalid")
	// ErrProtectedDataAuth は保護済みデータの認証に失敗した場合のエラー。
	ErrProtectedDataAuth = errors.New("protected key data authentication failed")
)

// Argon2Params はパスフレーズからの鍵導出パラメータ。
type Argon2Params struct {
	Time     uint32
	MemoryKB uint32
	Threads  uint8
}

// 保存データのヘッダーから読むパラメータの上限。
const (
	maxArgon2Time     = 16
	maxArgon2MemoryKB = 1 << 20
)

func (p Argon2Params) withinLimits() bool {
	return p.Time > 0 && p.Time <= maxArgon2Time &&
		p.MemoryKB > 0 && p.MemoryKB <= maxArgon2MemoryKB &&
		p.Threads > 0
}

// DefaultArgon2Params はargon2idの既定パラメータ。
var DefaultArgon2Params = Argon2Params{Time: 2, MemoryKB: 64 * 1024, Threads: 1}

// PassphraseProtector は端末ローカルのパスフレーズで鍵スロットを保護する。
// argon2idで導出した鍵とXChaCha20-Poly1305を使う。
type PassphraseProtector struct {
	passphrase []byte
	params     Argon2Params
}

// NewPassphraseProtector は新しいPassphraseProtectorを生成する。
func NewPassphraseProtector(passphrase string, params Argon2Params) (*PassphraseProtector, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("KEY_PASSPHRASE is required for the passphrase key protector")
	}
	if !params.withinLimits() {
		return nil, fmt.Errorf("invalid argon2 parameters: %+v", params)
	}
	return &PassphraseProtector{
		passphrase: []byte(passphrase),
		params:     params,
	}, nil
}

// Protect は鍵のDERを暗号化する。aad はスロットの追加認証データ。
func (p *PassphraseProtector) Protect(ctx context.Context, plaintext, aad []byte) ([]byte, error) {
	header := make([]byte, headerSize)
	header[0] = protectedVersion
	binary.BigEndian.PutUint32(header[1:5], p.params.Time)
	binary.BigEndian.PutUint32(header[5:9], p.params.MemoryKB)
	header[9] = p.params.Threads
	if _, err := rand.Read(header[10:]); err != nil {
		return nil, fmt.Errorf("generating salt and nonce: %w", err)
	}
	salt := header[10 : 10+saltSize]
	nonce := header[10+saltSize:]

	key := p.deriveKey(salt, p.params)
	defer memguard.WipeBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	// ヘッダーも認証対象に含める
	return aead.Seal(header, nonce, plaintext, additionalData(aad, header)), nil
}

// Unprotect は Protect で保護したデータを復号する。
func (p *PassphraseProtector) Unprotect(ctx context.Context, data, aad []byte) ([]byte, error) {
	if len(data) < headerSize+chacha20poly1305.Overhead || data[0] != protectedVersion {
		return nil, ErrProtectedDataInvalid
	}
	header := data[:headerSize]
	params := Argon2Params{
		Time:     binary.BigEndian.Uint32(header[1:5]),
		MemoryKB: binary.BigEndian.Uint32(header[5:9]),
		Threads:  header[9],
	}
	if !params.withinLimits() {
		return nil, ErrProtectedDataInvalid
	}
	salt := header[10 : 10+saltSize]
	nonce := header[10+saltSize:]

	key := p.deriveKey(salt, params)
	defer memguard.WipeBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, data[headerSize:], additionalData(aad, header))
	if err != nil {
		return nil, ErrProtectedDataAuth
	}
	return plaintext, nil
}

// Close は保持しているパスフレーズを消去する。
func (p *PassphraseProtector) Close() error {
	memguard.WipeBytes(p.passphrase)
	return nil
}

// additionalData はスロットのAADとヘッダーを連結した新しいスライスを返す。
func additionalData(aad, header []byte) []byte {
	out := make([]byte, 0, len(aad)+len(header))
	out = append(out, aad...)
	return append(out, header...)
}

func (p *PassphraseProtector) deriveKey(salt []byte, params Argon2Params) []byte {
	return argon2.IDKey(p.passphrase, salt, params.Time, params.MemoryKB, params.Threads, chacha20poly1305.KeySize)
}
