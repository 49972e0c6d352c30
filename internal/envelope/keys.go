package envelope

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"

	"message-crypto-service/internal/domain"
)

// RSAGenerator はOAEP用のRSA鍵ペアを生成する。
type RSAGenerator struct {
	Bits int
}

// NewRSAGenerator は指定ビット長のRSAGeneratorを生成する。
// 2048未満は ErrWeakKeySize。
func NewRSAGenerator(bits int) (*RSAGenerator, error) {
	if bits < domain.MinRSAKeyBits {
		return nil, fmt.Errorf("%w: %d", domain.ErrWeakKeySize, bits)
	}
	return &RSAGenerator{Bits: bits}, nil
}

// Generate は新しい鍵ペアを生成する。
func (g *RSAGenerator) Generate() (*domain.KeyPair, error) {
	bits := g.Bits
	if bits < domain.MinRSAKeyBits {
		return nil, fmt.Errorf("%w: %w: %d", domain.ErrKeyGenerationFailed, domain.ErrWeakKeySize, bits)
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrKeyGenerationFailed, err)
	}
	return &domain.KeyPair{
		PublicKey:  &priv.PublicKey,
		PrivateKey: priv,
	}, nil
}

// MarshalPrivateKey は秘密鍵をPKCS#8 DERへ変換する。
func MarshalPrivateKey(priv *rsa.PrivateKey) ([]byte, error) {
	if priv == nil {
		return nil, domain.ErrInvalidPrivateKey
	}
	return x509.MarshalPKCS8PrivateKey(priv)
}

// ParsePrivateKey はPKCS#8 DERからRSA秘密鍵を復元する。
func ParsePrivateKey(der []byte) (*rsa.PrivateKey, error) {
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPrivateKey, err)
	}
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA key", domain.ErrInvalidPrivateKey)
	}
	return priv, nil
}

// MarshalPublicKey は公開鍵をPKIX（SubjectPublicKeyInfo）DERへ変換する。
func MarshalPublicKey(pub *rsa.PublicKey) ([]byte, error) {
	if pub == nil {
		return nil, domain.ErrInvalidPublicKey
	}
	return x509.MarshalPKIXPublicKey(pub)
}

// ParsePublicKey はPKIX DERからRSA公開鍵を復元する。
func ParsePublicKey(der []byte) (*rsa.PublicKey, error) {
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPublicKey, err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA key", domain.ErrInvalidPublicKey)
	}
	if pub.N.BitLen() < domain.MinRSAKeyBits {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidPublicKey, domain.ErrWeakKeySize)
	}
	return pub, nil
}

// PublicKeyToText は公開鍵を公開用テキスト（PKIX DERのbase64）に変換する。
func PublicKeyToText(pub *rsa.PublicKey) (string, error) {
	der, err := MarshalPublicKey(pub)
	if err != nil {
		return "", err
	}
	return ToText(der), nil
}

// PublicKeyFromText は公開用テキストから公開鍵を復元する。
// 空文字は ErrNoRecipientKey。PEMの "PUBLIC KEY" ブロックも受け付ける。
func PublicKeyFromText(text string) (*rsa.PublicKey, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.ErrNoRecipientKey
	}
	if strings.HasPrefix(text, "-----BEGIN") {
		block, _ := pem.Decode([]byte(text))
		if block == nil || block.Type != "PUBLIC KEY" {
			return nil, fmt.Errorf("%w: unexpected PEM block", domain.ErrInvalidPublicKey)
		}
		return ParsePublicKey(block.Bytes)
	}
	der, err := FromText(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidPublicKey, err)
	}
	return ParsePublicKey(der)
}
