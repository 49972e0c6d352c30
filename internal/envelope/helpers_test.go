package envelope

import (
	"errors"
	"sync"
	"testing"

	"message-crypto-service/internal/domain"
)

var (
	sharedKeyOnce sync.Once
	sharedKey     *domain.KeyPair
	sharedKeyErr  error
)

// testKeyPair はテスト全体で共有する2048bit鍵ペアを返す。
func testKeyPair(t *testing.T) *domain.KeyPair {
	t.Helper()
	sharedKeyOnce.Do(func() {
		sharedKey, sharedKeyErr = (&RSAGenerator{Bits: 2048}).Generate()
	})
	if sharedKeyErr != nil {
		t.Fatalf("failed to generate key pair: %v", sharedKeyErr)
	}
	return sharedKey
}

// newKeyPair は独立した鍵ペアを生成する。
func newKeyPair(t *testing.T) *domain.KeyPair {
	t.Helper()
	kp, err := (&RSAGenerator{Bits: 2048}).Generate()
	if err != nil {
		t.Fatalf("failed to generate key pair: %v", err)
	}
	return kp
}

type failingReader struct{}

func (failingReader) Read(p []byte) (int, error) {
	return 0, errors.New("entropy source unavailable")
}

func decryptStage(t *testing.T, err error) domain.DecryptStage {
	t.Helper()
	var de *domain.DecryptionError
	if !errors.As(err, &de) {
		t.Fatalf("want *DecryptionError, got %T (%v)", err, err)
	}
	return de.Stage
}
