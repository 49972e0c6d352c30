package usecase

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"message-crypto-service/internal/domain"
	"message-crypto-service/internal/envelope"
)

var (
	testKeysOnce sync.Once
	testKeys     [2]*domain.KeyPair
	testKeysErr  error
)

// testKeyPairs はテスト全体で共有する2組の鍵ペアを返す。
func testKeyPairs(t *testing.T) (*domain.KeyPair, *domain.KeyPair) {
	t.Helper()
	testKeysOnce.Do(func() {
		gen := &envelope.RSAGenerator{Bits: 2048}
		for i := range testKeys {
			testKeys[i], testKeysErr = gen.Generate()
			if testKeysErr != nil {
				return
			}
		}
	})
	if testKeysErr != nil {
		t.Fatalf("failed to generate key pairs: %v", testKeysErr)
	}
	return testKeys[0], testKeys[1]
}

// mockKeySlotRepository はテスト用のインメモリリポジトリ。
type mockKeySlotRepository struct {
	mu         sync.Mutex
	slots      map[string]*domain.KeySlot
	existsErr  error
	findErr    error
	replaceErr error
	deleteErr  error
	replaced   int
}

func newMockKeySlotRepository() *mockKeySlotRepository {
	return &mockKeySlotRepository{slots: make(map[string]*domain.KeySlot)}
}

func slotKey(userID string, slot domain.SlotName) string {
	return userID + "/" + string(slot)
}

func (m *mockKeySlotRepository) Exists(ctx context.Context, userID string, slot domain.SlotName) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.existsErr != nil {
		return false, m.existsErr
	}
	_, ok := m.slots[slotKey(userID, slot)]
	return ok, nil
}

func (m *mockKeySlotRepository) FindByUserIDAndSlot(ctx context.Context, userID string, slot domain.SlotName) (*domain.KeySlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	s, ok := m.slots[slotKey(userID, slot)]
	if !ok {
		return nil, nil
	}
	c := *s
	c.ProtectedKey = bytes.Clone(s.ProtectedKey)
	return &c, nil
}

func (m *mockKeySlotRepository) ReplaceAll(ctx context.Context, userID string, slots []*domain.KeySlot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.replaceErr != nil {
		return m.replaceErr
	}
	for k, s := range m.slots {
		if s.UserID == userID {
			delete(m.slots, k)
		}
	}
	for _, s := range slots {
		c := *s
		c.UserID = userID
		c.ProtectedKey = bytes.Clone(s.ProtectedKey)
		c.CreatedAt = time.Now()
		m.slots[slotKey(userID, s.Slot)] = &c
	}
	m.replaced++
	return nil
}

func (m *mockKeySlotRepository) DeleteByUserID(ctx context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	var n int64
	for k, s := range m.slots {
		if s.UserID == userID {
			delete(m.slots, k)
			n++
		}
	}
	return n, nil
}

// mockProtector はAADを先頭に付けるだけのテスト用プロテクター。
// AADが一致しない場合は保護解除に失敗する。
type mockProtector struct {
	protectErr   error
	unprotectErr error
	unprotects   int
}

func (m *mockProtector) Protect(ctx context.Context, plaintext, aad []byte) ([]byte, error) {
	if m.protectErr != nil {
		return nil, m.protectErr
	}
	out := make([]byte, 0, len(aad)+1+len(plaintext))
	out = append(out, aad...)
	out = append(out, '|')
	return append(out, plaintext...), nil
}

func (m *mockProtector) Unprotect(ctx context.Context, ciphertext, aad []byte) ([]byte, error) {
	m.unprotects++
	if m.unprotectErr != nil {
		return nil, m.unprotectErr
	}
	prefix := append(bytes.Clone(aad), '|')
	if !bytes.HasPrefix(ciphertext, prefix) {
		return nil, errors.New("associated data mismatch")
	}
	return bytes.Clone(ciphertext[len(prefix):]), nil
}

// stubGenerator は用意した鍵ペアを順に返す。
type stubGenerator struct {
	pairs []*domain.KeyPair
	err   error
	calls int
}

func (g *stubGenerator) Generate() (*domain.KeyPair, error) {
	if g.err != nil {
		return nil, g.err
	}
	kp := g.pairs[g.calls%len(g.pairs)]
	g.calls++
	return kp, nil
}

// recordingMetrics は記録された操作結果を保持する。
type recordingMetrics struct {
	mu      sync.Mutex
	results map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{results: make(map[string]int)}
}

func (r *recordingMetrics) ObserveOperation(operation, result string, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[operation+"/"+result]++
}

func (r *recordingMetrics) count(operation, result string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.results[operation+"/"+result]
}

// newTestKeyPairManager はモックを組み合わせたKeyPairManagerを返す。
func newTestKeyPairManager(t *testing.T) (*KeyPairManager, *mockKeySlotRepository, *stubGenerator) {
	t.Helper()
	a, b := testKeyPairs(t)
	repo := newMockKeySlotRepository()
	gen := &stubGenerator{pairs: []*domain.KeyPair{a, b}}
	m, err := NewKeyPairManager(repo, &mockProtector{}, gen, nil)
	if err != nil {
		t.Fatalf("NewKeyPairManager failed: %v", err)
	}
	return m, repo, gen
}
