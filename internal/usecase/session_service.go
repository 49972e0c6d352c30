package usecase

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"message-crypto-service/internal/domain"
	"message-crypto-service/internal/envelope"
)

var userIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// SessionService はログイン/ログアウトによるローカルIDのライフサイクルを管理する。
// ID操作は同時に1つだけ実行される。
type SessionService struct {
	keys *KeyPairManager
	now  func() time.Time

	mu       sync.Mutex
	sessions map[string]*domain.Session
}

// NewSessionService は新しいSessionServiceを生成する。
func NewSessionService(keys *KeyPairManager) *SessionService {
	return &SessionService{
		keys:     keys,
		now:      time.Now,
		sessions: make(map[string]*domain.Session),
	}
}

// Login は鍵ペアを初期化してセッションを作成し、公開鍵テキストを返す。
// 既存の鍵ペアがある場合はそれを使い続ける。
func (s *SessionService) Login(ctx context.Context, userID string) (*domain.Session, string, error) {
	if !userIDPattern.MatchString(userID) {
		return nil, "", domain.ErrInvalidUserID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pub, err := s.keys.Initialize(ctx, userID)
	if err != nil {
		return nil, "", fmt.Errorf("initializing key pair: %w", err)
	}
	publicKey, err := envelope.PublicKeyToText(pub)
	if err != nil {
		return nil, "", err
	}

	session := &domain.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: s.now(),
	}
	s.sessions[session.ID] = session
	return session, publicKey, nil
}

// Logout は鍵ペアを削除してから、同じユーザーの全セッションを破棄する。
func (s *SessionService) Logout(ctx context.Context, sessionID string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	if err := s.keys.Clear(ctx, session.UserID); err != nil {
		return nil, fmt.Errorf("clearing key pair: %w", err)
	}
	for id, other := range s.sessions {
		if other.UserID == session.UserID {
			delete(s.sessions, id)
		}
	}
	return session, nil
}

// Get はセッションを取得する。
func (s *SessionService) Get(sessionID string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}
