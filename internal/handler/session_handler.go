package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"message-crypto-service/internal/middleware"
	"message-crypto-service/internal/usecase"
	"message-crypto-service/pkg/httputil"
)

// SessionHandler はログイン/ログアウトと公開鍵の取得を提供する。
type SessionHandler struct {
	sessions *usecase.SessionService
	keys     *usecase.KeyPairManager
}

// NewSessionHandler は新しいSessionHandlerを生成する。
func NewSessionHandler(sessions *usecase.SessionService, keys *usecase.KeyPairManager) *SessionHandler {
	return &SessionHandler{sessions: sessions, keys: keys}
}

// LoginRequest はログインのリクエスト形式。
type LoginRequest struct {
	UserID string `json:"user_id"`
}

// SessionResponse はセッションのレスポンス形式。
type SessionResponse struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	PublicKey string `json:"public_key"`
	CreatedAt string `json:"created_at"`
}

// PublicKeyResponse は公開鍵のレスポンス形式。
type PublicKeyResponse struct {
	UserID    string `json:"user_id"`
	PublicKey string `json:"public_key"`
}

// Login は鍵ペアを初期化してセッションを作成する。
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := httputil.DecodeJSON(w, r, &req, 4<<10); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	session, publicKey, err := h.sessions.Login(r.Context(), req.UserID)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "LOGIN", req.UserID, middleware.ResultFailed)
		writeError(w, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "LOGIN", session.UserID, middleware.ResultSuccess)
	httputil.JSON(w, http.StatusCreated, SessionResponse{
		SessionID: session.ID,
		UserID:    session.UserID,
		PublicKey: publicKey,
		CreatedAt: session.CreatedAt.Format(time.RFC3339),
	})
}

// Logout は鍵ペアを削除してセッションを破棄する。
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	session, err := h.sessions.Logout(r.Context(), sessionID)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "LOGOUT", "", middleware.ResultFailed)
		writeError(w, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "LOGOUT", session.UserID, middleware.ResultSuccess)
	w.WriteHeader(http.StatusNoContent)
}

// GetPublicKey はセッションのユーザーの公開鍵を返す。
func (h *SessionHandler) GetPublicKey(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.Get(chi.URLParam(r, "session_id"))
	if err != nil {
		writeError(w, err)
		return
	}

	publicKey, err := h.keys.LoadPublicKeyText(r.Context(), session.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, PublicKeyResponse{
		UserID:    session.UserID,
		PublicKey: publicKey,
	})
}
