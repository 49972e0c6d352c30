package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"message-crypto-service/internal/domain"
	"message-crypto-service/internal/middleware"
	"message-crypto-service/internal/usecase"
	"message-crypto-service/pkg/httputil"
)

const (
	maxSealBodyBytes  = 1 << 20
	maxOpenBodyBytes  = 2 << 20
	maxBatchBodyBytes = 16 << 20
	maxBatchSize      = 500
)

// MessageHandler はメッセージの seal / open を提供する。
type MessageHandler struct {
	crypto   *usecase.MessageCrypto
	sessions *usecase.SessionService
	keys     *usecase.KeyPairManager
}

// NewMessageHandler は新しいMessageHandlerを生成する。
func NewMessageHandler(crypto *usecase.MessageCrypto, sessions *usecase.SessionService, keys *usecase.KeyPairManager) *MessageHandler {
	return &MessageHandler{crypto: crypto, sessions: sessions, keys: keys}
}

// SealRequest は暗号化のリクエスト形式。
type SealRequest struct {
	Plaintext          string `json:"plaintext"`
	RecipientPublicKey string `json:"recipient_public_key"`
}

// OpenRequest は復号のリクエスト形式。
// encryptedKey / iv が欠けている場合は暗号化導入前の平文レコードとして扱う。
type OpenRequest struct {
	Content      string `json:"content"`
	EncryptedKey string `json:"encryptedKey,omitempty"`
	IV           string `json:"iv,omitempty"`
}

// OpenResponse は復号結果のレスポンス形式。
type OpenResponse struct {
	Content string `json:"content"`
	Legacy  bool   `json:"legacy"`
	Failed  bool   `json:"failed"`
	Error   string `json:"error,omitempty"`
	Stage   string `json:"stage,omitempty"`
}

// OpenBatchRequest は一括復号のリクエスト形式。
type OpenBatchRequest struct {
	Messages []OpenRequest `json:"messages"`
}

// OpenBatchResponse は一括復号のレスポンス形式。
type OpenBatchResponse struct {
	Messages []OpenResponse `json:"messages"`
}

// Seal は平文を受信者の公開鍵で暗号化する。
func (h *MessageHandler) Seal(w http.ResponseWriter, r *http.Request) {
	var req SealRequest
	if err := httputil.DecodeJSON(w, r, &req, maxSealBodyBytes); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	sealed, err := h.crypto.SealForPublicKeyText(r.Context(), req.Plaintext, req.RecipientPublicKey)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "SEAL", "", middleware.ResultFailed)
		writeError(w, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "SEAL", "", middleware.ResultSuccess)
	httputil.JSON(w, http.StatusOK, sealed)
}

// Open はセッションのユーザーの秘密鍵で1件のメッセージを復号する。
// 復号できない場合も200で failed=true とプレースホルダーを返す。
func (h *MessageHandler) Open(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.Get(chi.URLParam(r, "session_id"))
	if err != nil {
		writeError(w, err)
		return
	}

	var req OpenRequest
	if err := httputil.DecodeJSON(w, r, &req, maxOpenBodyBytes); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	priv, err := h.keys.LoadPrivateKey(r.Context(), session.UserID)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "OPEN", session.UserID, middleware.ResultFailed)
		writeError(w, err)
		return
	}

	opened, err := h.crypto.Open(r.Context(), req.record(), priv)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "OPEN", session.UserID, middleware.ResultFailed)
		writeError(w, err)
		return
	}

	result := middleware.ResultSuccess
	if opened.Failed {
		result = middleware.ResultFailed
	}
	middleware.WriteAuditLog(r.Context(), "OPEN", session.UserID, result)
	httputil.JSON(w, http.StatusOK, toOpenResponse(opened))
}

// OpenBatch は複数メッセージを並行に復号し、リクエスト順で返す。
func (h *MessageHandler) OpenBatch(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.Get(chi.URLParam(r, "session_id"))
	if err != nil {
		writeError(w, err)
		return
	}

	var req OpenBatchRequest
	if err := httputil.DecodeJSON(w, r, &req, maxBatchBodyBytes); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if len(req.Messages) > maxBatchSize {
		httputil.Error(w, http.StatusBadRequest, "BATCH_TOO_LARGE", "too many messages in one batch")
		return
	}

	priv, err := h.keys.LoadPrivateKey(r.Context(), session.UserID)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "OPEN_BATCH", session.UserID, middleware.ResultFailed)
		writeError(w, err)
		return
	}

	records := make([]domain.Record, len(req.Messages))
	for i := range req.Messages {
		records[i] = req.Messages[i].record()
	}
	opened, err := h.crypto.OpenBatch(r.Context(), records, priv)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "OPEN_BATCH", session.UserID, middleware.ResultFailed)
		writeError(w, err)
		return
	}

	resp := OpenBatchResponse{Messages: make([]OpenResponse, len(opened))}
	for i, m := range opened {
		resp.Messages[i] = toOpenResponse(m)
	}
	middleware.WriteAuditLog(r.Context(), "OPEN_BATCH", session.UserID, middleware.ResultSuccess)
	httputil.JSON(w, http.StatusOK, resp)
}

func (req OpenRequest) record() domain.Record {
	return domain.ClassifyRecord(req.Content, req.EncryptedKey, req.IV)
}

func toOpenResponse(m *domain.OpenedMessage) OpenResponse {
	resp := OpenResponse{
		Content: m.Text,
		Legacy:  m.Legacy,
		Failed:  m.Failed,
	}
	if m.Failed {
		resp.Error = errorCode(m.Err)
		resp.Stage = decryptStage(m.Err)
	}
	return resp
}
