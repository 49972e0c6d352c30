// Package handler はメッセージングレイヤー向けのHTTPハンドラを提供する。
package handler

import (
	"errors"
	"net/http"

	"message-crypto-service/internal/domain"
	"message-crypto-service/pkg/httputil"
)

// errorMapping はエラーとHTTPレスポンスの対応。
type errorMapping struct {
	err     error
	status  int
	code    string
	message string
}

// 先に一致したものを使う。
var errorMappings = []errorMapping{
	{domain.ErrInvalidUserID, http.StatusBadRequest, "INVALID_USER_ID", "invalid user ID format"},
	{domain.ErrSessionNotFound, http.StatusNotFound, "SESSION_NOT_FOUND", "session not found"},
	{domain.ErrKeyNotFound, http.StatusNotFound, "KEY_NOT_FOUND", "no private key available for this identity"},
	{domain.ErrNoRecipientKey, http.StatusUnprocessableEntity, "NO_RECIPIENT_KEY", "recipient has not published a public key"},
	{domain.ErrInvalidPublicKey, http.StatusBadRequest, "INVALID_PUBLIC_KEY", "recipient public key is invalid"},
	{domain.ErrInvalidPlaintext, http.StatusBadRequest, "INVALID_PLAINTEXT", "plaintext must be valid UTF-8"},
	{domain.ErrMalformedEncoding, http.StatusBadRequest, "MALFORMED_ENCODING", "malformed encoding"},
	{domain.ErrKeyGenerationFailed, http.StatusInternalServerError, "KEY_GENERATION_FAILED", "key generation failed"},
	{domain.ErrKeyProtectionFailed, http.StatusInternalServerError, "KEY_PROTECTION_FAILED", "stored key could not be unprotected"},
	{domain.ErrSecureStorageUnavailable, http.StatusServiceUnavailable, "SECURE_STORAGE_UNAVAILABLE", "secure key storage is unavailable"},
}

// writeError はドメインエラーをHTTPエラーレスポンスに変換する。
func writeError(w http.ResponseWriter, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			httputil.Error(w, m.status, m.code, m.message)
			return
		}
	}
	httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
}

// errorCode は1件の復号失敗を表すコードを返す。
func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrDecryptionFailed):
		return "DECRYPTION_FAILED"
	case errors.Is(err, domain.ErrMalformedEncoding):
		return "MALFORMED_ENCODING"
	default:
		return "INTERNAL_ERROR"
	}
}

// decryptStage は復号失敗の段階を返す。段階がない場合は空文字。
func decryptStage(err error) string {
	var de *domain.DecryptionError
	if errors.As(err, &de) {
		return string(de.Stage)
	}
	return ""
}
