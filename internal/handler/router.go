package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"message-crypto-service/internal/middleware"
)

// NewRouter はルーターを生成する。
// metrics が nil の場合 /metrics は登録しない。
func NewRouter(sessions *SessionHandler, messages *MessageHandler, metrics http.Handler) http.Handler {
	r := chi.NewRouter()

	// ミドルウェア
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	// ルート定義
	r.Route("/v1", func(r chi.Router) {
		r.Post("/sessions", sessions.Login)
		r.Route("/sessions/{session_id}", func(r chi.Router) {
			r.Delete("/", sessions.Logout)
			r.Get("/public-key", sessions.GetPublicKey)
			r.Post("/messages/open", messages.Open)
			r.Post("/messages/open-batch", messages.OpenBatch)
		})
		r.Post("/messages/seal", messages.Seal)
	})

	return otelhttp.NewHandler(r, "message-crypto-service",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/healthz" && r.URL.Path != "/metrics"
		}),
	)
}
