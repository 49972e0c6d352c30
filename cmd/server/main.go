// Package main は端末ローカルの暗号デーモンのエントリポイント。
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"message-crypto-service/config"
	"message-crypto-service/internal/envelope"
	"message-crypto-service/internal/handler"
	"message-crypto-service/internal/infra"
	"message-crypto-service/internal/repository"
	"message-crypto-service/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	// .envファイルを読み込む（存在しない場合は無視）
	// 既存の環境変数は上書きしない
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// トレーサー初期化（ロガー設定の前に実行）
	tp, err := infra.InitTracer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	if tp != nil {
		defer func() {
			if err := tp.Shutdown(ctx); err != nil {
				slog.Error("failed to shutdown tracer", "error", err)
			}
		}()
	}

	infra.SetupLogger(cfg)

	if ip := net.ParseIP(cfg.Host); ip == nil || !ip.IsLoopback() {
		slog.Warn("listening on a non-loopback address; the private key API becomes reachable from the network",
			"host", cfg.Host,
		)
	}

	db, err := infra.NewDB(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	if cfg.DBDriver == "sqlite" && cfg.AutoMigrate {
		if err := repository.AutoMigrate(db); err != nil {
			return fmt.Errorf("migrating local database: %w", err)
		}
	}

	// 鍵保護が構成されていない場合は起動しない
	protector, err := infra.NewProtector(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing key protector: %w", err)
	}
	defer func() {
		if err := protector.Close(); err != nil {
			slog.Error("failed to close key protector", "error", err)
		}
	}()

	generator, err := envelope.NewRSAGenerator(cfg.RSAKeyBits)
	if err != nil {
		return err
	}

	// DI
	metrics := infra.NewMetrics()
	keys, err := usecase.NewKeyPairManager(repository.NewKeySlotRepository(db), protector, generator, metrics)
	if err != nil {
		return err
	}
	sessions := usecase.NewSessionService(keys)
	crypto := usecase.NewMessageCrypto(envelope.NewCipher(), metrics, cfg.OpenConcurrency)

	router := handler.NewRouter(
		handler.NewSessionHandler(sessions, keys),
		handler.NewMessageHandler(crypto, sessions, keys),
		metrics.Handler(),
	)

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		<-sigCh

		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("starting server",
		"addr", cfg.Addr(),
		"db_driver", cfg.DBDriver,
		"key_protector", cfg.KeyProtector,
		"rsa_key_bits", cfg.RSAKeyBits,
	)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	slog.Info("server stopped")
	return nil
}
