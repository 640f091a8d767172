// 通知サービスのエントリポイント。
// ユーザーごとの通知を保存・刈り込みし、一斉送信とSSEによるライブ配信を提供する。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/taskflow/notification/internal/config"
	"github.com/taskflow/notification/internal/notification"
	"github.com/taskflow/notification/pkg/obs"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "設定ファイル(YAML)のパス。未指定なら既定値と環境変数のみを使う")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "通知サービスが異常終了しました: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := obs.NewLogger(cfg.AsLoggerConfig())
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("通知サービスを初期化します",
		zap.String("env", cfg.App.Env),
		zap.String("ver", cfg.App.Version),
		zap.String("db_driver", cfg.DB.Driver),
	)

	server, err := notification.NewServer(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("通知サーバーの初期化に失敗: %w", err)
	}
	defer server.Close()

	return server.Run(ctx)
}
