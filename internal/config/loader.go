package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load は設定ファイルと環境変数から設定を読み込む。
// pathが空の場合はデフォルト値と環境変数のみを使う。
// 環境変数はキーの "." を "_" に置き換えた大文字名（例: AUTH_JWT_SECRET）で上書きできる。
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
	}

	v.SetDefault("app.name", "notification")
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.version", "dev")

	v.SetDefault("server.http_addr", ":8086")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.graceful_timeout", "15s")

	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.dsn", "/data/notification.db")
	v.SetDefault("db.query_timeout", "3s")

	v.SetDefault("auth.jwt_secret", "dev-secret-key")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("push.buffer", 16)
	v.SetDefault("push.heartbeat", "25s")

	v.SetDefault("broadcast.concurrency", 8)

	v.SetDefault("smtp.addr", "")
	v.SetDefault("smtp.user", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "no-reply@taskflow.local")
	v.SetDefault("smtp.subj_prefix", "[taskflow]")
	v.SetDefault("smtp.use_tls", false)
	v.SetDefault("smtp.timeout", "10s")

	v.SetDefault("eventstore.url", "")
	v.SetDefault("eventstore.timeout", "5s")

	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000"})

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("設定のデコードに失敗: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate は起動に必須の設定値を検証する。
func (c *Config) validate() error {
	switch c.DB.Driver {
	case "sqlite", "pgx":
	default:
		return ErrConfig(fmt.Sprintf("db.driver が不正です: %q", c.DB.Driver))
	}
	if c.DB.DSN == "" {
		return ErrConfig("db.dsn が空です")
	}
	if c.Auth.JWTSecret == "" {
		return ErrConfig("auth.jwt_secret が空です")
	}
	if c.Push.Buffer <= 0 {
		return ErrConfig("push.buffer は1以上である必要があります")
	}
	if c.Broadcast.Concurrency <= 0 {
		return ErrConfig("broadcast.concurrency は1以上である必要があります")
	}
	return nil
}
