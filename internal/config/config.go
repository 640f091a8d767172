// Package config は通知サービスの設定を定義し、viperで読み込む。
package config

import (
	"time"

	"github.com/taskflow/notification/pkg/obs"
)

// App はサービス自体の識別情報。
type App struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

// Server はHTTPサーバーの設定。
// SSEの長時間接続を保持するため、書き込みタイムアウトは持たない。
type Server struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
}

// DB はデータベース接続の設定。
type DB struct {
	// Driver は "sqlite" または "pgx"。
	Driver       string        `mapstructure:"driver"`
	DSN          string        `mapstructure:"dsn"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
}

// Auth はJWT検証の設定。
type Auth struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// Log はロガーの設定。
type Log struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Push はライブ配信チャネルの設定。
type Push struct {
	// Buffer はセッションごとの送信バッファ数。溢れたイベントは破棄される。
	Buffer int `mapstructure:"buffer"`
	// Heartbeat はSSEのキープアライブコメントを送る間隔。
	Heartbeat time.Duration `mapstructure:"heartbeat"`
}

// Broadcast は一斉送信の設定。
type Broadcast struct {
	// Concurrency は受信者ごとの処理を同時に走らせる上限。
	Concurrency int `mapstructure:"concurrency"`
}

// SMTP はメール送信の設定。Addrが空の場合はメール送信を行わない。
type SMTP struct {
	Addr       string        `mapstructure:"addr"`
	User       string        `mapstructure:"user"`
	Password   string        `mapstructure:"password"`
	From       string        `mapstructure:"from"`
	SubjPrefix string        `mapstructure:"subj_prefix"`
	UseTLS     bool          `mapstructure:"use_tls"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// EventStore は監査イベントの送信先。URLが空の場合は送信しない。
type EventStore struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// CORS はクロスオリジンリクエストの設定。
type CORS struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Config は通知サービス全体の設定。
type Config struct {
	App        App        `mapstructure:"app"`
	Server     Server     `mapstructure:"server"`
	DB         DB         `mapstructure:"db"`
	Auth       Auth       `mapstructure:"auth"`
	Log        Log        `mapstructure:"log"`
	Push       Push       `mapstructure:"push"`
	Broadcast  Broadcast  `mapstructure:"broadcast"`
	SMTP       SMTP       `mapstructure:"smtp"`
	EventStore EventStore `mapstructure:"eventstore"`
	CORS       CORS       `mapstructure:"cors"`
}

// AsLoggerConfig はロガー生成用の設定に変換する。
func (c *Config) AsLoggerConfig() obs.LogConfig {
	return obs.LogConfig{
		Level:  c.Log.Level,
		Pretty: c.Log.Pretty,
		App:    c.App.Name,
		Env:    c.App.Env,
		Ver:    c.App.Version,
	}
}

// ErrConfig は設定値の検証エラー。
type ErrConfig string

func (e ErrConfig) Error() string { return string(e) }
