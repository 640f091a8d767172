package obs

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig はロガー生成時の設定。
type LogConfig struct {
	// Level はログレベル（debug, info, warn, error）。不正な値はinfoとして扱う。
	Level string
	// Pretty が true の場合は開発者向けのコンソール形式で出力する。
	Pretty bool
	// App はサービス名。全ログに service フィールドとして付与される。
	App string
	// Env は実行環境名。
	Env string
	// Ver はサービスのバージョン。
	Ver string
}

// NewLogger は設定からzapロガーを生成する。
func NewLogger(c LogConfig) (*zap.Logger, error) {
	var cfg zap.Config
	if c.Pretty {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	level := new(zapcore.Level)
	if err := level.Set(c.Level); err != nil {
		*level = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(*level)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build(
		zap.Fields(
			zap.String("service", c.App),
			zap.String("env", c.Env),
			zap.String("version", c.Ver),
		),
	)
}
