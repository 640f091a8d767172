package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("ファイルなしの場合はデフォルト値を返す", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)

		assert.Equal(t, "sqlite", cfg.DB.Driver)
		assert.Equal(t, ":8086", cfg.Server.HTTPAddr)
		assert.Equal(t, 25*time.Second, cfg.Push.Heartbeat)
		assert.Equal(t, 16, cfg.Push.Buffer)
		assert.Equal(t, 8, cfg.Broadcast.Concurrency)
		assert.Empty(t, cfg.SMTP.Addr)
	})

	t.Run("YAMLファイルの値で上書きされる", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		body := []byte(`
db:
  driver: pgx
  dsn: postgres://localhost/taskflow
push:
  heartbeat: 5s
broadcast:
  concurrency: 2
`)
		require.NoError(t, os.WriteFile(path, body, 0o600))

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "pgx", cfg.DB.Driver)
		assert.Equal(t, "postgres://localhost/taskflow", cfg.DB.DSN)
		assert.Equal(t, 5*time.Second, cfg.Push.Heartbeat)
		assert.Equal(t, 2, cfg.Broadcast.Concurrency)
	})

	t.Run("環境変数で上書きされる", func(t *testing.T) {
		t.Setenv("AUTH_JWT_SECRET", "from-env")
		t.Setenv("LOG_LEVEL", "debug")

		cfg, err := Load("")
		require.NoError(t, err)

		assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
		assert.Equal(t, "debug", cfg.Log.Level)
	})

	t.Run("不正なドライバはエラー", func(t *testing.T) {
		t.Setenv("DB_DRIVER", "mysql")

		_, err := Load("")
		var cfgErr ErrConfig
		require.ErrorAs(t, err, &cfgErr)
	})

	t.Run("存在しない設定ファイルはエラー", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		require.Error(t, err)
	})
}
