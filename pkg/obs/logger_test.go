package obs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	t.Parallel()

	t.Run("指定したレベルが反映される", func(t *testing.T) {
		t.Parallel()

		l, err := NewLogger(LogConfig{Level: "warn", App: "notification"})
		require.NoError(t, err)
		assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
		assert.True(t, l.Core().Enabled(zapcore.WarnLevel))
	})

	t.Run("不正なレベルはinfoとして扱う", func(t *testing.T) {
		t.Parallel()

		l, err := NewLogger(LogConfig{Level: "verbose", Pretty: true})
		require.NoError(t, err)
		assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
		assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
	})
}
