package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLogger(t *testing.T) {
	t.Run("production respects level", func(t *testing.T) {
		logger, err := NewLogger("warn", "production")
		require.NoError(t, err)
		assert.False(t, logger.Core().Enabled(zap.InfoLevel))
		assert.True(t, logger.Core().Enabled(zap.ErrorLevel))
	})

	t.Run("development logger", func(t *testing.T) {
		logger, err := NewLogger("DEBUG", "development")
		require.NoError(t, err)
		assert.True(t, logger.Core().Enabled(zap.DebugLevel))
	})

	t.Run("rejects unknown level", func(t *testing.T) {
		_, err := NewLogger("chatty", "development")
		assert.Error(t, err)
	})
}
