package logging_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/warp/compte-engine/logging"
)

func TestNew_ReplacesGlobalLogger(t *testing.T) {
	logger, cleanup, err := logging.New("warn", false)
	require.NoError(t, err)
	defer cleanup()

	assert.Same(t, logger, zap.L())
	assert.False(t, zap.L().Core().Enabled(zapcore.InfoLevel))
	assert.True(t, zap.L().Core().Enabled(zapcore.WarnLevel))
}

func TestNew_RejectsUnknownLevel(t *testing.T) {
	_, _, err := logging.New("chatty", true)
	assert.Error(t, err)
}
