package logger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/rezonia/nfe-engine/internal/logger"
)

func TestNew(t *testing.T) {
	log, err := logger.New("debug")
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.DebugLevel))

	log, err = logger.New("")
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := logger.New("loud")
	assert.Error(t, err)
}

func TestNewDevelopment(t *testing.T) {
	assert.True(t, logger.NewDevelopment(true).Core().Enabled(zapcore.DebugLevel))
	assert.False(t, logger.NewDevelopment(false).Core().Enabled(zapcore.InfoLevel))
}
