package logger

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/wonny/maestro/pkg/config"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"unknown", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLogLevel(tt.input))
		})
	}
}

func TestNew(t *testing.T) {
	cfg := &config.Config{
		Env:       "development",
		LogLevel:  "debug",
		LogFormat: "json",
	}

	log := New(cfg)
	assert.NotNil(t, log)

	// 파생 로거들이 nil이 아닌지 확인
	assert.NotNil(t, log.WithField("key", "value"))
	assert.NotNil(t, log.WithComponent("test"))
	assert.NotNil(t, log.WithFields(map[string]interface{}{"a": 1, "b": 2}))
}

func TestNewNop(t *testing.T) {
	log := NewNop()
	// 출력 없이 호출만 가능하면 됨
	log.Info("discarded")
	log.WithComponent("x").Debugf("discarded %d", 1)
}
