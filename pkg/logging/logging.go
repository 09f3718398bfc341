package logging

import (
	"github.com/truly-network/eventlistener/pkg/utils"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger. LOG_LEVEL selects debug|info|warn (default info) and
// LOG_ENCODING selects json|console (default json).
func New() (*zap.Logger, error) {
	level := utils.Env("LOG_LEVEL", "info")
	encoding := utils.Env("LOG_ENCODING", "json")
	cfg := zap.NewProductionConfig()
	cfg.Encoding = encoding
	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		cfg.Development = true
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.InitialFields = map[string]interface{}{
		"service": utils.Env("SERVICE_NAME", "eventlistener"),
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Flush syncs buffered entries. Errors from syncing stdout on some platforms are ignored.
func Flush(l *zap.Logger) {
	if l == nil {
		return
	}
	_ = l.Sync()
}
