package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LoggerConfig struct {
	Debug bool
}

// NewLogger builds a JSON production logger. Debug lowers the level to debug and
// switches to ISO8601 timestamps so local output is readable.
func NewLogger(cfg *LoggerConfig) (*zap.Logger, error) {
	c := zap.NewProductionConfig()
	c.EncoderConfig.TimeKey = "time"
	c.EncoderConfig.EncodeTime = zapcore.EpochMillisTimeEncoder

	if cfg.Debug {
		c.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		c.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		c.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	return c.Build()
}
