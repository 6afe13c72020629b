package events

import (
	"github.com/ThreeDotsLabs/watermill"
	"go.uber.org/zap"

	"github.com/danghamo/convoy/pkg/logger"
)

// zapAdapter routes watermill logs into the service logger
type zapAdapter struct {
	logger *zap.Logger
}

// NewWatermillLogger adapts log to watermill.LoggerAdapter. Watermill's
// trace level maps to zap debug.
func NewWatermillLogger(log *logger.Logger) watermill.LoggerAdapter {
	return &zapAdapter{logger: log.WithComponent("watermill").Logger}
}

func fields(f watermill.LogFields) []zap.Field {
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		out = append(out, zap.Any(k, v))
	}
	return out
}

func (a *zapAdapter) Error(msg string, err error, f watermill.LogFields) {
	a.logger.Error(msg, append(fields(f), zap.Error(err))...)
}

func (a *zapAdapter) Info(msg string, f watermill.LogFields) {
	a.logger.Info(msg, fields(f)...)
}

func (a *zapAdapter) Debug(msg string, f watermill.LogFields) {
	a.logger.Debug(msg, fields(f)...)
}

func (a *zapAdapter) Trace(msg string, f watermill.LogFields) {
	a.logger.Debug(msg, fields(f)...)
}

func (a *zapAdapter) With(f watermill.LogFields) watermill.LoggerAdapter {
	return &zapAdapter{logger: a.logger.With(fields(f)...)}
}
