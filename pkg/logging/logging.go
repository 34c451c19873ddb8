// Package logging builds the zap logger shared by a sync run
package logging

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ammar0144/sync4go/pkg/config"
)

// New builds a logger from cfg: the development config prints readable console
// lines, the production config JSON
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zapConfig zap.Config
	if cfg.Development {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
	}
	zapConfig.EncoderConfig.FunctionKey = "func"

	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %w", err)
		}
		zapConfig.Level = zap.NewAtomicLevelAt(level)
	}

	logger, err := zapConfig.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

// WithRun tags every entry of one sync run with a fresh run id and the target
// model. The id is returned for reporting.
func WithRun(logger *zap.Logger, model string) (*zap.Logger, string) {
	id := uuid.NewString()
	return logger.With(zap.String("run_id", id), zap.String("model", model)), id
}
