package logging

import (
	"go.uber.org/zap"

	"github.com/i474232898/airq-ingestion/internal/config"
)

// New builds the process logger: colored console output in dev, JSON otherwise.
func New(cfg *config.AppConfig, appName string) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.AppEnv == "dev" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("app", appName), zap.String("env", cfg.AppEnv)), nil
}
