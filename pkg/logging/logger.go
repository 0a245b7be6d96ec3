package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// New builds the root logger shared by the whole process. Services derive
// their own loggers from it via Named().
//
// level is a zap level name (debug, info, warn, error); format selects the
// encoder: "json" for production output, "console" for local development.
func New(level, format string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch format {
	case "console":
		cfg = zap.NewDevelopmentConfig()
	case "", "json":
		cfg = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q (expected json or console)", format)
	}
	cfg.Level = lvl

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}
