package logger

import (
	"fmt"

	"go.uber.org/zap"
)

// New builds a zap logger at the given verbosity. encoding is "json" for the
// production encoder or "console" for human-readable CLI output; empty means
// json.
func New(verbosity, encoding string) (*zap.Logger, error) {
	var config zap.Config
	switch encoding {
	case "", "json":
		config = zap.NewProductionConfig()
	case "console":
		config = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unknown log encoding %q", encoding)
	}
	level, err := zap.ParseAtomicLevel(verbosity)
	if err != nil {
		return nil, err
	}
	config.Level = level
	return config.Build()
}
