package config

import (
	"fmt"

	"go.uber.org/zap"
)

// NewLogger builds the process logger at the configured level. The CLI
// passes quiet=true to keep JSON log lines off the interactive prompt.
func (c *Config) NewLogger(quiet bool) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logging.level: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = level
	if quiet {
		zc.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
		zc.Encoding = "console"
		zc.OutputPaths = []string{"stderr"}
	}
	return zc.Build()
}
