package logger

import (
	"github.com/agenthands/annals/internal/config"
	"github.com/agenthands/annals/internal/logger/console"
	"github.com/agenthands/annals/internal/logger/file"
)

// Setup installs the backends described by cfg. The file backend is placed
// first so Fatal reaches it before the console backend exits.
func Setup(cfg config.LogConfig) {
	var instances []LoggerInstance
	if cfg.File != "" {
		instances = append(instances, file.NewFileLogger(file.FileLoggerParams{
			Path:      cfg.File,
			Level:     cfg.Level,
			MaxSizeMB: cfg.MaxSizeMB,
		}))
	}
	instances = append(instances, console.NewConsoleLogger(console.ConsoleLoggerParams{Level: cfg.Level}))
	Init(instances...)
}
