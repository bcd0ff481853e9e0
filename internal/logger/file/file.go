package file

import (
	"io"

	"github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileLogger writes JSON lines to a size-rotated file.
type FileLogger struct {
	logger *log.Logger
	out    io.Closer
}

type FileLoggerParams struct {
	Path      string
	Level     string
	MaxSizeMB int
}

func NewFileLogger(params FileLoggerParams) *FileLogger {
	level, err := log.ParseLevel(params.Level)
	if err != nil {
		level = log.InfoLevel
	}
	maxSize := params.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 50
	}
	out := &lumberjack.Logger{
		Filename:   params.Path,
		MaxSize:    maxSize,
		MaxBackups: 5,
		Compress:   true,
	}
	return &FileLogger{
		logger: log.NewWithOptions(out, log.Options{
			ReportTimestamp: true,
			Level:           level,
			Formatter:       log.JSONFormatter,
		}),
		out: out,
	}
}

func (f *FileLogger) Close() error { return f.out.Close() }

func (f *FileLogger) Debug(message string, keyvals ...any) { f.logger.Debug(message, keyvals...) }
func (f *FileLogger) Info(message string, keyvals ...any)  { f.logger.Info(message, keyvals...) }
func (f *FileLogger) Warn(message string, keyvals ...any)  { f.logger.Warn(message, keyvals...) }
func (f *FileLogger) Error(message string, keyvals ...any) { f.logger.Error(message, keyvals...) }

// Fatal does not exit; the console backend owns process termination.
func (f *FileLogger) Fatal(message string, keyvals ...any) { f.logger.Error(message, keyvals...) }
