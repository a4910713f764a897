package logger

import (
	"io"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// defaultLogPath is used when file output is selected without a path.
const defaultLogPath = "logs/govnotify.log"

// FileConfig holds configuration for file-based log output with rotation.
type FileConfig struct {
	Path      string
	MaxSizeMB int
	MaxFiles  int
}

// NewFileWriter returns a writer appending to a rotating, gzip-compressed
// log file.
func NewFileWriter(cfg FileConfig) io.Writer {
	if cfg.Path == "" {
		cfg.Path = defaultLogPath
	}
	return &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxFiles,
		Compress:   true,
	}
}

// outputWriter selects the log destination: "file", "both" (file and
// stdout) or stdout for anything else.
func outputWriter(cfg Config, stdout io.Writer) io.Writer {
	fileCfg := FileConfig{Path: cfg.FilePath, MaxSizeMB: cfg.MaxSizeMB, MaxFiles: cfg.MaxFiles}
	switch cfg.Output {
	case "file":
		return NewFileWriter(fileCfg)
	case "both":
		return zerolog.MultiLevelWriter(stdout, NewFileWriter(fileCfg))
	default:
		return stdout
	}
}
