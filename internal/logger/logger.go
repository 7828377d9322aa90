// Package logger configures the global zerolog logger from command line options.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is a go-flags option group shared by all binaries.
type Logger struct {
	Level      string `long:"log-level"            env:"LOG_LEVEL"            description:"Log level" choice:"trace" choice:"debug" choice:"info" choice:"warn" choice:"error" default:"info"`
	Format     string `long:"log-format"           env:"LOG_FORMAT"           description:"Log format" choice:"console" choice:"json" default:"console"`
	File       string `long:"log-file"             env:"LOG_FILE"             description:"Also write JSON logs to this file"`
	MaxSizeMB  int    `long:"log-file-max-size"    env:"LOG_FILE_MAX_SIZE"    description:"Rotate the log file after this many megabytes" default:"50"`
	MaxBackups int    `long:"log-file-max-backups" env:"LOG_FILE_MAX_BACKUPS" description:"Rotated log files to keep" default:"3"`
}

// Setup installs the global logger. It is safe to call more than once.
func (l *Logger) Setup() {
	log.Logger = zerolog.New(l.writer()).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(ParseLevel(l.Level))
}

func (l *Logger) writer() io.Writer {
	var out io.Writer = os.Stderr
	if strings.EqualFold(l.Format, "console") || l.Format == "" {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	}

	if l.File == "" {
		return out
	}

	file := &lumberjack.Logger{
		Filename:   l.File,
		MaxSize:    l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		Compress:   true,
	}

	return zerolog.MultiLevelWriter(out, file)
}

// ParseLevel maps a level name to zerolog, falling back to info.
func ParseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil || s == "" {
		return zerolog.InfoLevel
	}
	return lvl
}
