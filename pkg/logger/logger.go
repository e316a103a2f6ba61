// Package logger wraps logrus with the configuration shape orchestratord
// loads from YAML: a level, a text or json format, and an optional log
// file appended alongside stdout. Components constructed without explicit
// configuration get NewDefault, which tags every line with the component
// name so interleaved supervisor/evaluator/httpapi output stays
// attributable.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is the process-wide logging handle threaded into every component.
type Logger struct {
	*logrus.Logger
}

// LoggingConfig is the logging section of the orchestratord config file.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
	Output string `yaml:"output"` // "stdout" or "file"
	File   string `yaml:"file"`   // path used when Output is "file"
}

// New builds a logger from cfg. Unparseable levels fall back to info, and
// a log file that cannot be opened degrades to stdout-only rather than
// failing process start.
func New(cfg LoggingConfig) *Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)
	l.SetFormatter(formatterFor(cfg.Format))
	l.SetOutput(os.Stdout)

	if strings.EqualFold(cfg.Output, "file") {
		path := cfg.File
		if path == "" {
			path = "orchestratord.log"
		}
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				l.Errorf("create log directory %s: %v", dir, err)
				return &Logger{Logger: l}
			}
		}
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			l.Errorf("open log file %s: %v", path, err)
		} else {
			l.SetOutput(io.MultiWriter(os.Stdout, file))
		}
	}

	return &Logger{Logger: l}
}

// NewDefault returns an info-level text logger for a single component.
// name is stamped onto every entry as the "component" field.
func NewDefault(name string) *Logger {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(formatterFor("text"))
	l.SetOutput(os.Stdout)
	if name != "" {
		l.AddHook(componentHook{name: name})
	}
	return &Logger{Logger: l}
}

func formatterFor(format string) logrus.Formatter {
	if strings.EqualFold(format, "json") {
		return &logrus.JSONFormatter{}
	}
	return &logrus.TextFormatter{FullTimestamp: true}
}

// componentHook stamps a constant component field onto every entry.
type componentHook struct {
	name string
}

func (componentHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h componentHook) Fire(e *logrus.Entry) error {
	e.Data["component"] = h.name
	return nil
}

// WithField returns a new log entry with a field.
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.Logger.WithField(key, value)
}

// WithFields returns a new log entry with multiple fields.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.Logger.WithFields(fields)
}
