// Package logging builds the logrus loggers used across the service.
//
// Each component asks for its own entry via For(name). The entry carries a
// "module" field and, when logging.modules names the component, its own
// level. Unknown module names in the configuration are reported once at
// startup and otherwise ignored.
package logging

import (
	"io"
	"os"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/domotik/internal/config"
)

// Modules lists the component names accepted under logging.modules.
var Modules = []string{"database", "stream", "export", "render", "server", "grpc", "scheduler", "main"}

// Factory hands out per-module loggers sharing one output and formatter.
type Factory struct {
	out       io.Writer
	formatter logrus.Formatter
	level     logrus.Level
	modules   map[string]logrus.Level
}

// New builds a Factory from the logging section. An unparsable level falls
// back to info.
func New(cfg config.LoggingConfig) *Factory {
	return NewWithOutput(cfg, os.Stderr)
}

// NewWithOutput is New writing to out.
func NewWithOutput(cfg config.LoggingConfig, out io.Writer) *Factory {
	f := &Factory{
		out:       out,
		formatter: formatter(cfg.Format),
		level:     parseLevel(cfg.Level, logrus.InfoLevel),
		modules:   make(map[string]logrus.Level, len(cfg.Modules)),
	}

	var unknown []string
	for name, lvl := range cfg.Modules {
		if !known(name) {
			unknown = append(unknown, name)
			continue
		}
		f.modules[name] = parseLevel(lvl, f.level)
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		f.For("main").WithField("modules", strings.Join(unknown, ",")).Warn("Ignoring unknown logging modules")
	}
	return f
}

// For returns the logger for a component.
func (f *Factory) For(name string) *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(f.out)
	logger.SetFormatter(f.formatter)
	if lvl, ok := f.modules[name]; ok {
		logger.SetLevel(lvl)
	} else {
		logger.SetLevel(f.level)
	}
	return logger.WithField("module", name)
}

func formatter(format string) logrus.Formatter {
	if strings.EqualFold(format, "text") {
		return &logrus.TextFormatter{FullTimestamp: true}
	}
	return &logrus.JSONFormatter{}
}

func parseLevel(raw string, def logrus.Level) logrus.Level {
	lvl, err := logrus.ParseLevel(raw)
	if err != nil {
		return def
	}
	return lvl
}

func known(name string) bool {
	for _, m := range Modules {
		if m == name {
			return true
		}
	}
	return false
}
