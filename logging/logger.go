// Package logging provides structured, per-module leveled logging for the
// streaming runtime, built on log/slog. Components call logging.For("controller")
// to get a logger whose level is resolved hierarchically via a ModuleConfig,
// and whose output is enriched with whatever stream/conversation/bubble/user
// IDs are present on the context passed to a *Context logging call.
package logging

import (
	"context"
	"log/slog"
	"os"
	"sync"
)

// Format names accepted by Configure.
const (
	FormatJSON = "json"
	FormatText = "text"
)

var (
	mu           sync.RWMutex
	moduleConfig = NewModuleConfig(slog.LevelInfo)
	baseHandler  slog.Handler = newHandler(FormatText, os.Stderr, nil)
)

// moduleLevelHandler gates records on the ModuleConfig level configured for
// a fixed module name, then delegates to inner (normally a ContextHandler).
type moduleLevelHandler struct {
	module string
	inner  slog.Handler
}

func (h *moduleLevelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	mu.RLock()
	cfg := moduleConfig
	mu.RUnlock()
	return level >= cfg.LevelFor(h.module)
}

func (h *moduleLevelHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.inner.Handle(ctx, r)
}

func (h *moduleLevelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &moduleLevelHandler{module: h.module, inner: h.inner.WithAttrs(attrs)}
}

func (h *moduleLevelHandler) WithGroup(name string) slog.Handler {
	return &moduleLevelHandler{module: h.module, inner: h.inner.WithGroup(name)}
}

func newHandler(format string, w *os.File, commonFields []slog.Attr) slog.Handler {
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	var base slog.Handler
	if format == FormatJSON {
		base = slog.NewJSONHandler(w, opts)
	} else {
		base = slog.NewTextHandler(w, opts)
	}
	return NewContextHandler(base, commonFields...)
}

// ModuleSpec configures the log level for one module (dot-notation name).
type ModuleSpec struct {
	Name  string `yaml:"name"`
	Level string `yaml:"level"`
}

// Spec describes the logging configuration applied by Configure.
type Spec struct {
	DefaultLevel string            `yaml:"default_level"`
	Format       string            `yaml:"format"` // FormatJSON or FormatText
	CommonFields map[string]string `yaml:"common_fields"`
	Modules      []ModuleSpec      `yaml:"modules"`
}

// Configure applies a Spec to the package-global logging configuration.
// Subsequent calls to For pick up the new configuration.
func Configure(spec Spec) {
	cfg := NewModuleConfig(ParseLevel(spec.DefaultLevel))
	for _, m := range spec.Modules {
		cfg.SetModuleLevel(m.Name, ParseLevel(m.Level))
	}

	common := make([]slog.Attr, 0, len(spec.CommonFields))
	for k, v := range spec.CommonFields {
		common = append(common, slog.String(k, v))
	}

	mu.Lock()
	moduleConfig = cfg
	baseHandler = newHandler(spec.Format, os.Stderr, common)
	mu.Unlock()
}

// For returns a logger for the given module name (dot-notation, e.g.
// "controller.timeout"). Its effective level is resolved from the current
// ModuleConfig each time a record is considered.
func For(module string) *slog.Logger {
	mu.RLock()
	inner := baseHandler
	mu.RUnlock()
	return slog.New(&moduleLevelHandler{module: module, inner: inner})
}
