package testenv

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// LogHandler is a slog.Handler that numbers records from 0 and prints level,
// message and attributes without a timestamp, so that log output can be
// compared in examples and golden tests.
type LogHandler struct {
	shared *handlerState
	attrs  []slog.Attr
	groups []string
}

// handlerState is shared by a handler and every handler derived from it
// with WithAttrs or WithGroup, so that they count records together.
type handlerState struct {
	mu             sync.Mutex
	w              io.Writer
	index          int
	minLevel       slog.Level
	ignorePrefixes []string
}

type LogHandlerOption func(*handlerState)

// WithWriter sends output to w instead of stdout.
func WithWriter(w io.Writer) LogHandlerOption {
	return func(s *handlerState) {
		s.w = w
	}
}

// WithMinLevel drops records below level.
func WithMinLevel(level slog.Level) LogHandlerOption {
	return func(s *handlerState) {
		s.minLevel = level
	}
}

// WithIgnorePrefixes drops warnings and errors whose message starts with
// one of prefixes, for failures a test provokes on purpose.
func WithIgnorePrefixes(prefixes ...string) LogHandlerOption {
	return func(s *handlerState) {
		s.ignorePrefixes = append(s.ignorePrefixes, prefixes...)
	}
}

func NewLogHandler(opts ...LogHandlerOption) *LogHandler {
	s := &handlerState{w: os.Stdout, minLevel: slog.LevelDebug}
	for _, o := range opts {
		o(s)
	}
	return &LogHandler{shared: s}
}

func (h *LogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.shared.minLevel
}

//nolint:gocritic
func (h *LogHandler) Handle(_ context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		for _, p := range h.shared.ignorePrefixes {
			if strings.HasPrefix(r.Message, p) {
				return nil
			}
		}
	}

	var parts []string
	for _, a := range h.attrs {
		parts = appendAttr(parts, "", a)
	}
	prefix := groupPrefix(h.groups)
	r.Attrs(func(a slog.Attr) bool {
		parts = appendAttr(parts, prefix, a)
		return true
	})

	s := h.shared
	s.mu.Lock()
	defer s.mu.Unlock()

	line := fmt.Sprintf("[%d] %s: %s", s.index, r.Level, r.Message)
	if len(parts) > 0 {
		line += " " + strings.Join(parts, ", ")
	}
	s.index++
	_, err := fmt.Fprintln(s.w, line)
	return err
}

func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	prefix := groupPrefix(h.groups)
	out := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(out, h.attrs)
	for _, a := range attrs {
		a.Key = prefix + a.Key
		out = append(out, a)
	}
	return &LogHandler{shared: h.shared, attrs: out, groups: h.groups}
}

func (h *LogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	groups := append(h.groups[:len(h.groups):len(h.groups)], name)
	return &LogHandler{shared: h.shared, attrs: h.attrs, groups: groups}
}

func groupPrefix(groups []string) string {
	if len(groups) == 0 {
		return ""
	}
	return strings.Join(groups, ".") + "."
}

// appendAttr flattens groups into dotted keys.
func appendAttr(parts []string, prefix string, a slog.Attr) []string {
	a.Value = a.Value.Resolve()
	if a.Value.Kind() == slog.KindGroup {
		if a.Key != "" {
			prefix += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			parts = appendAttr(parts, prefix, ga)
		}
		return parts
	}
	return append(parts, fmt.Sprintf("%s%s=%v", prefix, a.Key, a.Value))
}
