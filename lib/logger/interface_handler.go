package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// InterfaceAttr is the attribute key that routes a record to an interface's
// shaping history log.
const InterfaceAttr = "interface"

// InterfaceLogHandler wraps an slog.Handler and also appends records that
// carry an "interface" attribute to that interface's shaping.log.
type InterfaceLogHandler struct {
	slog.Handler
	logPath  func(iface string) (string, error)
	preAttrs []slog.Attr
	mu       *sync.Mutex
}

// NewInterfaceLogHandler wraps h. logPath maps an interface name to its
// history file and rejects names that cannot be used as a path.
func NewInterfaceLogHandler(h slog.Handler, logPath func(iface string) (string, error)) *InterfaceLogHandler {
	return &InterfaceLogHandler{
		Handler: h,
		logPath: logPath,
		mu:      &sync.Mutex{},
	}
}

// Handle passes the record to the wrapped handler, then appends it to the
// interface history if the record names an interface.
func (h *InterfaceLogHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.Handler.Handle(ctx, r); err != nil {
		return err
	}

	iface := interfaceFrom(h.preAttrs)
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == InterfaceAttr {
			iface = a.Value.String()
			return false
		}
		return true
	})
	if iface != "" {
		h.appendHistory(iface, r)
	}
	return nil
}

func interfaceFrom(attrs []slog.Attr) string {
	var iface string
	for _, a := range attrs {
		if a.Key == InterfaceAttr {
			iface = a.Value.String()
		}
	}
	return iface
}

func (h *InterfaceLogHandler) appendHistory(iface string, r slog.Record) {
	path, err := h.logPath(iface)
	if err != nil || path == "" {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s", r.Time.UTC().Format(time.RFC3339), r.Level, r.Message)
	write := func(a slog.Attr) bool {
		if a.Key != InterfaceAttr && a.Key != "subsystem" {
			fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
		}
		return true
	}
	for _, a := range h.preAttrs {
		write(a)
	}
	r.Attrs(write)
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()

	// Package-level slog below: no "interface" attr, so no recursion.
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		slog.Warn("failed to create interface log directory", "path", path, "error", err)
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		slog.Warn("failed to open interface log", "path", path, "error", err)
		return
	}
	defer f.Close()
	if _, err := f.WriteString(b.String()); err != nil {
		slog.Warn("failed to write interface log", "path", path, "error", err)
	}
}

// WithAttrs keeps a copy of the attrs so an interface bound with With() is
// still found at Handle time.
func (h *InterfaceLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	pre := make([]slog.Attr, 0, len(h.preAttrs)+len(attrs))
	pre = append(pre, h.preAttrs...)
	pre = append(pre, attrs...)
	return &InterfaceLogHandler{
		Handler:  h.Handler.WithAttrs(attrs),
		logPath:  h.logPath,
		preAttrs: pre,
		mu:       h.mu,
	}
}

// WithGroup does not track groups; the interface attr is expected at top level.
func (h *InterfaceLogHandler) WithGroup(name string) slog.Handler {
	return &InterfaceLogHandler{
		Handler:  h.Handler.WithGroup(name),
		logPath:  h.logPath,
		preAttrs: h.preAttrs,
		mu:       h.mu,
	}
}
