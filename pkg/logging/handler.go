// Package logging provides the compact slog handler used by the command
// line tool: a bracketed timestamp, bracketed attribute values, then the
// message.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// Handler formats records as "[2006/01/02 15:04:05] [v1] [v2] message".
// Level filtering is delegated to a wrapped slog.TextHandler.
type Handler struct {
	h     slog.Handler
	mu    *sync.Mutex
	out   io.Writer
	attrs []string // formatted, already qualified by their group
	group string   // dotted group prefix for later attrs, "" at top level
}

// NewHandler returns a handler writing to o.
func NewHandler(o io.Writer, opts *slog.HandlerOptions) *Handler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &Handler{
		out: o,
		h: slog.NewTextHandler(o, &slog.HandlerOptions{
			Level:     opts.Level,
			AddSource: opts.AddSource,
		}),
		mu: &sync.Mutex{},
	}
}

// New returns a logger at debug level when verbose, info otherwise.
func New(o io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(NewHandler(o, &slog.HandlerOptions{Level: level}))
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.h.Enabled(ctx, level)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := append([]string{}, h.attrs...)
	for _, a := range attrs {
		merged = appendAttr(merged, h.group, a)
	}
	return &Handler{h: h.h.WithAttrs(attrs), out: h.out, mu: h.mu, attrs: merged, group: h.group}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &Handler{h: h.h.WithGroup(name), out: h.out, mu: h.mu, attrs: h.attrs, group: h.group + name + "."}
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	strs := []string{r.Time.Format("[2006/01/02 15:04:05]")}
	if r.Level >= slog.LevelWarn {
		strs = append(strs, "["+r.Level.String()+"]")
	}

	strs = append(strs, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		strs = appendAttr(strs, h.group, a)
		return true
	})
	strs = append(strs, r.Message)

	b := []byte(strings.Join(strs, " ") + "\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.out.Write(b)
	return err
}

// appendAttr formats a as [prefix.key=value], flattening group values
// the way slog.TextHandler qualifies their keys.
func appendAttr(strs []string, prefix string, a slog.Attr) []string {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return strs
	}
	if a.Value.Kind() == slog.KindGroup {
		if a.Key != "" {
			prefix += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			strs = appendAttr(strs, prefix, ga)
		}
		return strs
	}
	return append(strs, fmt.Sprintf("[%s%s=%s]", prefix, a.Key, a.Value.String()))
}
