// Package logging provides the slog handler shared by the gridroute
// binaries: one compact JSON object per line, suitable for CLI/daemon
// output. Library packages return errors instead of logging; only the
// binaries construct a logger.
package logging

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"
)

// LineJSONHandler is a slog.Handler emitting one flat JSON object per
// record. Groups are flattened into dotted keys; this keeps training logs
// greppable without nested decoding.
type LineJSONHandler struct {
	w     io.Writer
	mu    *sync.Mutex
	level slog.Leveler

	prefix string         // dotted group prefix for record attrs
	fixed  map[string]any // attrs bound via WithAttrs, already prefixed
}

// NewLineJSONHandler creates a handler writing to w at the given minimum
// level. A nil level means slog.LevelInfo.
func NewLineJSONHandler(w io.Writer, level slog.Leveler) *LineJSONHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &LineJSONHandler{w: w, mu: &sync.Mutex{}, level: level}
}

// New returns a slog.Logger backed by a LineJSONHandler.
func New(w io.Writer, level slog.Leveler) *slog.Logger {
	return slog.New(NewLineJSONHandler(w, level))
}

func (h *LineJSONHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *LineJSONHandler) Handle(_ context.Context, r slog.Record) error {
	payload := make(map[string]any, 4+len(h.fixed)+r.NumAttrs())

	when := r.Time
	if when.IsZero() {
		when = time.Now()
	}
	payload["time"] = when.Format(time.RFC3339Nano)
	payload["level"] = r.Level.String()
	payload["msg"] = r.Message

	for k, v := range h.fixed {
		payload[k] = v
	}
	r.Attrs(func(a slog.Attr) bool {
		addAttr(payload, h.prefix, a)
		return true
	})

	b, err := json.Marshal(payload)
	if err != nil {
		// Never drop a record over an unmarshalable attr.
		b, _ = json.Marshal(map[string]any{
			"time": payload["time"], "level": payload["level"], "msg": r.Message,
		})
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.w.Write(append(b, '\n'))
	return err
}

func addAttr(dst map[string]any, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Key == "" && a.Value.Kind() != slog.KindGroup {
		return
	}

	key := a.Key
	if prefix != "" && a.Key != "" {
		key = prefix + "." + a.Key
	}

	switch a.Value.Kind() {
	case slog.KindGroup:
		p := prefix
		if a.Key != "" {
			p = key
		}
		for _, ga := range a.Value.Group() {
			addAttr(dst, p, ga)
		}
	case slog.KindDuration:
		dst[key] = a.Value.Duration().String()
	case slog.KindTime:
		dst[key] = a.Value.Time().Format(time.RFC3339Nano)
	default:
		dst[key] = a.Value.Any()
	}
}

func (h *LineJSONHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.fixed = make(map[string]any, len(h.fixed)+len(attrs))
	for k, v := range h.fixed {
		clone.fixed[k] = v
	}
	for _, a := range attrs {
		addAttr(clone.fixed, h.prefix, a)
	}
	return &clone
}

func (h *LineJSONHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	if h.prefix != "" {
		clone.prefix = h.prefix + "." + name
	} else {
		clone.prefix = name
	}
	return &clone
}
