package logger

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"
)

type logFormat string

const (
	formatJSON logFormat = "json"
	formatKV   logFormat = "kv"

	timeFormatMillis = "2006-01-02T15:04:05.000Z07:00"
)

type handlerConfig struct {
	level    slog.Leveler
	writer   *asyncWriter
	format   logFormat
	keyOrder []string
}

// structuredHandler renders one line per record: the configured keys first, in
// order, then the remaining keys sorted.
type structuredHandler struct {
	cfg    handlerConfig
	rank   map[string]int
	attrs  []slog.Attr
	prefix string
}

func newStructuredHandler(cfg handlerConfig) *structuredHandler {
	if cfg.level == nil {
		cfg.level = slog.LevelInfo
	}
	if cfg.keyOrder == nil {
		cfg.keyOrder = slices.Clone(defaultKeyOrder)
	}
	rank := make(map[string]int, len(cfg.keyOrder))
	for i, k := range cfg.keyOrder {
		if _, dup := rank[k]; !dup {
			rank[k] = i
		}
	}
	return &structuredHandler{cfg: cfg, rank: rank}
}

func (h *structuredHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.cfg.level.Level()
}

func (h *structuredHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.cfg.writer == nil {
		return fmt.Errorf("logger: writer not initialized")
	}
	asJSON := h.cfg.format == formatJSON
	ts := r.Time.UTC()

	e := entry{}
	e.set("ts", ts.Truncate(time.Millisecond).Format(timeFormatMillis))
	e.set("level", normalizeLevel(r.Level.String()))
	if asJSON {
		e.set("ts_unix_nano", ts.UnixNano())
	}
	for _, a := range h.attrs {
		e.add("", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		e.add(h.prefix, a)
		return true
	})
	e.fromContext(ctx)

	if rid, _ := e.get("rid").(string); rid != "" {
		if short := CompactRID(rid); short != rid {
			if asJSON {
				e.setDefault("rid_full", rid)
			}
			e.set("rid", short)
		}
	}
	if ev, _ := e.get("event").(string); ev == "" {
		e.set("event", cmp.Or(r.Message, "unknown"))
	}
	if c, _ := e.get("component").(string); c == "" {
		e.set("component", "app")
	}
	if s, _ := e.get("status").(string); s != "" {
		e.set("status", normalizeStatus(s))
	}

	keys := e.ordered(h.rank)
	var line []byte
	if asJSON {
		var err error
		if line, err = e.json(keys); err != nil {
			return err
		}
	} else {
		line = e.kv(keys)
	}
	return h.cfg.writer.Write(append(line, '\n'))
}

func (h *structuredHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = slices.Clone(h.attrs)
	for _, a := range attrs {
		// stored with the group prefix already applied
		clone.attrs = append(clone.attrs, slog.Attr{Key: joinKey(h.prefix, a.Key), Value: a.Value})
	}
	return &clone
}

func (h *structuredHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = joinKey(h.prefix, name)
	return &clone
}

// entry is the flattened field set of one record.
type entry struct {
	fields map[string]any
}

func (e *entry) set(key string, val any) {
	if e.fields == nil {
		e.fields = make(map[string]any, 16)
	}
	e.fields[key] = val
}

func (e *entry) setDefault(key string, val any) {
	if _, ok := e.fields[key]; !ok {
		e.set(key, val)
	}
}

func (e *entry) get(key string) any { return e.fields[key] }

// add flattens groups into dotted keys and drops empty values.
func (e *entry) add(prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Value.Kind() == slog.KindGroup {
		p := joinKey(prefix, a.Key)
		for _, child := range a.Value.Group() {
			e.add(p, child)
		}
		return
	}
	key := joinKey(prefix, a.Key)
	if key == "" {
		return
	}
	key, val := plainValue(key, a.Value)
	if val == nil || val == "" {
		return
	}
	e.set(key, val)
}

func (e *entry) fromContext(ctx context.Context) {
	if ctx == nil {
		return
	}
	if v := RIDFrom(ctx); v != "" {
		e.setDefault("rid", v)
	}
	if v := UpdateIDFrom(ctx); v != 0 {
		e.setDefault("update_id", v)
	}
	if v := UserIDFrom(ctx); v != 0 {
		e.setDefault("user_id", v)
	}
	if v := ChatIDFrom(ctx); v != 0 {
		e.setDefault("chat_id", v)
	}
	if v := HandlerFrom(ctx); v != "" {
		e.setDefault("handler", v)
	}
	if v := FormIDFrom(ctx); v != "" {
		e.setDefault("form_id", v)
	}
}

func (e *entry) ordered(rank map[string]int) []string {
	keys := make([]string, 0, len(e.fields))
	for k := range e.fields {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		ra, okA := rank[a]
		rb, okB := rank[b]
		switch {
		case okA && okB:
			return ra - rb
		case okA:
			return -1
		case okB:
			return 1
		}
		return strings.Compare(a, b)
	})
	return keys
}

func (e *entry) json(keys []string) ([]byte, error) {
	out := make([]byte, 0, 256)
	out = append(out, '{')
	for i, k := range keys {
		data, err := json.Marshal(e.fields[k])
		if err != nil {
			return nil, fmt.Errorf("logger: encode %s: %w", k, err)
		}
		if i > 0 {
			out = append(out, ',')
		}
		out = strconv.AppendQuote(out, k)
		out = append(out, ':')
		out = append(out, data...)
	}
	return append(out, '}'), nil
}

func (e *entry) kv(keys []string) []byte {
	out := make([]byte, 0, 256)
	for i, k := range keys {
		if i > 0 {
			out = append(out, ' ')
		}
		out = append(out, k...)
		out = append(out, '=')
		s := fmt.Sprint(e.fields[k])
		if strings.ContainsFunc(s, needsQuote) {
			out = strconv.AppendQuote(out, s)
		} else {
			out = append(out, s...)
		}
	}
	return out
}

// plainValue converts a slog value to a JSON-friendly one. Durations become whole
// milliseconds and their key gains a _ms suffix.
func plainValue(key string, v slog.Value) (string, any) {
	switch v.Kind() {
	case slog.KindString:
		return key, strings.TrimSpace(v.String())
	case slog.KindBool:
		return key, v.Bool()
	case slog.KindInt64:
		return key, v.Int64()
	case slog.KindUint64:
		return key, v.Uint64()
	case slog.KindFloat64:
		return key, v.Float64()
	case slog.KindDuration:
		return durationKey(key), RoundMS(v.Duration()).Milliseconds()
	case slog.KindTime:
		return key, v.Time().UTC().Format(time.RFC3339Nano)
	}
	switch x := v.Any().(type) {
	case nil:
		return key, nil
	case error:
		return key, x.Error()
	case time.Duration:
		return durationKey(key), RoundMS(x).Milliseconds()
	case fmt.Stringer:
		return key, x.String()
	case string:
		return key, strings.TrimSpace(x)
	default:
		return key, fmt.Sprint(x)
	}
}

func durationKey(key string) string {
	switch {
	case key == "duration":
		return "duration_ms"
	case strings.HasSuffix(key, "_ms"):
		return key
	}
	return key + "_ms"
}

func joinKey(prefix, key string) string {
	switch {
	case prefix == "":
		return key
	case key == "":
		return prefix
	}
	return prefix + "." + key
}

func needsQuote(r rune) bool {
	return r <= ' ' || r == '=' || r == '"'
}
