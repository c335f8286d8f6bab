package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	ansiReset  = "\033[0m"
	ansiBold   = "\033[1m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiBlue   = "\033[34m"
	ansiCyan   = "\033[36m"
	ansiGray   = "\033[90m"
)

// prettyTime keeps milliseconds so interleaved stream activity stays readable.
const prettyTime = "15:04:05.000"

// PrettyHandler is a slog.Handler for terminals. A line reads
//
//	15:04:05.000 DEBUG [transfer] copy issued dir=h2d size=4096(4KiB) tag=3
//
// The component attribute becomes the bracketed prefix, and integer
// attributes whose key is size or ends in bytes also show a binary unit.
// Colors are dropped when NO_COLOR is set.
type PrettyHandler struct {
	level     slog.Leveler
	w         io.Writer
	mu        *sync.Mutex
	color     bool
	component string
	group     string // dotted prefix for attrs added from now on
	pre       []byte // attrs bound with WithAttrs, already rendered
}

// NewPrettyHandler returns a handler writing to w. Only opts.Level is used.
func NewPrettyHandler(w io.Writer, opts *slog.HandlerOptions) *PrettyHandler {
	var level slog.Leveler = slog.LevelInfo
	if opts != nil && opts.Level != nil {
		level = opts.Level
	}
	_, noColor := os.LookupEnv("NO_COLOR")
	return &PrettyHandler{
		level: level,
		w:     w,
		mu:    &sync.Mutex{},
		color: !noColor,
	}
}

func (h *PrettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	component := h.component
	var attrs []byte
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == ComponentKey && h.group == "" {
			component = a.Value.String()
			return true
		}
		attrs = appendAttr(attrs, a, h.group)
		return true
	})

	buf := make([]byte, 0, 256)
	buf = h.paint(buf, ansiGray, r.Time.AppendFormat(nil, prettyTime))
	buf = append(buf, ' ')
	buf = h.paint(buf, levelColor(r.Level)+ansiBold, fmt.Appendf(nil, "%-5s", r.Level.String()))
	buf = append(buf, ' ')
	if component != "" {
		buf = h.paint(buf, ansiGreen, []byte("["+component+"]"))
		buf = append(buf, ' ')
	}
	buf = append(buf, r.Message...)
	if tail := append(h.pre[:len(h.pre):len(h.pre)], attrs...); len(tail) > 0 {
		buf = h.paint(buf, ansiCyan, tail)
	}
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf)
	return err
}

func (h *PrettyHandler) paint(buf []byte, color string, text []byte) []byte {
	if !h.color {
		return append(buf, text...)
	}
	buf = append(buf, color...)
	buf = append(buf, text...)
	return append(buf, ansiReset...)
}

// WithAttrs renders attrs once, under the group that is open now.
func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := h.clone()
	for _, a := range attrs {
		if a.Key == ComponentKey && h.group == "" {
			h2.component = a.Value.String()
			continue
		}
		h2.pre = appendAttr(h2.pre, a, h.group)
	}
	return h2
}

func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := h.clone()
	if h2.group == "" {
		h2.group = name
	} else {
		h2.group += "." + name
	}
	return h2
}

// clone shares the writer lock so derived handlers never interleave lines.
func (h *PrettyHandler) clone() *PrettyHandler {
	h2 := *h
	h2.pre = h.pre[:len(h.pre):len(h.pre)]
	return &h2
}

func levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return ansiRed
	case level >= slog.LevelWarn:
		return ansiYellow
	case level >= slog.LevelInfo:
		return ansiBlue
	default:
		return ansiGray
	}
}

// appendAttr writes " key=value" with key qualified by group.
func appendAttr(buf []byte, a slog.Attr, group string) []byte {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return buf
	}
	if a.Value.Kind() == slog.KindGroup {
		inner := a.Key
		if group != "" && inner != "" {
			inner = group + "." + inner
		} else if inner == "" {
			inner = group
		}
		for _, ga := range a.Value.Group() {
			buf = appendAttr(buf, ga, inner)
		}
		return buf
	}

	buf = append(buf, ' ')
	if group != "" {
		buf = append(buf, group...)
		buf = append(buf, '.')
	}
	buf = append(buf, a.Key...)
	buf = append(buf, '=')
	return appendValue(buf, a.Key, a.Value)
}

func appendValue(buf []byte, key string, v slog.Value) []byte {
	switch v.Kind() {
	case slog.KindString:
		s := v.String()
		if needsQuoting(s) {
			return strconv.AppendQuote(buf, s)
		}
		return append(buf, s...)
	case slog.KindInt64:
		buf = strconv.AppendInt(buf, v.Int64(), 10)
		if isByteCount(key) {
			buf = appendUnits(buf, v.Int64())
		}
		return buf
	case slog.KindUint64:
		buf = strconv.AppendUint(buf, v.Uint64(), 10)
		if isByteCount(key) && v.Uint64() <= 1<<62 {
			buf = appendUnits(buf, int64(v.Uint64()))
		}
		return buf
	case slog.KindDuration:
		return append(buf, v.Duration().String()...)
	case slog.KindTime:
		return v.Time().AppendFormat(buf, time.RFC3339Nano)
	default:
		s := fmt.Sprint(v.Any())
		if needsQuoting(s) {
			return strconv.AppendQuote(buf, s)
		}
		return append(buf, s...)
	}
}

func isByteCount(key string) bool {
	return key == "size" || strings.HasSuffix(key, "bytes")
}

// appendUnits adds "(4KiB)" style sizes for counts of at least 1KiB.
func appendUnits(buf []byte, n int64) []byte {
	const unit = 1024
	if n < unit {
		return buf
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit && exp < 4; m /= unit {
		div *= unit
		exp++
	}
	buf = append(buf, '(')
	if n%div == 0 {
		buf = strconv.AppendInt(buf, n/div, 10)
	} else {
		buf = strconv.AppendFloat(buf, float64(n)/float64(div), 'f', 1, 64)
	}
	buf = append(buf, "KMGTP"[exp], 'i', 'B', ')')
	return buf
}

func needsQuoting(s string) bool {
	return strings.ContainsAny(s, " \t\n\"=")
}
