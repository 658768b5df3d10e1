package src

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"slices"
	"strings"

	"github.com/fatih/color"
)

type CustomHandlerOpts struct {
	SlogOpts slog.HandlerOptions
}

type CustomHandler struct {
	slog.Handler
	l     *log.Logger
	attrs []slog.Attr
}

func (ch *CustomHandler) Handle(ctx context.Context, r slog.Record) error {
	level := r.Level.String() + ":"
	switch r.Level {
	case slog.LevelDebug:
		level = color.WhiteString(level)
	case slog.LevelInfo:
		level = color.GreenString(level)
	case slog.LevelWarn:
		level = color.YellowString(level)
	case slog.LevelError:
		level = color.RedString(level)
	default:
		// Unrecognized level.
		level = color.HiWhiteString(level)
	}
	timeStr := r.Time.Format("[15:04:05]")
	message := color.HiWhiteString(r.Message)
	// Omit empty struct.
	if r.NumAttrs() == 0 && len(ch.attrs) == 0 {
		ch.l.Println(timeStr, level, message)
		return nil
	}
	fields := make(map[string]any, r.NumAttrs()+len(ch.attrs))
	for _, a := range ch.attrs {
		fields[a.Key] = attrValue(a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fields[a.Key] = attrValue(a.Value)
		return true
	})
	j, err := json.MarshalIndent(fields, "", " ")
	if err != nil {
		return err
	}
	ch.l.Println(timeStr, level, message, color.WhiteString(string(j)))
	return nil
}

func (ch *CustomHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CustomHandler{
		Handler: ch.Handler.WithAttrs(attrs),
		l:       ch.l,
		attrs:   append(slices.Clip(ch.attrs), attrs...),
	}
}

func (ch *CustomHandler) WithGroup(name string) slog.Handler {
	return &CustomHandler{
		Handler: ch.Handler.WithGroup(name),
		l:       ch.l,
		attrs:   ch.attrs,
	}
}

func attrValue(v slog.Value) any {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindGroup:
		group := make(map[string]any, len(v.Group()))
		for _, a := range v.Group() {
			group[a.Key] = attrValue(a.Value)
		}
		return group
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
	}
	return v.Any()
}

// Custom handler.
func NewCustomHandler(out io.Writer, opts CustomHandlerOpts) *CustomHandler {
	h := &CustomHandler{
		Handler: slog.NewJSONHandler(out, &opts.SlogOpts),
		l:       log.New(out, "", 0),
	}
	return h
}

// NewLogger builds the process logger. format "json" writes one JSON
// object per record, anything else the colored console format.
func NewLogger(out io.Writer, level string, format string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(out, &opts)), nil
	case "", "text", "console":
		return slog.New(NewCustomHandler(out, CustomHandlerOpts{SlogOpts: opts})), nil
	}
	return nil, fmt.Errorf("unknown log format %q", format)
}

func ParseLevel(level string) (slog.Level, error) {
	var lvl slog.Level
	if level == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
	return lvl, nil
}
