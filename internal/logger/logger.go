// Package logger configures the zerolog logger used by rootca.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Setup returns the process logger. Events go to stderr as JSON, or through
// a console writer in dev mode. Inside GitHub Actions warnings and errors are
// also emitted on stdout as workflow annotations.
func Setup(dev bool) zerolog.Logger {
	return New(os.Stderr, os.Stdout, dev, os.Getenv("GITHUB_ACTIONS") == "true")
}

// New builds a logger writing events to out. When actions is true, warn and
// error events are additionally written to annotations.
func New(out, annotations io.Writer, dev, actions bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if dev {
		level = zerolog.DebugLevel
	}

	var base io.Writer = out
	if dev {
		base = zerolog.ConsoleWriter{Out: out, FormatTimestamp: func(i any) string {
			return time.Now().Format(time.RFC3339)
		}}
	}
	if actions {
		base = zerolog.MultiLevelWriter(base, &ActionsWriter{Out: annotations})
	}

	ctx := zerolog.New(base).Level(level).With().Timestamp()
	if dev {
		ctx = ctx.Caller().Stack()
	}
	return ctx.Logger()
}

// WithRunID returns a child logger tagged with a fresh run identifier.
func WithRunID(l zerolog.Logger) (zerolog.Logger, string) {
	id := uuid.NewString()
	return l.With().Str("run_id", id).Logger(), id
}

// ActionsWriter turns warn and error events into GitHub Actions workflow
// commands. Other levels are discarded.
type ActionsWriter struct {
	Out io.Writer
}

var _ zerolog.LevelWriter = (*ActionsWriter)(nil)

// Write discards events without a level.
func (w *ActionsWriter) Write(p []byte) (int, error) {
	return len(p), nil
}

// WriteLevel writes one annotation line for warn and error events.
func (w *ActionsWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	var command string
	switch {
	case level == zerolog.WarnLevel:
		command = "warning"
	case level >= zerolog.ErrorLevel && level <= zerolog.PanicLevel:
		command = "error"
	default:
		return len(p), nil
	}

	if _, err := fmt.Fprintf(w.Out, "::%s ::%s\n", command, annotationText(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// annotationText extracts the message and error fields of a JSON event.
func annotationText(p []byte) string {
	var event map[string]any
	if err := json.Unmarshal(p, &event); err != nil {
		return escapeAnnotation(string(p))
	}

	msg, _ := event[zerolog.MessageFieldName].(string)
	if errText, ok := event[zerolog.ErrorFieldName].(string); ok && errText != "" {
		if msg == "" {
			msg = errText
		} else {
			msg = msg + ": " + errText
		}
	}
	return escapeAnnotation(msg)
}

// annotationEscaper applies the workflow command data escaping rules.
var annotationEscaper = strings.NewReplacer("%", "%25", "\r", "%0D", "\n", "%0A")

func escapeAnnotation(s string) string {
	return annotationEscaper.Replace(strings.TrimSpace(s))
}
