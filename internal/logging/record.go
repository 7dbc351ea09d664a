package logging

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelFatal Level = "fatal"
)

func ParseLevel(s string) (Level, error) {
	switch l := Level(strings.ToLower(strings.TrimSpace(s))); l {
	case LevelDebug, LevelInfo, LevelWarn, LevelError, LevelFatal:
		return l, nil
	case "warning":
		return LevelWarn, nil
	}
	return "", errors.Errorf("unknown log level %q", s)
}

// LogRecord is a single log line travelling through the pipeline. Records are
// built once by NewLogRecord and treated as read-only afterwards.
type LogRecord struct {
	Level       Level
	Message     string
	Context     map[string]any
	Fingerprint string
	Source      string
	LoggedAt    time.Time
}

type RecordOption func(*LogRecord)

// WithContext merges fields into the record context. Later keys overwrite
// earlier ones.
func WithContext(fields map[string]any) RecordOption {
	return func(r *LogRecord) {
		for k, v := range fields {
			r.Context[k] = v
		}
	}
}

func WithField(key string, value any) RecordOption {
	return func(r *LogRecord) {
		r.Context[key] = value
	}
}

func WithFingerprint(fingerprint string) RecordOption {
	return func(r *LogRecord) {
		r.Fingerprint = fingerprint
	}
}

func WithSource(source string) RecordOption {
	return func(r *LogRecord) {
		r.Source = source
	}
}

// NewLogRecord captures loggedAt as the record timestamp. The context map is
// owned by the record; callers' maps are copied, never aliased.
func NewLogRecord(level Level, message string, loggedAt time.Time, opts ...RecordOption) LogRecord {
	r := LogRecord{
		Level:    level,
		Message:  message,
		Context:  make(map[string]any),
		LoggedAt: loggedAt,
	}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

type wireRecord struct {
	Level       Level          `json:"level"`
	Message     string         `json:"message"`
	Context     map[string]any `json:"context"`
	Fingerprint string         `json:"fingerprint,omitempty"`
	Source      string         `json:"source,omitempty"`
	LoggedAt    string         `json:"logged_at"`
}

// MarshalJSON renders the collector wire shape.
func (r LogRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireRecord{
		Level:       r.Level,
		Message:     r.Message,
		Context:     FlattenContext(r.Context),
		Fingerprint: r.Fingerprint,
		Source:      r.Source,
		LoggedAt:    r.LoggedAt.UTC().Format(time.RFC3339Nano),
	})
}

// FlattenContext reduces arbitrary values to JSON scalars. Anything that is
// not a string, bool, number or nil is rendered as text.
func FlattenContext(ctx map[string]any) map[string]any {
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		out[k] = flattenValue(v)
	}
	return out
}

func flattenValue(v any) any {
	switch t := v.(type) {
	case nil, string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case time.Duration:
		return t.String()
	case error:
		return t.Error()
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}
