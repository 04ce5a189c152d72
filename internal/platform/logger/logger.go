package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

var levelNames = map[string]Level{
	"debug":   Debug,
	"info":    Info,
	"warn":    Warn,
	"warning": Warn,
	"error":   Error,
}

// ParseLevel devuelve Info para valores vacíos o desconocidos.
func ParseLevel(s string) Level {
	if lvl, ok := levelNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return lvl
	}
	return Info
}

func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "info"
	}
}

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), string(FormatJSON)) {
		return FormatJSON
	}
	return FormatText
}

type Logger interface {
	With(fields map[string]any) Logger

	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}

// Claves que nunca se escriben en claro: datos del paciente y credenciales.
var defaultRedacted = []string{
	"patient_name",
	"nhs_number",
	"date_of_birth",
	"authorization",
	"token",
	"secret",
	"signature",
}

const redactedValue = "[redacted]"

// StdLogger escribe una línea por entrada (text o json) sobre log.Logger.
// Lo comparten servicios, adapters y el consumer de dead-letters.
type StdLogger struct {
	sink   *sink
	level  Level
	base   map[string]any
	redact map[string]struct{}
}

// sink es compartido entre el logger raíz y los derivados con With.
type sink struct {
	mu     sync.Mutex
	std    *log.Logger
	format Format
	now    func() time.Time
}

type Options struct {
	Level  Level
	Format Format
	App    string

	// Output por defecto es os.Stdout.
	Output io.Writer

	// Redact agrega claves a enmascarar además de las de datos clínicos.
	Redact []string
}

func New(opts Options) Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	format := opts.Format
	if format == "" {
		format = FormatText
	}

	base := map[string]any{}
	if app := strings.TrimSpace(opts.App); app != "" {
		base["app"] = app
	}

	redact := make(map[string]struct{}, len(defaultRedacted)+len(opts.Redact))
	for _, k := range append(append([]string{}, defaultRedacted...), opts.Redact...) {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			redact[k] = struct{}{}
		}
	}

	return &StdLogger{
		sink:   &sink{std: log.New(out, "", 0), format: format, now: time.Now},
		level:  opts.Level,
		base:   base,
		redact: redact,
	}
}

// Nop descarta todo. Útil en tests.
func Nop() Logger {
	return New(Options{Level: Error + 1, Output: io.Discard})
}

func (l *StdLogger) With(fields map[string]any) Logger {
	if len(fields) == 0 {
		return l
	}

	merged := make(map[string]any, len(l.base)+len(fields))
	for k, v := range l.base {
		merged[k] = v
	}
	l.merge(merged, fields)

	return &StdLogger{sink: l.sink, level: l.level, base: merged, redact: l.redact}
}

func (l *StdLogger) Debug(msg string, fields map[string]any) { l.log(Debug, msg, fields) }
func (l *StdLogger) Info(msg string, fields map[string]any)  { l.log(Info, msg, fields) }
func (l *StdLogger) Warn(msg string, fields map[string]any)  { l.log(Warn, msg, fields) }
func (l *StdLogger) Error(msg string, fields map[string]any) { l.log(Error, msg, fields) }

func (l *StdLogger) log(lvl Level, msg string, fields map[string]any) {
	if lvl < l.level {
		return
	}

	entry := make(map[string]any, len(l.base)+len(fields)+3)
	for k, v := range l.base {
		entry[k] = v
	}
	l.merge(entry, fields)
	entry["ts"] = l.sink.now().UTC().Format(time.RFC3339Nano)
	entry["level"] = lvl.String()
	entry["msg"] = msg

	l.sink.write(entry)
}

// merge copia fields en dst normalizando valores y enmascarando claves sensibles.
func (l *StdLogger) merge(dst, fields map[string]any) {
	for k, v := range fields {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, ok := l.redact[strings.ToLower(k)]; ok {
			dst[k] = redactedValue
			continue
		}
		dst[k] = normalize(v)
	}
}

// normalize evita que errores y times salgan como {} en json.
func normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case error:
		return x.Error()
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case time.Duration:
		return x.String()
	case fmt.Stringer:
		return x.String()
	default:
		return v
	}
}

func (s *sink) write(entry map[string]any) {
	var line string
	switch s.format {
	case FormatJSON:
		b, err := json.Marshal(entry)
		if err != nil {
			b, _ = json.Marshal(map[string]any{
				"ts":    entry["ts"],
				"level": entry["level"],
				"msg":   entry["msg"],
				"error": "unserializable fields: " + err.Error(),
			})
		}
		line = string(b)
	default:
		line = formatText(entry)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.std.Println(line)
}

func formatText(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		val := fmt.Sprintf("%v", m[k])
		if strings.ContainsAny(val, " \t\"=") {
			val = fmt.Sprintf("%q", val)
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(val)
	}
	return b.String()
}

type ctxKey struct{}

// IntoContext guarda l en ctx para que los handlers lo recuperen con FromContext.
func IntoContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext devuelve el logger del request o Nop si no hay ninguno.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(ctxKey{}).(Logger); ok && l != nil {
		return l
	}
	return Nop()
}
