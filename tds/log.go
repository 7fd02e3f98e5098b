package tds

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level is a logging severity level.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelOff
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelOff:
		return "OFF"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a level name, defaulting to LevelInfo on no match.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR", "ERR":
		return LevelError, nil
	case "OFF", "NONE":
		return LevelOff, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %s", s)
	}
}

// Category identifies which part of the engine produced a log entry.
type Category string

const (
	// CategoryTransport covers dial, TLS handshake, and packet-framing
	// events (connect, reconnect, timeout).
	CategoryTransport Category = "transport"
	// CategoryProtocol covers handshake/token-stream events (PRELOGIN,
	// LOGIN7, ENVCHANGE, unexpected tokens).
	CategoryProtocol Category = "protocol"
	// CategorySession covers execute/callproc/transaction lifecycle events.
	CategorySession Category = "session"
)

// Format selects the rendering of log entries.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// Entry is a single structured log record.
type Entry struct {
	Time     time.Time              `json:"time"`
	Level    Level                  `json:"level"`
	Category Category               `json:"category"`
	Message  string                 `json:"message"`
	Fields   map[string]interface{} `json:"fields,omitempty"`
	ErrorStr string                 `json:"error,omitempty"`
}

// Logger is the engine's structured logger: one level and output per
// category, text or JSON rendering.
type Logger struct {
	mu sync.RWMutex

	levels  map[Category]Level
	outputs map[Category]io.Writer
	format  Format
}

// LogConfig configures a Logger.
type LogConfig struct {
	DefaultLevel   Level
	CategoryLevels map[Category]Level
	Output         io.Writer
	Format         Format
}

// DefaultLogConfig returns info-level text logging to stderr.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		DefaultLevel: LevelInfo,
		Output:       os.Stderr,
		Format:       FormatText,
	}
}

// NewLogger builds a Logger from cfg.
func NewLogger(cfg LogConfig) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	l := &Logger{
		levels:  make(map[Category]Level),
		outputs: make(map[Category]io.Writer),
		format:  cfg.Format,
	}
	for _, cat := range []Category{CategoryTransport, CategoryProtocol, CategorySession} {
		l.levels[cat] = cfg.DefaultLevel
		l.outputs[cat] = cfg.Output
	}
	for cat, level := range cfg.CategoryLevels {
		l.levels[cat] = level
	}
	return l
}

// SetLevel sets the level for one category.
func (l *Logger) SetLevel(cat Category, level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.levels[cat] = level
}

// SetOutput sets the writer for one category.
func (l *Logger) SetOutput(cat Category, w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.outputs[cat] = w
}

func (l *Logger) log(level Level, cat Category, msg string, err error, fields ...interface{}) {
	l.mu.RLock()
	catLevel := l.levels[cat]
	output := l.outputs[cat]
	format := l.format
	l.mu.RUnlock()

	if level < catLevel {
		return
	}

	entry := &Entry{Time: time.Now(), Level: level, Category: cat, Message: msg}
	if err != nil {
		entry.ErrorStr = err.Error()
	}
	if len(fields) > 0 {
		entry.Fields = make(map[string]interface{}, len(fields)/2)
		for i := 0; i+1 < len(fields); i += 2 {
			if key, ok := fields[i].(string); ok {
				entry.Fields[key] = fields[i+1]
			}
		}
	}
	writeEntry(output, format, entry)
}

func writeEntry(w io.Writer, format Format, entry *Entry) {
	if format == FormatJSON {
		data, _ := json.Marshal(entry)
		w.Write(append(data, '\n'))
		return
	}

	var buf strings.Builder
	buf.WriteString(entry.Time.Format("2006-01-02 15:04:05.000"))
	buf.WriteString(" ")
	fmt.Fprintf(&buf, "%-5s", entry.Level.String())
	buf.WriteString(" [")
	buf.WriteString(string(entry.Category))
	buf.WriteString("] ")
	buf.WriteString(entry.Message)
	if entry.ErrorStr != "" {
		buf.WriteString(" error=\"")
		buf.WriteString(entry.ErrorStr)
		buf.WriteString("\"")
	}
	for k, v := range entry.Fields {
		fmt.Fprintf(&buf, " %s=%v", k, v)
	}
	buf.WriteString("\n")
	w.Write([]byte(buf.String()))
}

// CategoryLogger is a Logger bound to one category.
type CategoryLogger struct {
	logger   *Logger
	category Category
}

func (l *Logger) Transport() *CategoryLogger { return &CategoryLogger{l, CategoryTransport} }
func (l *Logger) Protocol() *CategoryLogger  { return &CategoryLogger{l, CategoryProtocol} }
func (l *Logger) Session() *CategoryLogger   { return &CategoryLogger{l, CategorySession} }

func (cl *CategoryLogger) Debug(msg string, fields ...interface{}) {
	cl.logger.log(LevelDebug, cl.category, msg, nil, fields...)
}

func (cl *CategoryLogger) Info(msg string, fields ...interface{}) {
	cl.logger.log(LevelInfo, cl.category, msg, nil, fields...)
}

func (cl *CategoryLogger) Warn(msg string, fields ...interface{}) {
	cl.logger.log(LevelWarn, cl.category, msg, nil, fields...)
}

func (cl *CategoryLogger) Error(msg string, err error, fields ...interface{}) {
	cl.logger.log(LevelError, cl.category, msg, err, fields...)
}

var (
	defaultLogger     *Logger
	defaultLoggerOnce sync.Once
)

// DefaultLogger returns the package-wide default logger, used by Session
// when no logger Option overrides it.
func DefaultLogger() *Logger {
	defaultLoggerOnce.Do(func() {
		defaultLogger = NewLogger(DefaultLogConfig())
	})
	return defaultLogger
}
