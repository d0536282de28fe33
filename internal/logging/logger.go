// Package logging provides the framework's structured JSON logger. Writes
// are asynchronous through a buffered channel; package-level helpers route
// through an optional global logger so library code stays silent until the
// host initializes logging.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// LogLevel represents the severity of a log event.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}

func (l LogLevel) String() string {
	if l < DEBUG || l > FATAL {
		return "UNKNOWN"
	}
	return levelNames[l]
}

type contextKey string

// CorrelationIDKey is the context key carrying the request correlation id.
const CorrelationIDKey contextKey = "correlation_id"

// Event is one structured log line.
type Event struct {
	Timestamp     time.Time              `json:"@timestamp"`
	Level         string                 `json:"level"`
	Message       string                 `json:"message"`
	InstanceID    string                 `json:"instance_id,omitempty"`
	Component     string                 `json:"component,omitempty"`
	Action        string                 `json:"action,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	DurationMS    int64                  `json:"duration_ms,omitempty"`
	Error         string                 `json:"error,omitempty"`
	Fields        map[string]interface{} `json:"fields,omitempty"`
}

// Config for logger initialization.
type Config struct {
	Level         LogLevel
	InstanceID    string
	LogFile       string
	EnableConsole bool
	EnableFile    bool
	BufferSize    int
}

// Logger writes structured events asynchronously. Events that do not fit
// the buffer are dropped and counted, except ERROR and FATAL which are
// written synchronously instead.
type Logger struct {
	level      LogLevel
	instanceID string

	mu      sync.Mutex
	writers []io.Writer
	closed  bool

	events  chan Event
	dropped uint64 // atomic
	wg      sync.WaitGroup
}

// NewLogger creates a logger and starts its writer goroutine.
func NewLogger(config Config) *Logger {
	if config.BufferSize <= 0 {
		config.BufferSize = 256
	}

	l := &Logger{
		level:      config.Level,
		instanceID: config.InstanceID,
		events:     make(chan Event, config.BufferSize),
	}

	if config.EnableConsole {
		l.writers = append(l.writers, os.Stdout)
	}
	if config.EnableFile && config.LogFile != "" {
		file, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logging: cannot open %s: %v\n", config.LogFile, err)
		} else {
			l.writers = append(l.writers, file)
		}
	}

	l.wg.Add(1)
	go l.run()
	return l
}

// run drains the event channel until Close closes it.
func (l *Logger) run() {
	defer l.wg.Done()
	for event := range l.events {
		l.write(event)
	}
}

func (l *Logger) write(event Event) {
	line, err := json.Marshal(event)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: marshal failed: %v\n", err)
		return
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, w := range l.writers {
		w.Write(line)
	}
}

// WithCorrelationID returns ctx carrying the given correlation id.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, correlationID)
}

// NewCorrelationID generates a fresh correlation id.
func NewCorrelationID() string {
	return uuid.New().String()
}

// GetCorrelationID extracts the correlation id from ctx, if any.
func GetCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(CorrelationIDKey).(string); ok {
		return id
	}
	return ""
}

func (l *Logger) log(ctx context.Context, level LogLevel, component, action, message string, fields map[string]interface{}, err error, duration *time.Duration) {
	if level < l.level {
		return
	}

	event := Event{
		Timestamp:     time.Now().UTC(),
		Level:         level.String(),
		Message:       message,
		InstanceID:    l.instanceID,
		Component:     component,
		Action:        action,
		CorrelationID: GetCorrelationID(ctx),
		Fields:        fields,
	}
	if err != nil {
		event.Error = err.Error()
	}
	if duration != nil {
		event.DurationMS = duration.Milliseconds()
	}

	// The closed check and the send share the mutex so Close can never
	// close the channel between them.
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	var overflow bool
	select {
	case l.events <- event:
	default:
		overflow = true
	}
	l.mu.Unlock()

	if overflow {
		if level >= ERROR {
			l.write(event)
		} else {
			atomic.AddUint64(&l.dropped, 1)
		}
	}
}

// mergeFields flattens the variadic field maps call sites pass.
func mergeFields(fields []map[string]interface{}) map[string]interface{} {
	switch len(fields) {
	case 0:
		return nil
	case 1:
		return fields[0]
	}
	merged := make(map[string]interface{})
	for _, m := range fields {
		for k, v := range m {
			merged[k] = v
		}
	}
	return merged
}

// Debug logs a debug event.
func (l *Logger) Debug(ctx context.Context, component, action, message string, fields ...map[string]interface{}) {
	l.log(ctx, DEBUG, component, action, message, mergeFields(fields), nil, nil)
}

// Info logs an info event.
func (l *Logger) Info(ctx context.Context, component, action, message string, fields ...map[string]interface{}) {
	l.log(ctx, INFO, component, action, message, mergeFields(fields), nil, nil)
}

// Warn logs a warning event.
func (l *Logger) Warn(ctx context.Context, component, action, message string, fields ...map[string]interface{}) {
	l.log(ctx, WARN, component, action, message, mergeFields(fields), nil, nil)
}

// Error logs an error event.
func (l *Logger) Error(ctx context.Context, component, action, message string, err error, fields ...map[string]interface{}) {
	l.log(ctx, ERROR, component, action, message, mergeFields(fields), err, nil)
}

// Fatal logs a fatal event. It does not exit; that is the caller's call.
func (l *Logger) Fatal(ctx context.Context, component, action, message string, err error, fields ...map[string]interface{}) {
	l.log(ctx, FATAL, component, action, message, mergeFields(fields), err, nil)
}

// WithDuration logs an event with an attached duration.
func (l *Logger) WithDuration(ctx context.Context, level LogLevel, component, action, message string, duration time.Duration, fields ...map[string]interface{}) {
	l.log(ctx, level, component, action, message, mergeFields(fields), nil, &duration)
}

// StartTimer returns a function that logs the elapsed time when called.
func (l *Logger) StartTimer(ctx context.Context, component, action, message string) func() {
	start := time.Now()
	return func() {
		l.WithDuration(ctx, INFO, component, action, message, time.Since(start))
	}
}

// Dropped reports how many events were discarded due to a full buffer.
func (l *Logger) Dropped() uint64 {
	return atomic.LoadUint64(&l.dropped)
}

// AddWriter attaches an additional output writer.
func (l *Logger) AddWriter(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writers = append(l.writers, w)
}

// Close flushes buffered events and closes file writers.
func (l *Logger) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()

	close(l.events)
	l.wg.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, w := range l.writers {
		if closer, ok := w.(io.Closer); ok && w != os.Stdout && w != os.Stderr {
			closer.Close()
		}
	}
}

var (
	globalLogger *Logger
	loggerMutex  sync.RWMutex
)

// SetGlobalLogger installs the logger used by the package-level helpers.
func SetGlobalLogger(logger *Logger) {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()
	globalLogger = logger
}

// GetGlobalLogger returns the installed global logger, or nil.
func GetGlobalLogger() *Logger {
	loggerMutex.RLock()
	defer loggerMutex.RUnlock()
	return globalLogger
}

// Package-level helpers. All are no-ops until SetGlobalLogger is called.

func Debug(ctx context.Context, component, action, message string, fields ...map[string]interface{}) {
	if logger := GetGlobalLogger(); logger != nil {
		logger.Debug(ctx, component, action, message, fields...)
	}
}

func Info(ctx context.Context, component, action, message string, fields ...map[string]interface{}) {
	if logger := GetGlobalLogger(); logger != nil {
		logger.Info(ctx, component, action, message, fields...)
	}
}

func Warn(ctx context.Context, component, action, message string, fields ...map[string]interface{}) {
	if logger := GetGlobalLogger(); logger != nil {
		logger.Warn(ctx, component, action, message, fields...)
	}
}

func Error(ctx context.Context, component, action, message string, err error, fields ...map[string]interface{}) {
	if logger := GetGlobalLogger(); logger != nil {
		logger.Error(ctx, component, action, message, err, fields...)
	}
}

func Fatal(ctx context.Context, component, action, message string, err error, fields ...map[string]interface{}) {
	if logger := GetGlobalLogger(); logger != nil {
		logger.Fatal(ctx, component, action, message, err, fields...)
	}
}

func StartTimer(ctx context.Context, component, action, message string) func() {
	if logger := GetGlobalLogger(); logger != nil {
		return logger.StartTimer(ctx, component, action, message)
	}
	return func() {}
}
