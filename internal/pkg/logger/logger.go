package logger

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var zapLevels = map[Level]zapcore.Level{
	DEBUG: zapcore.DebugLevel,
	INFO:  zapcore.InfoLevel,
	WARN:  zapcore.WarnLevel,
	ERROR: zapcore.ErrorLevel,
}

// Logger provides structured logging with optional PII redaction.
type Logger struct {
	mu        sync.RWMutex
	base      *zap.Logger
	level     zap.AtomicLevel
	redactPII bool
}

var defaultLogger = newLogger("production")

func newLogger(environment string) *Logger {
	var cfg zap.Config
	if environment == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.CallerKey = "caller"
	cfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)

	base, err := cfg.Build(zap.AddCaller(), zap.AddCallerSkip(2))
	if err != nil {
		base = zap.NewNop()
	}
	return &Logger{base: base, level: cfg.Level, redactPII: true}
}

// Init replaces the default logger with one configured for the environment.
// "production" emits JSON; anything else emits colored console output.
func Init(environment string) {
	l := newLogger(environment)
	defaultLogger.mu.Lock()
	l.redactPII = defaultLogger.redactPII
	l.level.SetLevel(defaultLogger.level.Level())
	defaultLogger.base = l.base
	defaultLogger.level = l.level
	defaultLogger.mu.Unlock()
}

// UseZap routes the default logger through base. Intended for tests that
// want to observe log output.
func UseZap(base *zap.Logger) {
	defaultLogger.mu.Lock()
	defaultLogger.base = base.WithOptions(zap.AddCallerSkip(2))
	defaultLogger.mu.Unlock()
}

// SetLevel sets the minimum log level for the default logger.
func SetLevel(l Level) { defaultLogger.level.SetLevel(zapLevels[l]) }

// SetRedactPII enables or disables PII redaction for the default logger.
func SetRedactPII(r bool) {
	defaultLogger.mu.Lock()
	defaultLogger.redactPII = r
	defaultLogger.mu.Unlock()
}

// Sync flushes buffered entries. Call before process exit.
func Sync() { _ = defaultLogger.base.Sync() }

// Debug emits a DEBUG-level structured log entry.
func Debug(msg string, fields ...interface{}) { defaultLogger.log(DEBUG, msg, fields...) }

// Info emits an INFO-level structured log entry.
func Info(msg string, fields ...interface{}) { defaultLogger.log(INFO, msg, fields...) }

// Warn emits a WARN-level structured log entry.
func Warn(msg string, fields ...interface{}) { defaultLogger.log(WARN, msg, fields...) }

// Error emits an ERROR-level structured log entry.
func Error(msg string, fields ...interface{}) { defaultLogger.log(ERROR, msg, fields...) }

func (l *Logger) log(level Level, msg string, fields ...interface{}) {
	l.mu.RLock()
	base, redact := l.base, l.redactPII
	l.mu.RUnlock()

	zl := zapLevels[level]
	if !base.Core().Enabled(zl) {
		return
	}

	zf := make([]zap.Field, 0, len(fields)/2)
	for i := 0; i < len(fields)-1; i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		zf = append(zf, fieldFor(key, fields[i+1], redact))
	}

	if ce := base.Check(zl, msg); ce != nil {
		ce.Write(zf...)
	}
}

// fieldFor keeps numbers, durations and errors typed and stringifies the
// rest so redaction can run over it.
func fieldFor(key string, val interface{}, redact bool) zap.Field {
	switch v := val.(type) {
	case int, int32, int64, uint, uint32, uint64, float32, float64, bool:
		return zap.Any(key, v)
	case error:
		if v == nil {
			return zap.Skip()
		}
		s := v.Error()
		if redact {
			s = redactPIIValue(key, s)
		}
		return zap.String(key, s)
	case fmt.Stringer:
		s := v.String()
		if redact {
			s = redactPIIValue(key, s)
		}
		return zap.String(key, s)
	}
	s := fmt.Sprintf("%v", val)
	if redact {
		s = redactPIIValue(key, s)
	}
	return zap.String(key, s)
}

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

func redactPIIValue(key, val string) string {
	key = strings.ToLower(key)
	if strings.Contains(key, "email") {
		if strings.Contains(val, "@") {
			return RedactEmail(val)
		}
		return RedactHash(val)
	}
	if strings.Contains(key, "phone") {
		return RedactHash(val)
	}
	return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
}
