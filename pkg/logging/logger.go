// Package logging provides the zap-backed core.ILogger used by the dashboard
// and the command line tools. Every record is also bridged to the global OTel
// logger provider.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"chainwatch/internal/core"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const redacted = "[REDACTED]"

// sensitiveKeys never reach the log output with their values.
var sensitiveKeys = map[string]bool{
	"secret":        true,
	"token":         true,
	"access_token":  true,
	"authorization": true,
	"redis_url":     true,
}

// Options configures New.
type Options struct {
	Level  string    // DEBUG, INFO, WARN, ERROR or FATAL; empty means INFO
	Format string    // console (default) or json
	Output io.Writer // defaults to stdout
}

// ZapLogger implements core.ILogger on top of zap.
type ZapLogger struct {
	logger *zap.Logger
}

// New builds a logger from opts.
func New(opts Options) (*ZapLogger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	switch strings.ToLower(opts.Format) {
	case "", "console":
		enc = zapcore.NewConsoleEncoder(encCfg)
	case "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	default:
		return nil, fmt.Errorf("invalid log format: %s", opts.Format)
	}

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	local := zapcore.NewCore(enc, zapcore.AddSync(out), level)
	bridged := otelzap.NewCore("chainwatch", otelzap.WithLoggerProvider(global.GetLoggerProvider()))

	return &ZapLogger{
		logger: zap.New(zapcore.NewTee(local, bridged), zap.AddCaller(), zap.AddCallerSkip(1)),
	}, nil
}

// NewZapLogger creates a console logger on stdout.
func NewZapLogger(level string) (*ZapLogger, error) {
	return New(Options{Level: level})
}

// NewZapLoggerTo creates a console logger writing to w. The command line
// tools log to stderr so their tables stay clean on stdout.
func NewZapLoggerTo(level string, w io.Writer) (*ZapLogger, error) {
	return New(Options{Level: level, Output: w})
}

// ParseLevel maps a config level name to a zap level. An empty string means
// INFO.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return zapcore.DebugLevel, nil
	case "INFO", "":
		return zapcore.InfoLevel, nil
	case "WARN", "WARNING":
		return zapcore.WarnLevel, nil
	case "ERROR":
		return zapcore.ErrorLevel, nil
	case "FATAL":
		return zapcore.FatalLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("invalid log level: %s", level)
	}
}

func field(key string, value interface{}) zap.Field {
	if sensitiveKeys[strings.ToLower(key)] {
		return zap.String(key, redacted)
	}
	if err, ok := value.(error); ok {
		return zap.NamedError(key, err)
	}
	return zap.Any(key, value)
}

// fields converts alternating key/value pairs. A trailing key without a value
// is kept under "_extra" rather than dropped.
func fields(kv []interface{}) []zap.Field {
	out := make([]zap.Field, 0, (len(kv)+1)/2)
	for i := 0; i < len(kv); i += 2 {
		if i+1 == len(kv) {
			out = append(out, zap.Any("_extra", kv[i]))
			break
		}
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kv[i])
		}
		out = append(out, field(key, kv[i+1]))
	}
	return out
}

func (l *ZapLogger) Debug(msg string, kv ...interface{}) { l.logger.Debug(msg, fields(kv)...) }
func (l *ZapLogger) Info(msg string, kv ...interface{})  { l.logger.Info(msg, fields(kv)...) }
func (l *ZapLogger) Warn(msg string, kv ...interface{})  { l.logger.Warn(msg, fields(kv)...) }
func (l *ZapLogger) Error(msg string, kv ...interface{}) { l.logger.Error(msg, fields(kv)...) }
func (l *ZapLogger) Fatal(msg string, kv ...interface{}) { l.logger.Fatal(msg, fields(kv)...) }

func (l *ZapLogger) WithField(key string, value interface{}) core.ILogger {
	return &ZapLogger{logger: l.logger.With(field(key, value))}
}

func (l *ZapLogger) WithFields(kv map[string]interface{}) core.ILogger {
	zf := make([]zap.Field, 0, len(kv))
	for k, v := range kv {
		zf = append(zf, field(k, v))
	}
	return &ZapLogger{logger: l.logger.With(zf...)}
}

// Sync flushes any buffered log entries
func (l *ZapLogger) Sync() error {
	return l.logger.Sync()
}

// NopLogger discards everything; tests use it where output is noise.
type NopLogger struct{}

func (NopLogger) Debug(string, ...interface{})                     {}
func (NopLogger) Info(string, ...interface{})                      {}
func (NopLogger) Warn(string, ...interface{})                      {}
func (NopLogger) Error(string, ...interface{})                     {}
func (NopLogger) Fatal(string, ...interface{})                     {}
func (n NopLogger) WithField(string, interface{}) core.ILogger     { return n }
func (n NopLogger) WithFields(map[string]interface{}) core.ILogger { return n }
