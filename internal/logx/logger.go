// Package logx wires structured logging for the store on top of zap.
package logx

import (
	"io"
	"os"
	"strings"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the minimal structured logger consumed by the store packages.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	With(fields ...zap.Field) Logger
}

// ZapLogger adapts *zap.Logger to Logger.
type ZapLogger struct {
	logger *zap.Logger
}

// NewZapLogger wraps l; a nil logger yields a no-op adapter.
func NewZapLogger(l *zap.Logger) *ZapLogger {
	if l == nil {
		return &ZapLogger{logger: zap.NewNop()}
	}
	return &ZapLogger{logger: l}
}

// Nop returns a logger that discards everything.
func Nop() Logger {
	return NewZapLogger(nil)
}

func (z *ZapLogger) Debug(msg string, fields ...zap.Field) { z.logger.Debug(msg, fields...) }
func (z *ZapLogger) Info(msg string, fields ...zap.Field)  { z.logger.Info(msg, fields...) }
func (z *ZapLogger) Warn(msg string, fields ...zap.Field)  { z.logger.Warn(msg, fields...) }
func (z *ZapLogger) Error(msg string, fields ...zap.Field) { z.logger.Error(msg, fields...) }

// With returns a child logger carrying fields.
func (z *ZapLogger) With(fields ...zap.Field) Logger {
	return &ZapLogger{logger: z.logger.With(fields...)}
}

// Zap exposes the underlying logger.
func (z *ZapLogger) Zap() *zap.Logger { return z.logger }

// Options configures New.
type Options struct {
	Level string
	// File enables a rotating JSON log file in addition to the console.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	Dev        bool
	// Console overrides the console destination (stderr when nil).
	Console io.Writer
}

// New builds a zap logger writing human-readable lines to the console and,
// when File is set, JSON lines to a lumberjack-rotated file.
func New(name string, opts Options) *zap.Logger {
	lvl := zapcore.InfoLevel
	if err := lvl.UnmarshalText([]byte(strings.ToLower(opts.Level))); err != nil {
		lvl = zapcore.InfoLevel
	}
	level := zap.NewAtomicLevelAt(lvl)

	encoderCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stack",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	consoleCfg := encoderCfg
	consoleCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	fileCfg := encoderCfg
	fileCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var console zapcore.WriteSyncer = zapcore.Lock(os.Stderr)
	if opts.Console != nil {
		console = zapcore.AddSync(opts.Console)
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), console, level)
	if opts.File != "" {
		rotating := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    max(1, opts.MaxSizeMB),
			MaxBackups: max(0, opts.MaxBackups),
			MaxAge:     max(0, opts.MaxAgeDays),
			Compress:   opts.Compress,
		}
		core = zapcore.NewTee(core, zapcore.NewCore(zapcore.NewJSONEncoder(fileCfg), zapcore.AddSync(rotating), level))
	}

	zopts := []zap.Option{zap.AddCaller()}
	if opts.Dev {
		zopts = append(zopts, zap.Development(), zap.AddStacktrace(zapcore.WarnLevel))
	}
	l := zap.New(core, zopts...)
	if name != "" {
		l = l.Named(name)
	}
	return l
}
