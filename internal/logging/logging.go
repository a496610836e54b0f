package logging

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/amr1k/rtmptranscribe/internal/config"
)

// New creates the logger described by cfg. The returned closer flushes the
// logger and releases a log file, if any.
func New(cfg config.LoggingConfig) (*zap.Logger, io.Closer, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	sink, closer := output(cfg)
	core := zapcore.NewCore(encoder(cfg.Format), sink, zap.NewAtomicLevelAt(level))

	opts := []zap.Option{zap.ErrorOutput(zapcore.Lock(os.Stderr))}
	if level == zapcore.DebugLevel {
		opts = append(opts, zap.AddCaller())
	}

	logger := zap.New(core, opts...)
	return logger, &syncCloser{logger: logger, closer: closer}, nil
}

func encoder(format string) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "time"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeDuration = zapcore.StringDurationEncoder

	if format == "json" {
		return zapcore.NewJSONEncoder(ec)
	}
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewConsoleEncoder(ec)
}

func output(cfg config.LoggingConfig) (zapcore.WriteSyncer, io.Closer) {
	switch cfg.Output {
	case "stdout":
		return zapcore.Lock(os.Stdout), nil
	case "stderr", "":
		return zapcore.Lock(os.Stderr), nil
	}

	// a file path; rotated in place
	lj := &lumberjack.Logger{
		Filename:   cfg.Output,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	return zapcore.AddSync(lj), lj
}

type syncCloser struct {
	logger *zap.Logger
	closer io.Closer
}

func (s *syncCloser) Close() error {
	// Sync on a terminal returns EINVAL; only file sinks report errors
	syncErr := s.logger.Sync()
	if s.closer == nil {
		return nil
	}
	if err := s.closer.Close(); err != nil {
		return err
	}
	return syncErr
}
