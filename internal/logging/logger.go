// Package logging provides zap logger helpers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the logger flavour and optional file sink.
type Config struct {
	Development bool
	// Level overrides the default level ("debug", "info", ...).
	Level string
	// File, when set, also receives every entry as JSON. The file is opened
	// for append and writes are serialized, so concurrent crawls never
	// interleave within a line.
	File string
}

// New builds a zap.Logger configured for development or production. The
// returned cleanup closes the file sink; it is never nil.
func New(cfg Config) (*zap.Logger, func(), error) {
	zcfg := baseConfig(cfg.Development)
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("parse log level: %w", err)
		}
		zcfg.Level = level
	}
	logger, err := zcfg.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}
	if cfg.File == "" {
		return logger, func() {}, nil
	}

	// zap.Open appends and wraps the file in a mutex-guarded WriteSyncer.
	sink, closeSink, err := zap.Open(cfg.File)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), sink, zcfg.Level)
	logger = logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, fileCore)
	}))
	return logger, func() {
		_ = logger.Sync()
		closeSink()
	}, nil
}

func baseConfig(development bool) zap.Config {
	if development {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return cfg
	}
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = false
	cfg.EncoderConfig.TimeKey = "ts"
	return cfg
}
