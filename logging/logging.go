// Package logging builds the zap loggers of pantryd and the pantry client.
package logging

import (
	"os"

	"github.com/kasuganosora/pantry/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New returns a development logger when debug is set and a production one
// otherwise. level overrides the default level when non-empty. When
// lc.File is set every entry is also written as JSON to that file, rotated
// by lumberjack.
func New(debug bool, level string, lc config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if debug {
		zc = zap.NewDevelopmentConfig()
	}
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, err
		}
		zc.Level = lvl
	}

	if lc.File == "" {
		return zc.Build()
	}

	rotator := &lumberjack.Logger{
		Filename:   lc.File,
		MaxSize:    lc.MaxSizeMB,
		MaxBackups: lc.MaxBackups,
		MaxAge:     lc.MaxAgeDays,
	}
	consoleEnc := zapcore.NewJSONEncoder(zc.EncoderConfig)
	if debug {
		consoleEnc = zapcore.NewConsoleEncoder(zc.EncoderConfig)
	}
	core := zapcore.NewTee(
		zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(rotator),
			zc.Level,
		),
		zapcore.NewCore(consoleEnc, zapcore.Lock(os.Stderr), zc.Level),
	)
	return zap.New(core, zap.AddCaller()), nil
}
