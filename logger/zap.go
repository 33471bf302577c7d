// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package logger

import (
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// zapLogger adapts a *zap.Logger to the Logger interface so that the view
// fan-out core can emit structured, leveled fields (view name, status,
// elapsed time) instead of formatted strings, while still satisfying
// call sites written against Printf/Debugf/etc.
type zapLogger struct {
	z *zap.Logger
}

// NewZapLogger returns a Logger backed by a zap.Logger writing JSON records
// to w, selected via --log-format=zap on the apply command in place of the
// default standardLogger. Building the core directly rather than going
// through zap.NewProductionConfig lets w be anything -- stderr in
// production, a buffer in tests -- rather than always os.Stderr.
func NewZapLogger(w io.Writer) (Logger, error) {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(w), zap.InfoLevel)
	z := zap.New(core, zap.AddCallerSkip(1))
	return &zapLogger{z: z}, nil
}

// WrapZapLogger adapts an already-constructed zap.Logger.
func WrapZapLogger(z *zap.Logger) Logger {
	return &zapLogger{z: z}
}

func (l *zapLogger) Printf(format string, v ...interface{}) { l.z.Sugar().Infof(format, v...) }
func (l *zapLogger) Debugf(format string, v ...interface{}) { l.z.Sugar().Debugf(format, v...) }
func (l *zapLogger) Infof(format string, v ...interface{})  { l.z.Sugar().Infof(format, v...) }
func (l *zapLogger) Warnf(format string, v ...interface{})  { l.z.Sugar().Warnf(format, v...) }
func (l *zapLogger) Errorf(format string, v ...interface{}) { l.z.Sugar().Errorf(format, v...) }
func (l *zapLogger) Panicf(format string, v ...interface{}) { l.z.Sugar().Panicf(format, v...) }

func (l *zapLogger) WithPrefix(prefix string) Logger {
	return &zapLogger{z: l.z.Named(prefix)}
}

// Zap exposes the underlying structured logger for call sites that want to
// attach typed fields (view name, status, elapsed) rather than formatting
// them into a string.
func (l *zapLogger) Zap() *zap.Logger { return l.z }
