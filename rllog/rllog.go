// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package rllog wraps go.uber.org/zap with the small, fixed API surface
// the rest of the record layer depends on, mirroring the teacher
// codebase's own convention of a thin internal logging facade rather
// than passing *zap.Logger around directly.
package rllog

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a named, structured logger. The zero value is not usable;
// construct one with Named.
type Logger struct {
	z *zap.SugaredLogger
}

var (
	rootMu   sync.Mutex
	root     *zap.Logger
	rootOnce sync.Once
)

func rootLogger() *zap.Logger {
	rootOnce.Do(func() {
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.Lock(os.Stderr), zapLevel())
		root = zap.New(core)
	})
	return root
}

func zapLevel() zapcore.Level {
	switch os.Getenv("RECORDLAYER_LOG_LEVEL") {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// SetOutput swaps the root logger for one that writes through the given
// zapcore.WriteSyncer, for tests that want to assert on log output.
func SetOutput(ws zapcore.WriteSyncer, level zapcore.Level) {
	rootMu.Lock()
	defer rootMu.Unlock()
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), ws, level)
	root = zap.New(core)
}

// Named returns a Logger scoped to the given component name, e.g.
// "kv/mdbx" or "onlineindex".
func Named(name string) *Logger {
	rootMu.Lock()
	r := rootLogger()
	rootMu.Unlock()
	return &Logger{z: r.Named(name).Sugar()}
}

func (l *Logger) Debug(msg string, kv ...interface{}) { l.z.Debugw(msg, kv...) }
func (l *Logger) Info(msg string, kv ...interface{})  { l.z.Infow(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.z.Warnw(msg, kv...) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.z.Errorw(msg, kv...) }

// With returns a child Logger with the given structured fields attached
// to every subsequent call.
func (l *Logger) With(kv ...interface{}) *Logger {
	return &Logger{z: l.z.With(kv...)}
}

// Sync flushes any buffered log entries; call before process exit.
func (l *Logger) Sync() error {
	return l.z.Sync()
}
