// Package logger provides structured logging functionality for the application.
//
// It utilizes Go's standard library log/slog package to implement structured JSON logging
// with configurable log levels. Worker child processes log to stderr with their pid and
// worker name attached, so the parent can forward their output unchanged.
package logger
