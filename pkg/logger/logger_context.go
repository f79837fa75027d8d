package logger

import (
	"context"

	wctx "github.com/poltergeist/wisp/pkg/context"
)

// LoggerContext extends the Logger interface with context-aware methods.
type LoggerContext interface {
	Logger
	InfoContext(ctx context.Context, message string, fields ...Field)
	ErrorContext(ctx context.Context, message string, fields ...Field)
	WarnContext(ctx context.Context, message string, fields ...Field)
	DebugContext(ctx context.Context, message string, fields ...Field)
	SuccessContext(ctx context.Context, message string, fields ...Field)
}

var _ LoggerContext = (*StepLogger)(nil)

// InfoContext logs an info message with context tracing
func (l *StepLogger) InfoContext(ctx context.Context, message string, fields ...Field) {
	l.Info(message, append(extractContextFields(ctx), fields...)...)
}

// ErrorContext logs an error message with context tracing
func (l *StepLogger) ErrorContext(ctx context.Context, message string, fields ...Field) {
	l.Error(message, append(extractContextFields(ctx), fields...)...)
}

// WarnContext logs a warning message with context tracing
func (l *StepLogger) WarnContext(ctx context.Context, message string, fields ...Field) {
	l.Warn(message, append(extractContextFields(ctx), fields...)...)
}

// DebugContext logs a debug message with context tracing
func (l *StepLogger) DebugContext(ctx context.Context, message string, fields ...Field) {
	l.Debug(message, append(extractContextFields(ctx), fields...)...)
}

// SuccessContext logs a success message with context tracing
func (l *StepLogger) SuccessContext(ctx context.Context, message string, fields ...Field) {
	l.Success(message, append(extractContextFields(ctx), fields...)...)
}

// extractContextFields extracts tracing fields from context
func extractContextFields(ctx context.Context) []Field {
	if ctx == nil {
		return nil
	}

	var fields []Field
	if wctx.HasRunID(ctx) {
		fields = append(fields, WithField("run", wctx.GetRunID(ctx)))
	}
	if wctx.HasOperation(ctx) {
		fields = append(fields, WithField("operation", wctx.GetOperation(ctx)))
	}
	return fields
}

// WithContext creates a logger that automatically includes context fields
func WithContext(ctx context.Context, logger Logger) Logger {
	if ctx == nil {
		return logger
	}
	return &contextualLogger{
		ctx:    ctx,
		logger: logger,
	}
}

// contextualLogger wraps a logger with automatic context field extraction
type contextualLogger struct {
	ctx    context.Context
	logger Logger
}

func (cl *contextualLogger) Info(message string, fields ...Field) {
	if lc, ok := cl.logger.(LoggerContext); ok {
		lc.InfoContext(cl.ctx, message, fields...)
	} else {
		cl.logger.Info(message, fields...)
	}
}

func (cl *contextualLogger) Error(message string, fields ...Field) {
	if lc, ok := cl.logger.(LoggerContext); ok {
		lc.ErrorContext(cl.ctx, message, fields...)
	} else {
		cl.logger.Error(message, fields...)
	}
}

func (cl *contextualLogger) Warn(message string, fields ...Field) {
	if lc, ok := cl.logger.(LoggerContext); ok {
		lc.WarnContext(cl.ctx, message, fields...)
	} else {
		cl.logger.Warn(message, fields...)
	}
}

func (cl *contextualLogger) Debug(message string, fields ...Field) {
	if lc, ok := cl.logger.(LoggerContext); ok {
		lc.DebugContext(cl.ctx, message, fields...)
	} else {
		cl.logger.Debug(message, fields...)
	}
}

func (cl *contextualLogger) Success(message string, fields ...Field) {
	if lc, ok := cl.logger.(LoggerContext); ok {
		lc.SuccessContext(cl.ctx, message, fields...)
	} else {
		cl.logger.Success(message, fields...)
	}
}

func (cl *contextualLogger) WithStep(step string) Logger {
	return &contextualLogger{
		ctx:    cl.ctx,
		logger: cl.logger.WithStep(step),
	}
}
