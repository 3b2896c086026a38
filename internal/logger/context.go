package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey struct{}

var logContextKey = contextKey{}

// LogContext holds request-scoped logging context for HTTP handlers and the
// streaming pipeline. Fields are filled in as the request is authenticated
// and routed; empty fields are omitted from log output.
type LogContext struct {
	RequestID string    // chi request id
	ClientIP  string    // client IP address (without port)
	UserID    string    // authenticated user id
	DeviceID  string    // bound device id
	SessionID string    // live session id
	FileID    string    // audio file being served, if any
	StartTime time.Time // for duration calculation
}

// WithContext returns a new context carrying the given LogContext.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from ctx, or nil if not present.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a LogContext for a request from the given client IP.
func NewLogContext(clientIP string) *LogContext {
	return &LogContext{
		ClientIP:  clientIP,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext.
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	c := *lc
	return &c
}

// WithIdentity returns a copy with the authenticated identity set.
func (lc *LogContext) WithIdentity(userID, deviceID, sessionID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.UserID = userID
		clone.DeviceID = deviceID
		clone.SessionID = sessionID
	}
	return clone
}

// WithFile returns a copy with the served file set.
func (lc *LogContext) WithFile(fileID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.FileID = fileID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds.
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
