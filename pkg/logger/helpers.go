package logger

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// orGlobal returns l, or the global logger when l is nil
func orGlobal(l Logger) Logger {
	if l == nil {
		return GetLogger()
	}
	return l
}

// LogRequest logs HTTP request information to l
func LogRequest(l Logger, method, url, proxy string, statusCode int, duration time.Duration) {
	l = orGlobal(l)
	fields := map[string]interface{}{
		"method":      method,
		"url":         url,
		"proxy":       proxy,
		"status_code": statusCode,
		"duration_ms": duration.Milliseconds(),
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		l.DebugWithFields("HTTP request completed", fields)
	case statusCode >= 500:
		l.ErrorWithFields("HTTP request server error", fields)
	default:
		l.WarnWithFields("HTTP request rejected", fields)
	}
}

// LogProxyVerdict logs the outcome of a proxy verification
func LogProxyVerdict(l Logger, proxy, echoedIP string, good bool) {
	l = orGlobal(l)
	fields := map[string]interface{}{
		"proxy":     proxy,
		"echoed_ip": echoedIP,
		"good":      good,
	}
	if good {
		l.InfoWithFields("Proxy verified", fields)
		return
	}
	l.WarnWithFields("Proxy rejected", fields)
}

// LogCrawlProgress logs listing progress as reported by the page counter
func LogCrawlProgress(l Logger, page, shown, total, added int) {
	percentage := 0.0
	if total > 0 {
		percentage = float64(shown) / float64(total) * 100
	}

	orGlobal(l).WithFields(map[string]interface{}{
		"page":       page,
		"shown":      shown,
		"total":      total,
		"added":      added,
		"percentage": percentage,
	}).Info("Crawl progress")
}

// LogComponentStart logs when a component starts
func LogComponentStart(l Logger, component string, config map[string]interface{}) {
	l = orGlobal(l).WithField("component", component)
	if len(config) > 0 {
		l = l.WithFields(config)
	}
	l.Info("Component started")
}

// LogComponentStop logs when a component stops
func LogComponentStop(l Logger, component string, reason string) {
	orGlobal(l).WithFields(map[string]interface{}{
		"component": component,
		"reason":    reason,
	}).Info("Component stopped")
}

// NewNopLogger creates a no-operation logger for testing
func NewNopLogger() Logger {
	return &nopLogger{}
}

type nopLogger struct{}

func (n *nopLogger) Debug(msg string)                                          {}
func (n *nopLogger) Info(msg string)                                           {}
func (n *nopLogger) Warn(msg string)                                           {}
func (n *nopLogger) Error(msg string)                                          {}
func (n *nopLogger) Fatal(msg string)                                          {}
func (n *nopLogger) WithField(key string, value interface{}) Logger            { return n }
func (n *nopLogger) WithFields(fields map[string]interface{}) Logger           { return n }
func (n *nopLogger) WithError(err error) Logger                                { return n }
func (n *nopLogger) WithContext(ctx context.Context) Logger                    { return n }
func (n *nopLogger) DebugWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) InfoWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) WarnWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) ErrorWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) FatalWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) GetZerolog() *zerolog.Logger                               { return nil }
