package notify

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Notifier delivers a single message. Implementations do not retry.
type Notifier interface {
	Send(ctx context.Context, title, text string, sev Severity) error
}

// Multi fans a message out to every channel and reports all failures.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, title, text string, sev Severity) error {
	var errs error
	for _, n := range m {
		if n == nil {
			continue
		}
		errs = multierr.Append(errs, n.Send(ctx, title, text, sev))
	}
	return errs
}

// Log writes every notification to the structured log. It never fails,
// so alerts leave a trace even when no remote channel is configured.
type Log struct {
	Logger *zap.Logger
}

func (l Log) Send(_ context.Context, title, text string, sev Severity) error {
	fields := []zap.Field{
		zap.String("title", title),
		zap.String("text", text),
		zap.Stringer("severity", sev),
	}
	switch sev {
	case SeverityCritical:
		l.Logger.Error("notification", fields...)
	case SeverityWarning:
		l.Logger.Warn("notification", fields...)
	default:
		l.Logger.Info("notification", fields...)
	}
	return nil
}
