package telemetry

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	otellog "go.opentelemetry.io/otel/log"
)

type logHook struct {
	logger otellog.Logger
}

// NewLogHook returns a logrus hook emitting every entry as an otel log record.
func NewLogHook(logger otellog.Logger) log.Hook {
	return &logHook{logger}
}

func (h *logHook) Levels() []log.Level {
	return log.AllLevels
}

func (h *logHook) Fire(entry *log.Entry) error {
	ctx := entry.Context
	if ctx == nil {
		ctx = context.Background()
	}

	var record otellog.Record
	record.SetTimestamp(entry.Time)
	record.SetBody(otellog.StringValue(entry.Message))
	record.SetSeverity(severity(entry.Level))
	record.SetSeverityText(entry.Level.String())
	for key, value := range entry.Data {
		record.AddAttributes(otellog.String(key, fmt.Sprint(value)))
	}

	h.logger.Emit(ctx, record)
	return nil
}

func severity(level log.Level) otellog.Severity {
	switch level {
	case log.TraceLevel:
		return otellog.SeverityTrace
	case log.DebugLevel:
		return otellog.SeverityDebug
	case log.InfoLevel:
		return otellog.SeverityInfo
	case log.WarnLevel:
		return otellog.SeverityWarn
	case log.ErrorLevel:
		return otellog.SeverityError
	case log.FatalLevel:
		return otellog.SeverityFatal
	default:
		return otellog.SeverityFatal4
	}
}
