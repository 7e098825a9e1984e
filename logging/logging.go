/*
logging.go - Structured logging

PURPOSE:
  Builds the service's zap logger and bridges engine events into it.

EVENT SINK:
  The leave package never logs. It emits leave.Events; EventSink writes each
  one as a zap entry named after the event. Data-quality and failure events
  (clamps, missing calendars, failed accruals) are logged at Warn, state
  changes at Info.

SEE ALSO:
  - leave/events.go: Event names
  - config/config.go: LoggerConfig
*/
package logging

import (
	"context"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/warp/leave-engine/config"
	"github.com/warp/leave-engine/leave"
)

// New creates the root logger. Format is json or console; an unknown level
// falls back to info.
func New(cfg config.LoggerConfig) *zap.Logger {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
	}
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
}

// =============================================================================
// EVENT SINK
// =============================================================================

// EventSink logs engine events.
type EventSink struct {
	log *zap.Logger
}

var _ leave.EventSink = (*EventSink)(nil)

func NewEventSink(log *zap.Logger) *EventSink {
	return &EventSink{log: log.Named("leave")}
}

func (s *EventSink) Emit(_ context.Context, e leave.Event) {
	fields := make([]zap.Field, 0, 4+len(e.Fields))
	if e.EmployeeID != "" {
		fields = append(fields, zap.String("employee_id", string(e.EmployeeID)))
	}
	if e.LeaveTypeID != "" {
		fields = append(fields, zap.String("leave_type_id", string(e.LeaveTypeID)))
	}
	if e.RequestID != "" {
		fields = append(fields, zap.String("request_id", string(e.RequestID)))
	}
	for k, v := range e.Fields {
		fields = append(fields, zap.Any(k, v))
	}
	if e.Err != nil {
		fields = append(fields, zap.Error(e.Err))
	}

	if e.Name.Warning() {
		s.log.Warn(string(e.Name), fields...)
		return
	}
	s.log.Info(string(e.Name), fields...)
}

// Fanout delivers every event to each sink in order.
type Fanout []leave.EventSink

func (f Fanout) Emit(ctx context.Context, e leave.Event) {
	for _, s := range f {
		s.Emit(ctx, e)
	}
}
