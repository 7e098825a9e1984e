package logging

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/leave-engine/config"
	"github.com/warp/leave-engine/leave"
)

func TestEventSink_LevelsAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewEventSink(zap.New(core))
	ctx := context.Background()

	sink.Emit(ctx, leave.Event{
		Name: leave.EventReserved, EmployeeID: "emp-1", LeaveTypeID: "annual",
		Fields: map[string]any{"days": "3"},
	})
	sink.Emit(ctx, leave.Event{
		Name: leave.EventPendingClamped, EmployeeID: "emp-1", LeaveTypeID: "annual",
		Fields: map[string]any{"excess": "2"},
	})
	sink.Emit(ctx, leave.Event{
		Name: leave.EventAccrualFailed, EmployeeID: "emp-2", Err: errors.New("disk full"),
	})

	entries := logs.All()
	require.Len(t, entries, 3)

	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "ledger.reserved", entries[0].Message)
	assert.Equal(t, "leave", entries[0].LoggerName)
	assert.Equal(t, "3", entries[0].ContextMap()["days"])

	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "2", entries[1].ContextMap()["excess"])

	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, "disk full", entries[2].ContextMap()["error"])
	assert.NotContains(t, entries[2].ContextMap(), "request_id")
}

func TestFanout_DeliversToEverySink(t *testing.T) {
	a, b := &leave.RecordingSink{}, &leave.RecordingSink{}

	Fanout{a, b}.Emit(context.Background(), leave.Event{Name: leave.EventCalendarMissing})

	assert.Len(t, a.Events(), 1)
	assert.Len(t, b.Events(), 1)
}

func TestNew_UnknownLevelFallsBackToInfo(t *testing.T) {
	log := New(config.LoggerConfig{Level: "loud", Format: "json"})

	assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
}
