package notify

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/rustyeddy/fxrisk/risk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogNotifier(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	n := Log{L: zap.New(core)}

	require.NoError(t, n.Notify(context.Background(), risk.Alert{
		Type: risk.AlertVaRBreach, Severity: risk.SeverityCritical, Message: "var breach",
		Context: map[string]any{"method": "historical"},
	}))
	require.NoError(t, n.Notify(context.Background(), risk.Alert{
		Type: risk.AlertCorrelationBreach, Severity: risk.SeverityLow, Message: "corr",
	}))

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)
	assert.Equal(t, zap.ErrorLevel, entries[0].Level)
	assert.Equal(t, "var breach", entries[0].Message)
	assert.Equal(t, zap.InfoLevel, entries[1].Level)

	assert.NoError(t, Log{}.Notify(context.Background(), risk.Alert{}))
}

func TestChannelNotifier(t *testing.T) {
	t.Parallel()

	n := NewChannel(1)
	require.NoError(t, n.Notify(context.Background(), risk.Alert{ID: "1"}))
	assert.ErrorIs(t, n.Notify(context.Background(), risk.Alert{ID: "2"}), ErrDropped)
	assert.Equal(t, "1", (<-n.C).ID)
}

func TestMultiAndFilter(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	count := Func(func(context.Context, risk.Alert) error {
		hits.Add(1)
		return nil
	})
	boom := errors.New("webhook down")
	failing := Func(func(context.Context, risk.Alert) error { return boom })

	m := Multi{count, MinSeverity{Min: risk.SeverityHigh, Next: count}, failing, nil}

	err := m.Notify(context.Background(), risk.Alert{Severity: risk.SeverityMedium})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(1), hits.Load())

	_ = m.Notify(context.Background(), risk.Alert{Severity: risk.SeverityCritical})
	assert.Equal(t, int32(3), hits.Load())
}
