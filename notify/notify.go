// Package notify delivers risk alerts to whoever is listening.
package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/rustyeddy/fxrisk/risk"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Notifier interface {
	Notify(ctx context.Context, a risk.Alert) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, a risk.Alert) error

func (f Func) Notify(ctx context.Context, a risk.Alert) error { return f(ctx, a) }

// Log writes alerts to a zap logger, picking the level from the severity.
type Log struct {
	L *zap.Logger
}

func (n Log) Notify(_ context.Context, a risk.Alert) error {
	l := n.L
	if l == nil {
		return nil
	}
	fields := []zap.Field{
		zap.String("alert_id", a.ID),
		zap.String("type", a.Type),
		zap.String("severity", string(a.Severity)),
		zap.Time("at", a.Timestamp),
	}
	if len(a.Context) > 0 {
		fields = append(fields, zap.Any("context", a.Context))
	}
	l.Log(level(a.Severity), a.Message, fields...)
	return nil
}

func level(s risk.Severity) zapcore.Level {
	switch s {
	case risk.SeverityCritical, risk.SeverityHigh:
		return zapcore.ErrorLevel
	case risk.SeverityMedium:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

// Channel forwards alerts to C without blocking; a full channel drops the
// alert and returns ErrDropped.
type Channel struct {
	C chan risk.Alert
}

var ErrDropped = errors.New("alert dropped")

func NewChannel(size int) *Channel {
	return &Channel{C: make(chan risk.Alert, size)}
}

func (n *Channel) Notify(ctx context.Context, a risk.Alert) error {
	select {
	case n.C <- a:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrDropped
	}
}

// Multi fans an alert out to every notifier concurrently and joins their
// errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, a risk.Alert) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, n := range m {
		if n == nil {
			continue
		}
		wg.Add(1)
		go func(n Notifier) {
			defer wg.Done()
			if err := n.Notify(ctx, a); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(n)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// MinSeverity passes on only alerts at or above Min.
type MinSeverity struct {
	Min  risk.Severity
	Next Notifier
}

func (f MinSeverity) Notify(ctx context.Context, a risk.Alert) error {
	if a.Severity.Rank() < f.Min.Rank() {
		return nil
	}
	return f.Next.Notify(ctx, a)
}
