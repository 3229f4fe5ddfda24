package observability

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// severityCritical marks log entries that require operator attention,
// beyond what the plain error level conveys.
const severityCritical = "CRITICAL"

// StepLogger is a request-scoped logger that tracks the named processing
// step currently in flight. Every entry carries a unique logger id plus
// the default fields supplied at construction, so all lines emitted while
// handling one trigger delivery can be correlated.
type StepLogger struct {
	base *zap.Logger
	now  func() time.Time

	mu        sync.Mutex
	step      string
	stepStart time.Time
	start     time.Time
}

func NewStepLogger(base *zap.Logger, fields ...zap.Field) *StepLogger {
	if base == nil {
		base = zap.NewNop()
	}

	now := time.Now()
	return &StepLogger{
		base:      base.With(append([]zap.Field{zap.String("loggerId", uuid.NewString())}, fields...)...),
		now:       time.Now,
		start:     now,
		stepStart: now,
	}
}

// ChangeStep closes the current step, logging its duration, and opens a
// new one. The step label is attached to every entry until the next call.
func (l *StepLogger) ChangeStep(label string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.step != "" {
		l.base.Debug("step finished",
			zap.String("eventName", "step-end"),
			zap.String("step", l.step),
			zap.Duration("elapsed", now.Sub(l.stepStart)),
			zap.Duration("totalElapsed", now.Sub(l.start)),
		)
	}
	l.step = label
	l.stepStart = now
	l.base.Debug("step started",
		zap.String("eventName", "step-start"),
		zap.String("step", label),
	)
}

// Step returns the label of the step currently in flight.
func (l *StepLogger) Step() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.step
}

func (l *StepLogger) Debug(msg string, fields ...zap.Field) {
	l.base.Debug(msg, l.withStep(fields)...)
}

func (l *StepLogger) Info(msg string, fields ...zap.Field) {
	l.base.Info(msg, l.withStep(fields)...)
}

func (l *StepLogger) Warn(msg string, fields ...zap.Field) {
	l.base.Warn(msg, l.withStep(fields)...)
}

func (l *StepLogger) Error(msg string, fields ...zap.Field) {
	l.base.Error(msg, l.withStep(fields)...)
}

// Critical logs at error level with an explicit severity marker so
// alerting can key off it.
func (l *StepLogger) Critical(msg string, fields ...zap.Field) {
	l.base.Error(msg, append(l.withStep(fields), zap.String("severity", severityCritical))...)
}

func (l *StepLogger) withStep(fields []zap.Field) []zap.Field {
	step := l.Step()
	if step == "" {
		return fields
	}
	return append(fields, zap.String("step", step))
}
