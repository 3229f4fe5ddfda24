package observability

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestStepLoggerTracksCurrentStep(t *testing.T) {
	t.Parallel()

	core, recorded := observer.New(zapcore.DebugLevel)
	logger := NewStepLogger(zap.New(core))

	if logger.Step() != "" {
		t.Fatalf("Step() = %q, want empty before first ChangeStep", logger.Step())
	}

	logger.ChangeStep("initial-transaction")
	if logger.Step() != "initial-transaction" {
		t.Fatalf("Step() = %q, want initial-transaction", logger.Step())
	}

	logger.ChangeStep("send-push-notification")
	if logger.Step() != "send-push-notification" {
		t.Fatalf("Step() = %q, want send-push-notification", logger.Step())
	}

	var stepEnds int
	for _, entry := range recorded.All() {
		if entry.ContextMap()["eventName"] == "step-end" {
			stepEnds++
		}
	}
	if stepEnds != 1 {
		t.Fatalf("step-end entries = %d, want 1", stepEnds)
	}
}

func TestStepLoggerAttachesStepField(t *testing.T) {
	t.Parallel()

	core, recorded := observer.New(zapcore.InfoLevel)
	logger := NewStepLogger(zap.New(core))
	logger.ChangeStep("get-fcm-tokens")

	logger.Info("looked up tokens")

	entries := recorded.All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["step"]; got != "get-fcm-tokens" {
		t.Fatalf("step field = %v, want get-fcm-tokens", got)
	}
	if _, ok := entries[0].ContextMap()["loggerId"]; !ok {
		t.Fatal("expected loggerId field on every entry")
	}
}

func TestStepLoggerCriticalSeverity(t *testing.T) {
	t.Parallel()

	core, recorded := observer.New(zapcore.InfoLevel)
	logger := NewStepLogger(zap.New(core))

	logger.Critical("ledger retry ceiling reached")

	entries := recorded.All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].Level != zapcore.ErrorLevel {
		t.Fatalf("level = %v, want error", entries[0].Level)
	}
	if got := entries[0].ContextMap()["severity"]; got != "CRITICAL" {
		t.Fatalf("severity = %v, want CRITICAL", got)
	}
}

func TestStepLoggerNilBase(t *testing.T) {
	t.Parallel()

	logger := NewStepLogger(nil, zap.String("documentId", "doc-1"))
	logger.ChangeStep("noop")
	logger.Info("still safe")
}
