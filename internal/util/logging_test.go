package util

import (
	"context"
	"io"
	"log/slog"
	"testing"
)

func TestLoggerContextRoundTrip(t *testing.T) {
	base := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := ContextWithLogger(context.Background(), base)
	if got := LoggerFromContext(ctx); got != base {
		t.Fatalf("expected the stored logger back from the context")
	}
}

func TestLoggerFromContextFallsBackToDefault(t *testing.T) {
	if got := LoggerFromContext(context.Background()); got == nil {
		t.Fatal("expected the default logger for a bare context")
	}
	if got := LoggerFromContext(nil); got == nil {
		t.Fatal("expected the default logger for a nil context")
	}
}
