package debug

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: LevelTrace}))
	ctx := WithLogger(context.Background(), logger)

	ctx, _ = With(ctx, "session", "abc")
	Info.Log(ctx, "hello")
	Trace.Log(ctx, "wire")
	require.Contains(t, buf.String(), "session=abc")
	assert.Contains(t, buf.String(), "msg=hello")
	assert.Contains(t, buf.String(), "msg=wire")
}

func TestStartLogsElapsed(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx := WithLogger(context.Background(), logger)

	_, done := Start(ctx, "persist")
	done()
	assert.Contains(t, buf.String(), "persist starting")
	assert.Contains(t, buf.String(), "persist done")
	assert.Contains(t, buf.String(), "elapsed=")
}

func TestLoggerDefaultsWhenMissing(t *testing.T) {
	assert.Equal(t, slog.Default(), Logger(context.Background()))
}
