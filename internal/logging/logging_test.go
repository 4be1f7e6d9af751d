package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComponentFollowsLateInit(t *testing.T) {
	log := Component("cascade")

	var buf bytes.Buffer
	InitWithWriter(&buf, slog.LevelInfo, false)
	t.Cleanup(func() { Init(slog.LevelInfo, false) })

	log.Info("stage finished", "stage", "exact")

	out := buf.String()
	assert.Contains(t, out, "component=cascade")
	assert.Contains(t, out, "stage=exact")
}

func TestComponentRespectsLevel(t *testing.T) {
	log := Component("retention")

	var buf bytes.Buffer
	InitWithWriter(&buf, slog.LevelWarn, true)
	t.Cleanup(func() { Init(slog.LevelInfo, false) })

	log.Info("hidden")
	log.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"component":"retention"`)
}

func TestWithContext(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, slog.LevelInfo, false)
	t.Cleanup(func() { Init(slog.LevelInfo, false) })

	ctx := ContextWithAdvisorID(context.Background(), "adv-1")
	ctx = ContextWithRequestID(ctx, "req-9")
	WithContext(ctx).Info("hello")

	assert.Contains(t, buf.String(), "advisor_id=adv-1")
	assert.Contains(t, buf.String(), "request_id=req-9")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"":        slog.LevelInfo,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}
