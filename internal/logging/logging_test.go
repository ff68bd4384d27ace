package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFromVerbosity(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.LevelWarn, LevelFromVerbosity(0, false))
	assert.Equal(t, slog.LevelInfo, LevelFromVerbosity(1, false))
	assert.Equal(t, slog.LevelDebug, LevelFromVerbosity(2, false))
	assert.Equal(t, slog.LevelDebug, LevelFromVerbosity(5, false))
	assert.Equal(t, LevelSilent, LevelFromVerbosity(2, true))
}

func TestLevelFromString(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
		"off":     LevelSilent,
		"bogus":   slog.LevelInfo,
	} {
		assert.Equal(t, want, LevelFromString(in), in)
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("JSON", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		New(&buf, slog.LevelInfo, FormatJSON).Info("merged", slog.Int("atoms", 3))

		var rec map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
		assert.Equal(t, "merged", rec["msg"])
		assert.InDelta(t, 3, rec["atoms"], 0)
	})

	t.Run("TextRespectsLevel", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		logger := New(&buf, slog.LevelWarn, FormatText)
		logger.Info("hidden")
		logger.Warn("shown")
		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "msg=shown")
	})

	t.Run("Silent", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		New(&buf, LevelSilent, FormatText).Error("nothing")
		assert.Empty(t, buf.String())
	})

	t.Run("Discard", func(t *testing.T) {
		t.Parallel()
		assert.False(t, Discard().Enabled(t.Context(), slog.LevelError))
	})
}
