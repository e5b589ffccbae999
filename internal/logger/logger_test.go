package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_parseLevel(t *testing.T) {
	t.Run("known levels in any case", func(t *testing.T) {
		for in, want := range map[string]slog.Level{
			"debug": slog.LevelDebug,
			"INFO":  slog.LevelInfo,
			"Warn":  slog.LevelWarn,
			"error": slog.LevelError,
		} {
			got, err := parseLevel(in)

			require.NoError(t, err, "level %q has to be parsed", in)
			assert.Equal(t, want, got, "level %q", in)
		}
	})

	t.Run("unknown level fail", func(t *testing.T) {
		for _, in := range []string{"", "verbose"} {
			_, err := parseLevel(in)
			require.Error(t, err, "level %q", in)
		}
	})
}

func TestLogger_New(t *testing.T) {
	t.Run("development is text", func(t *testing.T) {
		var buf bytes.Buffer
		l, err := newLogger(&buf, EnvDevelopment, LevelInfo)
		require.NoError(t, err)

		l.With("component", "ledger").Info("operation applied", "operation", "spend_credits")

		out := buf.String()
		assert.Contains(t, out, "level=INFO")
		assert.Contains(t, out, "component=ledger", "attributes of With have to be kept")
		assert.Contains(t, out, "operation=spend_credits")
	})

	t.Run("production is json", func(t *testing.T) {
		var buf bytes.Buffer
		l, err := newLogger(&buf, EnvProduction, LevelInfo)
		require.NoError(t, err)

		l.Warn("operation failed, may be retried", "user_id", "u-1")

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "production logs have to be json")
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, "u-1", entry["user_id"])
	})

	t.Run("level filters records", func(t *testing.T) {
		var buf bytes.Buffer
		l, err := newLogger(&buf, EnvDevelopment, LevelWarn)
		require.NoError(t, err)

		l.Debug("skipped")
		l.Info("skipped")
		l.Error("kept")

		assert.NotContains(t, buf.String(), "skipped")
		assert.Equal(t, 1, strings.Count(buf.String(), "kept"))
	})

	t.Run("source is the caller file", func(t *testing.T) {
		var buf bytes.Buffer
		l, err := newLogger(&buf, EnvProduction, LevelInfo)
		require.NoError(t, err)

		l.Info("started")

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Regexp(t, `^logger_test\.go:\d+$`, entry["source"], "source has to be file:line without directory")
	})

	t.Run("payout destination is redacted", func(t *testing.T) {
		var buf bytes.Buffer
		l, err := newLogger(&buf, EnvDevelopment, LevelInfo)
		require.NoError(t, err)

		l.Info("payout sent", "destination", "acct_123", "reference", "w-1")

		assert.NotContains(t, buf.String(), "acct_123")
		assert.Contains(t, buf.String(), "[redacted]")
		assert.Contains(t, buf.String(), "reference=w-1")
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := New("staging", LevelInfo)
		require.Error(t, err, "unknown environment")

		_, err = New(EnvProduction, "verbose")
		require.Error(t, err, "unknown level")
	})

	t.Run("noop drops everything", func(t *testing.T) {
		l := NewNoOpLogger().With("component", "test")
		assert.NotPanics(t, func() { l.Error("dropped") })
	})
}
