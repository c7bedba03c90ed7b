package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	t.Run("noop when endpoint empty", func(t *testing.T) {
		shutdown, err := Setup(context.Background(), "labctl", "")
		require.NoError(t, err)
		assert.NoError(t, shutdown(context.Background()))
	})

	t.Run("creates provider when endpoint set", func(t *testing.T) {
		// Non-routable address so nothing is exported.
		shutdown, err := Setup(context.Background(), "labctl", "http://192.0.2.1:4318")
		require.NoError(t, err)
		assert.NoError(t, shutdown(context.Background()))
	})
}

func TestNewLogger(t *testing.T) {
	t.Run("json format", func(t *testing.T) {
		var buf bytes.Buffer
		NewLogger(&buf, "debug", "json").Debug("hello", "environment_id", 3)

		var rec map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
		assert.Equal(t, "hello", rec["msg"])
		assert.Equal(t, float64(3), rec["environment_id"])
	})

	t.Run("level filters", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewLogger(&buf, "warn", "text")
		log.Info("quiet")
		assert.Empty(t, buf.String())
		log.Warn("loud")
		assert.Contains(t, buf.String(), "loud")
	})

	t.Run("bad level falls back to info", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewLogger(&buf, "chatty", "text")
		log.Debug("hidden")
		log.Info("shown")
		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})
}
