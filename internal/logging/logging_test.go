package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupJSON(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.TraceLevel) })

	var buf bytes.Buffer
	logger := setup(&buf, "warn", false)
	logger.Info().Msg("hidden")
	logger.Warn().Str("task_id", "t1").Msg("shown")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "t1", line["task_id"])
	assert.Equal(t, "shown", line["message"])
	assert.Contains(t, line, "time")
}

func TestSetupBadLevelFallsBackToInfo(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.TraceLevel) })

	var buf bytes.Buffer
	logger := setup(&buf, "chatty", true)
	logger.Debug().Msg("hidden")
	logger.Info().Msg("started")
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "started")
}
