package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithRunID(t *testing.T) {
	var buf bytes.Buffer
	log := WithRunID(zerolog.New(&buf), "run-42")
	log.Info().Msg("migration started")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "run-42", line["run_id"])
	assert.Equal(t, "migration started", line["message"])
}

func TestInitStructured_Level(t *testing.T) {
	log := InitStructured(Options{Env: "production", Level: "warn"})
	assert.Equal(t, zerolog.WarnLevel, log.GetLevel())
	assert.Equal(t, zerolog.WarnLevel, GetLogger().GetLevel())

	log = InitStructured(Options{Env: "production", Level: "nonsense"})
	assert.Equal(t, zerolog.InfoLevel, log.GetLevel())
}
