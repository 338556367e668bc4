package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitTagsServiceAndWritesFile(t *testing.T) {
	var out bytes.Buffer
	file := filepath.Join(t.TempDir(), "logs", "checksplit.log")
	require.NoError(t, Init(Options{Level: "debug", File: file, MaxSizeMB: 1, Stdout: &out}))
	defer Close()

	c := Component("split")
	c.Info().Str("check_id", "abc").Msg("check split")

	var ev map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(out.Bytes()), &ev))
	assert.Equal(t, DefaultService, ev["service"])
	assert.Equal(t, "split", ev["component"])
	assert.Equal(t, "abc", ev["check_id"])

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "check split")
}

func TestInitLevelFiltering(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, Init(Options{Level: "warn", Stdout: &out}))
	log.Info().Msg("hidden")
	log.Warn().Msg("shown")
	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, out.String(), "shown")
}
