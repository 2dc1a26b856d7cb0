package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "farmbridge", zerolog.InfoLevel)

	logger.Debug().Msg("hidden")
	logger.Info().Str("topic", "farmbot/soil").Msg("subscribed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "farmbridge", entry["service"])
	assert.Equal(t, "subscribed", entry["message"])
	assert.Equal(t, "farmbot/soil", entry["topic"])
	assert.Contains(t, entry, "version")
}
