package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"", zerolog.InfoLevel},
		{"debug", zerolog.DebugLevel},
		{" WARN ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}

func TestSetupWithWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithWriter("production", "warn", &buf)

	logger.Info().Msg("hidden")
	logger.Warn().Str("adapter", "ytdlp").Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"adapter":"ytdlp"`)

	buf.Reset()
	dev := SetupWithWriter("development", "error", &buf)
	dev.Debug().Msg("debug line")
	assert.Contains(t, buf.String(), "debug line")
}
