package logging

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestLevelFor(t *testing.T) {
	cases := []struct {
		raw  string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{"Error", zerolog.ErrorLevel},
		{"nonsense", zerolog.InfoLevel},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, levelFor(tc.raw), tc.raw)
	}
}

func TestWriterFor(t *testing.T) {
	_, console := writerFor(Config{Format: "console"}).(zerolog.ConsoleWriter)
	require.True(t, console)

	_, console = writerFor(Config{PrettyPrint: true}).(zerolog.ConsoleWriter)
	require.True(t, console)

	_, console = writerFor(Config{Format: "json"}).(zerolog.ConsoleWriter)
	require.False(t, console)
}

func TestNewLoggerHonoursLevel(t *testing.T) {
	logger := NewLogger(Config{Level: "warn", Format: "json"})
	require.Equal(t, zerolog.WarnLevel, logger.GetLevel())
}
