package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseLevel(in).Level(), "level %q", in)
	}
}

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New("warn", &buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "k=v")
}

func TestCronLogger(t *testing.T) {
	var buf bytes.Buffer
	cl := CronLogger(New("info", &buf))

	cl.Info("schedule", "entry", 1)
	assert.Empty(t, buf.String(), "cron info is demoted to debug")

	cl.Error(errors.New("boom"), "job panicked")
	out := buf.String()
	assert.Contains(t, out, "job panicked")
	assert.Contains(t, out, "err=boom")
	assert.Contains(t, out, "component=cron")
}
