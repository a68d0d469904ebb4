package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldsRenderTyped(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{zl: zerolog.New(&buf)}

	l.With(String("dataset", "lak0014")).Info("dataset transformed",
		Int("records", 42),
		Float64("share", 0.5),
		Bool("refresh", true),
		Duration("elapsed", 1500*time.Millisecond),
		Error(errors.New("boom")),
		Strings("groups", []string{"Budapest", "Pest"}))

	var ev map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &ev))
	assert.Equal(t, "lak0014", ev["dataset"])
	assert.Equal(t, 42.0, ev["records"])
	assert.Equal(t, 0.5, ev["share"])
	assert.Equal(t, true, ev["refresh"])
	assert.Equal(t, 1500.0, ev["elapsed"])
	assert.Equal(t, "boom", ev["error"])
	assert.Equal(t, "Budapest, Pest", ev["groups"])
	assert.Equal(t, "dataset transformed", ev["message"])
}

func TestLevelFiltersEvents(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{zl: zerolog.New(&buf).Level(zerolog.WarnLevel)}
	l.Info("hidden")
	l.Debug("hidden")
	assert.Zero(t, buf.Len())

	l.Warn("shown", Error(nil))
	assert.Contains(t, buf.String(), "<nil>")
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(&Config{Level: "loud", Output: "stdout"})
	assert.Error(t, err)

	l, err := New(&Config{Level: "info", Format: "console", Output: "stderr"})
	require.NoError(t, err)
	assert.NotNil(t, l)
}
