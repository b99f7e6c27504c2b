package debug

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, LogFormatJSON)
	SetLevel(slog.LevelInfo)
	t.Cleanup(func() {
		SetOutput(os.Stderr, LogFormatText)
		SetLevel(slog.LevelWarn)
	})

	log := Logger(ComponentBus)
	log.Debug("hidden")
	log.Info("shown", "player", 2)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "bus", rec["component"])
	assert.Equal(t, float64(2), rec["player"])

	// the level applies to loggers created before
	buf.Reset()
	SetLevel(slog.LevelDebug)
	log.Debug("now shown")
	assert.Contains(t, buf.String(), "now shown")
}

func TestThrottle(t *testing.T) {
	th := NewThrottle(time.Hour)
	n := 0
	for i := 0; i < 10; i++ {
		th.Do(func() { n++ })
	}
	assert.Equal(t, 1, n)
}
