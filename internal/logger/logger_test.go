package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetLevel(t *testing.T) {
	defer SetLevel("INFO")

	SetLevel("DEBUG")
	assert.Equal(t, LevelDebug, GetLevel())

	SetLevel("ERROR")
	assert.Equal(t, LevelError, GetLevel())

	// Invalid levels are ignored
	SetLevel("BOGUS")
	assert.Equal(t, LevelError, GetLevel())
}

func TestTextOutput(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text", false)
	defer InitWithWriter(&buf, "INFO", "text", false)

	Info("cache hit", KeyItemID, int64(123), KeyTier, "memory")

	out := buf.String()
	assert.Contains(t, out, "[INFO] cache hit")
	assert.Contains(t, out, "item_id=123")
	assert.Contains(t, out, "tier=memory")
}

func TestTextOutputLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "WARN", "text", false)
	defer InitWithWriter(&buf, "INFO", "text", false)

	Debug("should not appear")
	Info("should not appear either")
	Warn("visible")

	out := buf.String()
	assert.NotContains(t, out, "should not appear")
	assert.Contains(t, out, "visible")
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "json", false)
	defer InitWithWriter(&buf, "INFO", "text", false)

	Info("fetch completed", KeyItemID, int64(42), KeyBytes, int64(1024))

	line := strings.TrimSpace(buf.String())
	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &record))

	assert.Equal(t, "fetch completed", record["msg"])
	assert.Equal(t, float64(42), record["item_id"])
	assert.Equal(t, float64(1024), record["bytes"])
}

func TestColorOutput(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text", true)
	defer InitWithWriter(&buf, "INFO", "text", false)

	Info("colored message")

	assert.Contains(t, buf.String(), colorGreen)
}
