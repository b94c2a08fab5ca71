package logging_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cronxhq/cronx/logging"
)

func TestNop_DoesNotPanic(t *testing.T) {
	l := logging.Nop()
	l.Debug("ignored", nil)
	l.Info("ignored", logging.Fields{"k": "v"})
	l.Warn("ignored", nil)
	l.Error("ignored", nil)
}

func TestNew_EmitsStructuredJSONLines(t *testing.T) {
	var buf bytes.Buffer
	l := logging.New(&buf)

	l.Warn("lock extension failed", logging.Fields{"job": "hb", "error": "ownership lost"})

	line := strings.TrimSpace(buf.String())
	require.NotEmpty(t, line)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &decoded))

	assert.Equal(t, "lock extension failed", decoded["message"])
	assert.Equal(t, "warn", decoded["level"])
	assert.Equal(t, "hb", decoded["job"])
	assert.Equal(t, "ownership lost", decoded["error"])
}

func TestDefault_ReturnsNonNilLogger(t *testing.T) {
	assert.NotNil(t, logging.Default())
}
