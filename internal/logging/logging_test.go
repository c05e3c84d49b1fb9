package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriterJSONFormatEmitsParsableLines(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("info", "json", &buf)
	log.Info("handshake complete", KeyPath, "abcd", KeyRole, "initiator")

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "handshake complete", decoded["msg"])
	assert.Equal(t, "abcd", decoded[KeyPath])
	assert.Equal(t, "initiator", decoded[KeyRole])
}

func TestNewWithWriterTextFormatIsDefault(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("info", "unrecognized-format", &buf)
	log.Info("relay failed")
	assert.Contains(t, buf.String(), "relay failed")
	assert.False(t, strings.HasPrefix(buf.String(), "{"))
}

func TestNewWithWriterRespectsLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("warn", "text", &buf)
	log.Info("should be suppressed")
	assert.Empty(t, buf.String())

	log.Warn("should appear")
	assert.Contains(t, buf.String(), "should appear")
}

func TestNewWithWriterUnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("not-a-level", "text", &buf)
	log.Debug("suppressed at default info level")
	assert.Empty(t, buf.String())

	log.Info("visible at default info level")
	assert.Contains(t, buf.String(), "visible at default info level")
}

func TestNopDiscardsOutput(t *testing.T) {
	// Nop must not panic and must produce no observable side effects.
	Nop().Error("this goes nowhere", KeyError, "boom")
}
