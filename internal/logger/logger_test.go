package logger

import (
	"bytes"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBufferLoggerCapturesLevels(t *testing.T) {
	l := NewBufferLogger()
	l.Debug("d %d", 1)
	l.Info("i")
	l.Warn("w")
	l.Error("e")

	assert.Len(t, l.Messages, 4)
	assert.Equal(t, "d 1", l.Messages[0].Message)
	assert.True(t, l.HasLevel("warn"))
	assert.False(t, l.HasLevel("fatal"))

	l.Clear()
	assert.Empty(t, l.Messages)
}

func TestEnvLoggerDebugGate(t *testing.T) {
	orig := log.Writer()
	defer log.SetOutput(orig)
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Setenv("SLURMWATCH_DEBUG", "")

	NewEnvLogger("[test]", false).Debug("quiet")
	assert.NotContains(t, buf.String(), "quiet")

	// The verbose flag opens the gate without touching the environment.
	NewEnvLogger("[test]", true).Debug("flagged")
	assert.Contains(t, buf.String(), "flagged")

	t.Setenv("SLURMWATCH_DEBUG", "1")
	NewEnvLogger("[test]", false).Debug("from env")
	assert.Contains(t, buf.String(), "from env")
}

func TestSetDefaultSwapsLogger(t *testing.T) {
	orig := Default()
	defer SetDefault(orig)

	buf := NewBufferLogger()
	SetDefault(buf)
	Default().Info("hello")
	assert.True(t, buf.HasLevel("info"))
}
