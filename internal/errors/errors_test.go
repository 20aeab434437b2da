package errors

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCodes(t *testing.T) {
	codes := []string{
		ErrConfig,
		ErrTransport,
		ErrParse,
		ErrStore,
		ErrExec,
	}

	for _, code := range codes {
		assert.NotEmpty(t, code, "error code should not be empty")
	}

	// Verify codes are unique
	seen := make(map[string]bool)
	for _, code := range codes {
		assert.False(t, seen[code], "error code %q should be unique", code)
		seen[code] = true
	}
}

func TestNew(t *testing.T) {
	err := New(ErrConfig, "Invalid configuration in .slurmwatch.yaml", "Check the file syntax")
	require.NotNil(t, err)
	assert.Equal(t, ErrConfig, err.Code)
	assert.Empty(t, err.Reason)
	assert.Contains(t, err.Error(), "✗ Invalid configuration")
	assert.Contains(t, err.Error(), "Check the file syntax")
}

func TestNewTransport(t *testing.T) {
	err := NewTransport(ReasonTimeout, "sinfo did not return within 30s", "Check the bastion link")
	assert.Equal(t, ErrTransport, err.Code)
	assert.Equal(t, ReasonTimeout, err.Reason)
	assert.True(t, IsCode(err, ErrTransport))
	assert.Equal(t, ReasonTimeout, TransportReason(err))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection reset by peer")
	err := WrapTransport(cause, ReasonConnectionLost, "Lost the head node mid-command", "")

	assert.Equal(t, cause, err.Unwrap())
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "connection reset by peer")
}

func TestWrapWithCode(t *testing.T) {
	cause := errors.New("disk full")
	err := WrapWithCode(cause, ErrStore, "Failed to append history sample", "Free up space under data/")

	assert.True(t, IsCode(err, ErrStore))
	assert.False(t, IsCode(err, ErrTransport))
	assert.Empty(t, TransportReason(err))
}

func TestErrorFormat(t *testing.T) {
	err := WrapTransport(errors.New("handshake failed"), ReasonAuthFailure,
		"Couldn't log in to the bastion", "Check the password env var is exported")

	out := err.Error()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.GreaterOrEqual(t, len(lines), 3)
	assert.True(t, strings.HasPrefix(lines[0], "✗ "))
}

func TestTransportReasonOnNonTransport(t *testing.T) {
	assert.Empty(t, TransportReason(New(ErrParse, "empty sinfo output", "")))
	assert.Empty(t, TransportReason(nil))
	assert.Empty(t, TransportReason(errors.New("plain")))
}
