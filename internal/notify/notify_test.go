package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/slurmwatch/slurmwatch/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogNotifierLevels(t *testing.T) {
	buf := logger.NewBufferLogger()
	n := NewLogNotifier(buf)

	require.NoError(t, n.Send(context.Background(), Event{Kind: KindNodeFreed, Subject: "huk01"}))
	assert.True(t, buf.HasLevel("INFO"))

	buf.Clear()
	require.NoError(t, n.Send(context.Background(), Event{Kind: KindNodeDown, Subject: "huk02"}))
	assert.True(t, buf.HasLevel("WARN"))
}

func TestWebhookNotifierPostsJSON(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, 5*time.Second)
	ev := Event{Kind: KindJobFinished, Subject: "1234", Detail: "job for carlos ended", At: time.Now()}
	require.NoError(t, n.Send(context.Background(), ev))

	assert.Equal(t, KindJobFinished, got.Kind)
	assert.Equal(t, "1234", got.Subject)
	assert.Contains(t, got.Text, "job_finished")
}

func TestWebhookNotifierRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, 5*time.Second)
	err := n.Send(context.Background(), Event{Kind: KindClusterDown})
	assert.Error(t, err)
}

type failingNotifier struct{ err error }

func (f *failingNotifier) Send(context.Context, Event) error { return f.err }

func TestMultiAttemptsAllSinks(t *testing.T) {
	buf := logger.NewBufferLogger()
	m := Multi{
		&failingNotifier{err: assert.AnError},
		NewLogNotifier(buf),
	}
	err := m.Send(context.Background(), Event{Kind: KindClusterUp, Subject: "cluster"})
	assert.ErrorIs(t, err, assert.AnError)
	assert.True(t, buf.HasLevel("INFO")) // second sink still ran
}
