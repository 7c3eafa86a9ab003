package utils

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRespondErrorDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondErrorDetail(rec, http.StatusUnprocessableEntity, "could not understand the audio", map[string]any{"kind": "no_speech"})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"could not understand the audio","kind":"no_speech"}`, rec.Body.String())
}

func TestSendSSEEvent(t *testing.T) {
	rec := httptest.NewRecorder()
	SetupSSEHeaders(rec)
	SendSSEEvent(rec, rec, "status", map[string]string{"status": "queued"})

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "event: status\ndata: {\"status\":\"queued\"}\n\n", rec.Body.String())
	assert.True(t, rec.Flushed)
}
