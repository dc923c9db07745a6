package telemetry

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSenderPostsBatch(t *testing.T) {
	var gotBody []byte
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sender := NewHTTPSender(srv.URL)
	err := sender.Send(context.Background(), []Event{
		{Type: EventModeDetected, TenantID: "t1"},
		{Type: EventInvariantBreach, TenantID: "t1"},
	})
	require.NoError(t, err)

	assert.Equal(t, "application/json", gotContentType)
	var payload struct {
		Events []Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	require.Len(t, payload.Events, 2)
	assert.Equal(t, EventInvariantBreach, payload.Events[1].Type)
}

func TestHTTPSenderCollectorError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sender := NewHTTPSender(srv.URL)
	err := sender.Send(context.Background(), []Event{{Type: EventModeDetected}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}
