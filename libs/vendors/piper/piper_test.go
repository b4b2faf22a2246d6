package piper_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacky-htg/ai-booking-agent/libs/vendors/piper"
)

func TestSpeak_FallsBackToJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			http.Error(w, "json only", http.StatusUnsupportedMediaType)
			return
		}
		var body struct{ Text string }
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte("WAV:" + body.Text))
	}))
	defer srv.Close()

	audio, err := piper.NewWithEndpoint(srv.URL).Speak(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "WAV:hello", string(audio))
}

func TestSpeakStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		_, _ = w.Write([]byte("WAV:" + r.PostForm.Get("text")))
	}))
	defer srv.Close()

	var buf bytes.Buffer
	require.NoError(t, piper.NewWithEndpoint(srv.URL).SpeakStream(context.Background(), "streamed", &buf))
	assert.Equal(t, "WAV:streamed", buf.String())

	_, err := piper.NewWithEndpoint(srv.URL).Speak(context.Background(), "  ")
	assert.Error(t, err)
}

func TestSpeak_BothEncodingsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := piper.NewWithEndpoint(srv.URL).Speak(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}
