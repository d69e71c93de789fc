package classifier

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/v1/score", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"score": 0.92}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	score, err := c.Score(context.Background(), "can i get a tip?")
	require.NoError(t, err)
	assert.Equal(t, 0.92, score)
}

func TestScoreServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	_, err := c.Score(context.Background(), "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "model unavailable")
}

func TestScoreOutOfRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"score": 1.5}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	_, err := c.Score(context.Background(), "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestScoreTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, &http.Client{Timeout: 20 * time.Millisecond}, nil)
	_, err := c.Score(context.Background(), "text")
	require.Error(t, err)
}
