package timeauthority

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestNow_AuthoritySuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]int64{"unixtime": 1700000000})
	}))
	defer server.Close()

	var buf bytes.Buffer
	source := New(&Config{URL: server.URL, Timeout: time.Second}, newTestLogger(&buf))

	ts := source.Now(context.Background())

	assert.Equal(t, int64(1700000000), ts)
	assert.Contains(t, buf.String(), `"source":"authority"`)
}

func TestNow_FallbackOnFailure(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "non-2xx status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("not json"))
			},
		},
		{
			name: "implausible unixtime",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]int64{"unixtime": 0})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			var buf bytes.Buffer
			source := New(&Config{URL: server.URL, Timeout: time.Second}, newTestLogger(&buf))

			before := time.Now().Unix()
			ts := source.Now(context.Background())
			after := time.Now().Unix()

			assert.GreaterOrEqual(t, ts, before)
			assert.LessOrEqual(t, ts, after)
			assert.Contains(t, buf.String(), `"source":"fallback"`)
		})
	}
}

func TestNow_FallbackOnUnreachableHost(t *testing.T) {
	var buf bytes.Buffer
	source := New(&Config{URL: "http://127.0.0.1:1", Timeout: time.Second}, newTestLogger(&buf))

	ts := source.Now(context.Background())

	assert.NotZero(t, ts)
	assert.Contains(t, buf.String(), `"source":"fallback"`)
}

func TestNow_BoundedBySlowAuthority(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(3 * time.Second)
	}))
	defer server.Close()

	var buf bytes.Buffer
	// Timeout above the cap is clamped to two seconds
	source := New(&Config{URL: server.URL, Timeout: 10 * time.Second}, newTestLogger(&buf))

	start := time.Now()
	ts := source.Now(context.Background())
	elapsed := time.Since(start)

	assert.NotZero(t, ts)
	assert.Less(t, elapsed, 2500*time.Millisecond)
	assert.Contains(t, buf.String(), `"source":"fallback"`)
}

func TestLocal(t *testing.T) {
	before := time.Now().Unix()
	ts := Local{}.Now(context.Background())
	require.GreaterOrEqual(t, ts, before)
}
