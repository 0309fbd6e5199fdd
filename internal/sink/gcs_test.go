package sink

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestGCS(t *testing.T, handler http.Handler, cfg GCSConfig) *GCS {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	s, err := NewGCSWithClient(client, cfg, nil)
	require.NoError(t, err)
	return s
}

func TestGCSFlushUploadsSnapshot(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		names []string
		body  string
	)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/results-bucket/o")
		data, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		mu.Lock()
		names = append(names, r.URL.Query().Get("name"))
		body = string(data)
		mu.Unlock()
		fmt.Fprintln(w, `{"name":"runs/run-1.csv","bucket":"results-bucket"}`)
	})

	s := newTestGCS(t, handler, GCSConfig{Bucket: "results-bucket", Object: "runs/run-1.csv"})
	require.Equal(t, "gs://results-bucket/runs/run-1.csv", s.URI())

	require.NoError(t, s.Flush(context.Background(), sampleResults()))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"runs/run-1.csv"}, names)
	require.Contains(t, body, "https://www.linkedin.com/in/a")
	require.Contains(t, body, "Key,Target,Verdict")
	require.NoError(t, s.Close())
}

func TestGCSFlushReportsServerError(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	s := newTestGCS(t, handler, GCSConfig{Bucket: "results-bucket", Object: "x.csv"})

	require.Error(t, s.Flush(context.Background(), sampleResults()))
}

func TestGCSDefaultObjectName(t *testing.T) {
	t.Parallel()

	client, err := storage.NewClient(context.Background(), option.WithEndpoint("http://127.0.0.1:1"), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	s, err := NewGCSWithClient(client, GCSConfig{Bucket: "b", Format: FormatJSON, Meta: Meta{RunID: "abc"}}, nil)
	require.NoError(t, err)
	require.Equal(t, "gs://b/results/abc.json", s.URI())

	_, err = NewGCSWithClient(client, GCSConfig{}, nil)
	require.Error(t, err)
	_, err = NewGCSWithClient(nil, GCSConfig{Bucket: "b"}, nil)
	require.Error(t, err)
}
