package lake

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// fakeS3 answers HEAD/GET requests for a single bucket holding the given keys.
func fakeS3(t *testing.T, bucket string, keys map[string]bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if path == "/"+bucket || path == "/"+bucket+"/" {
			w.WriteHeader(http.StatusOK)
			return
		}
		key := path[len("/"+bucket+"/"):]
		if !keys[key] {
			if r.Method == http.MethodHead {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`))
			return
		}
		w.Header().Set("Content-Length", "0")
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.Header().Set("Last-Modified", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Format(http.TimeFormat))
		w.Header().Set("Content-Type", "text/csv")
		w.WriteHeader(http.StatusOK)
	}))
}

func newTestMinio(t *testing.T, srv *httptest.Server, bucket string) *MinioStore {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	s, err := NewMinioStore(Options{
		Bucket:    bucket,
		Endpoint:  u.Host,
		AccessKey: "access",
		SecretKey: "secret",
		Region:    "us-east-1",
		Scheme:    "gs",
	})
	require.NoError(t, err)
	return s
}

func TestMinioStore_Exists(t *testing.T) {
	srv := fakeS3(t, "lake", map[string]bool{"world_bank/world_bank_indicators_2022.csv": true})
	defer srv.Close()
	s := newTestMinio(t, srv, "lake")

	ok, err := s.Exists(context.Background(), "world_bank/world_bank_indicators_2022.csv")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(context.Background(), "climate_trace/global_emissions_2022.csv")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMinioStore_GetMissing(t *testing.T) {
	srv := fakeS3(t, "lake", nil)
	defer srv.Close()
	s := newTestMinio(t, srv, "lake")

	err := s.Get(context.Background(), "processed/world_bank/2022/data.parquet", filepath.Join(t.TempDir(), "x.parquet"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMinioStore_EnsureBucketExisting(t *testing.T) {
	srv := fakeS3(t, "lake", nil)
	defer srv.Close()
	s := newTestMinio(t, srv, "lake")

	require.NoError(t, s.EnsureBucket(context.Background()))
}

func TestMinioStore_URI(t *testing.T) {
	s, err := NewMinioStore(Options{Bucket: "zoomcamp-climate-trace", Endpoint: "storage.googleapis.com", Scheme: "gs", UseSSL: true})
	require.NoError(t, err)
	assert.Equal(t, "gs://zoomcamp-climate-trace/processed/combined/2022/data.parquet",
		s.URI("processed/combined/2022/data.parquet"))
}

func TestNewMinioStore_EmptyBucket(t *testing.T) {
	_, err := NewMinioStore(Options{Endpoint: "localhost:9000"})
	require.Error(t, err)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "text/csv", contentType("a/b.csv"))
	assert.Equal(t, "application/vnd.apache.parquet", contentType("a/data.parquet"))
	assert.Equal(t, "application/octet-stream", contentType("a/b"))
}
