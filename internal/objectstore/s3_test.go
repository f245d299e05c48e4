package objectstore

import (
	"bytes"
	"context"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 answers the handful of path-style requests the store issues.
type fakeS3 struct {
	mu       sync.Mutex
	buckets  map[string]bool
	objects  map[string][]byte
	heads    atomic.Int32
	headCode int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{buckets: map[string]bool{}, objects: map[string][]byte{}}
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 2)
	bucket := parts[0]
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}

	switch {
	case key == "" && r.Method == http.MethodHead:
		f.heads.Add(1)
		if f.headCode != 0 {
			w.WriteHeader(f.headCode)
			return
		}
		if !f.buckets[bucket] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case key == "" && r.Method == http.MethodPut:
		f.buckets[bucket] = true
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut:
		b, _ := io.ReadAll(r.Body)
		f.objects[bucket+"/"+key] = b
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet:
		b, ok := f.objects[bucket+"/"+key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`))
			return
		}
		_, _ = w.Write(b)
	case r.Method == http.MethodDelete:
		delete(f.objects, bucket+"/"+key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestS3(t *testing.T, fake *fakeS3) *S3 {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	store, err := NewS3(context.Background(), S3Options{
		Endpoint:   srv.URL,
		AccessKey:  "minio",
		SecretKey:  "minio123",
		Bucket:     "grc-documents",
		HTTPClient: awshttp.NewBuildableClient(),
	}, nil)
	require.NoError(t, err)
	store.retryDelay = 0
	return store
}

func TestNewS3_HonoursCABundle(t *testing.T) {
	tlsSrv := httptest.NewTLSServer(http.NotFoundHandler())
	t.Cleanup(tlsSrv.Close)
	bundle := filepath.Join(t.TempDir(), "ca.pem")
	pemData := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: tlsSrv.Certificate().Raw})
	require.NoError(t, os.WriteFile(bundle, pemData, 0o600))
	t.Setenv("AWS_CA_BUNDLE", bundle)

	newTestS3(t, newFakeS3())
}

func TestNewS3_RequiresBucket(t *testing.T) {
	_, err := NewS3(context.Background(), S3Options{Endpoint: "http://localhost:9000"}, nil)
	require.Error(t, err)
}

func TestEnsureBucket_CreatesMissingBucket(t *testing.T) {
	fake := newFakeS3()
	store := newTestS3(t, fake)

	require.NoError(t, store.EnsureBucket(context.Background()))
	assert.True(t, fake.buckets["grc-documents"])

	require.NoError(t, store.EnsureBucket(context.Background()))
	assert.EqualValues(t, 2, fake.heads.Load())
}

func TestEnsureBucket_GivesUpAfterRetries(t *testing.T) {
	fake := newFakeS3()
	fake.headCode = http.StatusForbidden
	store := newTestS3(t, fake)

	err := store.EnsureBucket(context.Background())
	require.Error(t, err)
	assert.EqualValues(t, bucketAttempts, fake.heads.Load())
}

func TestUploadOpenDelete(t *testing.T) {
	fake := newFakeS3()
	store := newTestS3(t, fake)
	ctx := context.Background()

	data := []byte("%PDF-1.4 policy")
	require.NoError(t, store.Upload(ctx, "documents/a.pdf", bytes.NewReader(data), int64(len(data)), "application/pdf"))

	rc, err := store.Open(ctx, "documents/a.pdf")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, data, got)

	require.NoError(t, store.Delete(ctx, "documents/a.pdf"))
	_, err = store.Open(ctx, "documents/a.pdf")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Upload(ctx, "k", strings.NewReader("v"), 1, "text/plain"))
	obj, ok := m.Get("k")
	require.True(t, ok)
	assert.Equal(t, "text/plain", obj.ContentType)

	m.FailUpload = func(key string) bool { return key == "bad" }
	assert.Error(t, m.Upload(ctx, "bad", strings.NewReader("v"), 1, ""))

	require.NoError(t, m.Delete(ctx, "k"))
	_, err := m.Open(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, m.Len())
}
