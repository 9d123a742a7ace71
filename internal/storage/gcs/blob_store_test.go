package gcs

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/catalog-importer/internal/store"
)

type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func respond(r *http.Request, code int, body string) *http.Response {
	return &http.Response{
		StatusCode: code,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Request:    r,
	}
}

func fakeClientOptions(fn roundTripperFunc) []option.ClientOption {
	return []option.ClientOption{
		option.WithoutAuthentication(),
		option.WithHTTPClient(&http.Client{Transport: fn}),
	}
}

func fakeClient(t *testing.T, fn roundTripperFunc) *storage.Client {
	t.Helper()
	client, err := storage.NewClient(context.Background(), fakeClientOptions(fn)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client := fakeClient(t, func(r *http.Request) (*http.Response, error) {
		return respond(r, http.StatusOK, `{}`), nil
	})
	_, err = New(client, Config{})
	require.Error(t, err)
}

func TestDialChecksBucket(t *testing.T) {
	ok := roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		assert.Contains(t, r.URL.Path, "/storage/v1/b/uploads")
		return respond(r, http.StatusOK, `{"name":"uploads"}`), nil
	})
	blobs, err := Dial(context.Background(), Config{Bucket: "uploads"}, fakeClientOptions(ok)...)
	require.NoError(t, err)
	require.NoError(t, blobs.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	failing := roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		return respond(r, http.StatusInternalServerError, ``), nil
	})
	_, err = Dial(ctx, Config{Bucket: "uploads"}, fakeClientOptions(failing)...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to get GCS bucket")
}

func TestPutObjectUploads(t *testing.T) {
	var (
		mu      sync.Mutex
		uploads int
	)
	client := fakeClient(t, func(r *http.Request) (*http.Response, error) {
		mu.Lock()
		uploads++
		mu.Unlock()
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/uploads/o")
		_, _ = io.Copy(io.Discard, r.Body)
		return respond(r, http.StatusOK, `{"name":"job-1/products.csv","bucket":"uploads"}`), nil
	})
	blobs, err := New(client, Config{Bucket: "uploads"})
	require.NoError(t, err)

	uri, err := blobs.PutObject(context.Background(), "job-1/products.csv", "text/csv", strings.NewReader("name,sku,description\n"))
	require.NoError(t, err)
	assert.Equal(t, "gs://uploads/job-1/products.csv", uri)
	mu.Lock()
	assert.Equal(t, 1, uploads)
	mu.Unlock()

	_, err = blobs.PutObject(context.Background(), " ", "text/csv", strings.NewReader("x"))
	require.Error(t, err)
}

func TestMissingObjects(t *testing.T) {
	client := fakeClient(t, func(r *http.Request) (*http.Response, error) {
		return respond(r, http.StatusNotFound, `{"error":{"code":404,"message":"No such object"}}`), nil
	})
	blobs, err := New(client, Config{Bucket: "uploads"})
	require.NoError(t, err)

	_, err = blobs.OpenObject(context.Background(), "job-1/products.csv")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, blobs.DeleteObject(context.Background(), "job-1/products.csv"))
}
