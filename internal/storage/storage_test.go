package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	method      string
	path        string
	contentType string
}

// fakeS3 accepts every request and remembers what it saw
type fakeS3 struct {
	mu       sync.Mutex
	requests []recordedRequest
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{method: r.Method, path: r.URL.Path, contentType: r.Header.Get("Content-Type")})
	f.mu.Unlock()
	w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
	w.WriteHeader(http.StatusOK)
}

func (f *fakeS3) last() recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newTestClient(t *testing.T) (*Client, *fakeS3) {
	t.Helper()
	fake := &fakeS3{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	c, err := New(&Config{
		Endpoint:  srv.URL,
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Bucket:    "exports",
		Region:    "us-east-1",
		URLExpiry: 10 * time.Minute,
	})
	require.NoError(t, err)
	return c, fake
}

func TestNew_RequiresEndpoint(t *testing.T) {
	_, err := New(&Config{Bucket: "exports"})
	assert.ErrorIs(t, err, ErrDisabled)

	_, err = New(&Config{Endpoint: "localhost:9000"})
	assert.Error(t, err)
}

func TestSplitEndpoint(t *testing.T) {
	host, secure := splitEndpoint("https://s3.example.com", false)
	assert.Equal(t, "s3.example.com", host)
	assert.True(t, secure)

	host, secure = splitEndpoint("http://localhost:9000", true)
	assert.Equal(t, "localhost:9000", host)
	assert.False(t, secure)

	host, secure = splitEndpoint("localhost:9000", true)
	assert.Equal(t, "localhost:9000", host)
	assert.True(t, secure)
}

func TestExportKey(t *testing.T) {
	id := uuid.MustParse("6f1c0f39-5b7e-4c52-9d0a-0c4e1a3c7b11")
	at := time.Date(2024, 3, 15, 12, 30, 5, 0, time.FixedZone("CET", 3600))

	assert.Equal(t, "exports/6f1c0f39-5b7e-4c52-9d0a-0c4e1a3c7b11/portfolio-20240315T113005Z.csv", ExportKey(id, at))
}

func TestPut_UsesPathStyle(t *testing.T) {
	c, fake := newTestClient(t)

	err := c.Put(context.Background(), "exports/u/portfolio.csv", []byte("coin_id,amount\n"), "text/csv")
	require.NoError(t, err)

	req := fake.last()
	assert.Equal(t, http.MethodPut, req.method)
	assert.Equal(t, "/exports/exports/u/portfolio.csv", req.path)
	assert.Equal(t, "text/csv", req.contentType)
}

func TestPresignedURL(t *testing.T) {
	c, _ := newTestClient(t)

	raw, err := c.PresignedURL(context.Background(), "exports/u/portfolio.csv", "portfolio.csv")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(u.Path, "/exports/exports/u/portfolio.csv"), u.Path)
	q := u.Query()
	assert.NotEmpty(t, q.Get("X-Amz-Signature"))
	assert.Equal(t, "600", q.Get("X-Amz-Expires"))
	assert.Equal(t, `attachment; filename="portfolio.csv"`, q.Get("response-content-disposition"))
}

func TestNilClientIsDisabled(t *testing.T) {
	var c *Client
	ctx := context.Background()

	assert.ErrorIs(t, c.Put(ctx, "k", nil, "text/csv"), ErrDisabled)
	assert.ErrorIs(t, c.Ping(ctx), ErrDisabled)
	_, err := c.PresignedURL(ctx, "k", "")
	assert.ErrorIs(t, err, ErrDisabled)
}
