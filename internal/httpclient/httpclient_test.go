package httpclient

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encode(t *testing.T, enc string, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	var w io.WriteCloser
	switch enc {
	case "gzip":
		w = gzip.NewWriter(&buf)
	case "deflate-zlib":
		w = zlib.NewWriter(&buf)
	case "deflate-raw":
		fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
		require.NoError(t, err)
		w = fw
	case "br":
		w = brotli.NewWriter(&buf)
	}
	_, err := w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestDecodingTransport(t *testing.T) {
	payload := []byte(`{"js":{"token":"abc"}}`)
	tests := []struct {
		name   string
		header string
		body   []byte
	}{
		{"identity", "", payload},
		{"gzip", "gzip", encode(t, "gzip", payload)},
		{"deflate zlib", "deflate", encode(t, "deflate-zlib", payload)},
		{"deflate raw", "deflate", encode(t, "deflate-raw", payload)},
		{"brotli", "br", encode(t, "br", payload)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.header != "" {
					w.Header().Set("Content-Encoding", tt.header)
				}
				w.Write(tt.body)
			}))
			defer srv.Close()

			req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
			req.Header.Set("Accept-Encoding", "gzip, deflate, br")
			resp, err := New(Options{}).Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			got, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, payload, got)
			assert.Empty(t, resp.Header.Get("Content-Encoding"))
		})
	}
}

func TestDecodingTransportEmptyBody(t *testing.T) {
	for _, enc := range []string{"gzip", "deflate", "br"} {
		t.Run(enc, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Encoding", enc)
				w.WriteHeader(http.StatusNotFound)
			}))
			defer srv.Close()

			req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
			req.Header.Set("Accept-Encoding", "gzip, deflate, br")
			resp, err := New(Options{}).Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusNotFound, resp.StatusCode)
			got, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestIsZlibHeader(t *testing.T) {
	assert.True(t, isZlibHeader([]byte{0x78, 0x9c}))
	assert.True(t, isZlibHeader([]byte{0x78, 0x01}))
	assert.False(t, isZlibHeader([]byte{0x78}))
	assert.False(t, isZlibHeader([]byte{0x1f, 0x8b}))
}

func TestHostSemaphoreLimitsConcurrency(t *testing.T) {
	sem := NewHostSemaphore(2)
	var inFlight, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := sem.Acquire(context.Background(), "http://portal.example/stalker_portal/server/load.php")
			if err != nil {
				t.Error(err)
				return
			}
			defer release()
			n := atomic.AddInt32(&inFlight, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestHostSemaphoreAcquireHonoursContext(t *testing.T) {
	sem := NewHostSemaphore(1)
	release, err := sem.Acquire(context.Background(), "http://a")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = sem.Acquire(ctx, "http://a/other/path")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release2, err := sem.Acquire(context.Background(), "http://b")
	require.NoError(t, err)
	release2()
	release2()
}

func TestLimitedTransportReleasesOnClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := New(Options{HostConcurrency: 1, RequestsPerSecond: 1000})
	for i := 0; i < 3; i++ {
		resp, err := c.Get(srv.URL)
		require.NoError(t, err)
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}
