package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/snapetech/stalkerportal/internal/portal"
)

const testMAC = "00:1A:79:00:00:01"

// portalAt answers a handshake with a token on the listed paths and 404 elsewhere.
func portalAt(t *testing.T, paths ...string) *httptest.Server {
	t.Helper()
	ok := make(map[string]bool)
	for _, p := range paths {
		ok[p] = true
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !ok[r.URL.Path] || r.URL.Query().Get("action") != "handshake" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"js":{"token":"ABCDEF"}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProbeOne_ok(t *testing.T) {
	seen := make(chan *http.Request, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Clone(context.Background())
		w.Write([]byte(`{"js":{"token":"ABCDEF","random":"x"}}`))
	}))
	defer srv.Close()

	r := ProbeOne(context.Background(), srv.URL+"/c/", portal.DialectExtended, testMAC, nil)
	if r.Status != StatusOK {
		t.Fatalf("Status: %s", r.Status)
	}
	if r.StatusCode != 200 {
		t.Errorf("StatusCode: %d", r.StatusCode)
	}
	if r.Endpoint != srv.URL+"/stalker_portal/server/load.php" {
		t.Errorf("Endpoint: %s", r.Endpoint)
	}
	req := <-seen
	if ua := req.Header.Get("X-User-Agent"); ua != portal.XUserAgent {
		t.Errorf("X-User-Agent: %q", ua)
	}
	if c, err := req.Cookie("mac"); err != nil || c.Value != testMAC {
		t.Errorf("mac cookie: %v %v", c, err)
	}
}

func TestProbeOne_alternateEndpoint(t *testing.T) {
	srv := portalAt(t, "/stalker_portal/load.php")
	r := ProbeOne(context.Background(), srv.URL, portal.DialectExtended, testMAC, nil)
	if r.Status != StatusOK {
		t.Fatalf("Status: %s", r.Status)
	}
	if r.Endpoint != srv.URL+"/stalker_portal/load.php" {
		t.Errorf("Endpoint: %s", r.Endpoint)
	}
}

func TestProbeOne_notFound(t *testing.T) {
	srv := portalAt(t)
	r := ProbeOne(context.Background(), srv.URL, portal.DialectExtended, testMAC, nil)
	if r.Status != StatusNotFound {
		t.Errorf("Status: %s", r.Status)
	}
	if r.Endpoint != srv.URL+"/stalker_portal/server/load.php" {
		t.Errorf("Endpoint should be the primary: %s", r.Endpoint)
	}
}

func TestProbeOne_noToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"js":{"msg":"denied"}}`))
	}))
	defer srv.Close()

	r := ProbeOne(context.Background(), srv.URL, portal.DialectSimple, testMAC, nil)
	if r.Status != StatusBadStatus {
		t.Errorf("Status: %s", r.Status)
	}
	if r.StatusCode != 200 {
		t.Errorf("StatusCode: %d", r.StatusCode)
	}
}

func TestProbeOne_cloudflare(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "cloudflare")
		w.WriteHeader(503)
		w.Write([]byte("Checking your browser"))
	}))
	defer srv.Close()

	r := ProbeOne(context.Background(), srv.URL, portal.DialectSimple, testMAC, nil)
	if r.Status != StatusCloudflare {
		t.Errorf("Status: %s", r.Status)
	}
}

func TestProbeOne_badStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	r := ProbeOne(context.Background(), srv.URL, portal.DialectSimple, testMAC, nil)
	if r.Status != StatusBadStatus || r.StatusCode != 502 {
		t.Errorf("got %s/%d", r.Status, r.StatusCode)
	}
}

func TestProbeOne_timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := &http.Client{Timeout: 50 * time.Millisecond}
	r := ProbeOne(context.Background(), srv.URL, portal.DialectSimple, testMAC, client)
	if r.Status != StatusTimeout {
		t.Errorf("Status: %s", r.Status)
	}
}

func TestProbeOne_invalidBase(t *testing.T) {
	r := ProbeOne(context.Background(), "ftp://portal.example", portal.DialectSimple, testMAC, nil)
	if r.Status != StatusError {
		t.Errorf("Status: %s", r.Status)
	}
}

func TestProbeAll_sort(t *testing.T) {
	srv := portalAt(t, "/portal.php")

	results := ProbeAll(context.Background(), srv.URL, testMAC, nil)
	if len(results) != 2 {
		t.Fatalf("len(results)=%d", len(results))
	}
	if results[0].Dialect != portal.DialectSimple || results[0].Status != StatusOK {
		t.Errorf("first result: %+v", results[0])
	}
	if results[1].Dialect != portal.DialectExtended || results[1].Status != StatusNotFound {
		t.Errorf("second result: %+v", results[1])
	}
}

func TestBestDialect(t *testing.T) {
	srv := portalAt(t, "/stalker_portal/server/load.php")
	d, ok := BestDialect(context.Background(), srv.URL, testMAC, nil)
	if !ok || d != portal.DialectExtended {
		t.Errorf("BestDialect = %s, %v", d, ok)
	}

	none := portalAt(t)
	if _, ok := BestDialect(context.Background(), none.URL, testMAC, nil); ok {
		t.Error("BestDialect should fail when nothing answers")
	}
}
