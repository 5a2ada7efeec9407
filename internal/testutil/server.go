package testutil

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

// NewIPv4TestServer starts an httptest server bound to 127.0.0.1. Some CI
// sandboxes have no IPv6 loopback, which breaks httptest.NewServer.
func NewIPv4TestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()

	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test; IPv4 listener unavailable: %v", err)
	}

	server := httptest.NewUnstartedServer(handler)
	server.Listener = listener
	server.Start()
	t.Cleanup(server.Close)

	return server
}

// RouteMux is a tiny path router for fake upstreams. Unmatched paths get 404.
type RouteMux map[string]http.HandlerFunc

func (m RouteMux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h, ok := m[r.URL.Path]; ok {
		h(w, r)
		return
	}
	http.NotFound(w, r)
}
