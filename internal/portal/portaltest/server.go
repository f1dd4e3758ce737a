// Package portaltest runs an in-process portal for tests.
package portaltest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
)

// Request is one call seen by the server.
type Request struct {
	Path   string
	Query  url.Values
	Header http.Header
}

// Raw is written to the response verbatim instead of being wrapped as {"js": ...}.
type Raw string

// Handler answers one type/action. A zero status means 200. body is wrapped
// as {"js": body} unless it is a Raw.
type Handler func(r Request) (status int, body any)

// Server is a scriptable portal. Handlers are keyed by "type/action".
type Server struct {
	*httptest.Server

	mu         sync.Mutex
	handlers   map[string]Handler
	pathStatus map[string]int
	requests   []Request
	counts     map[string]int
}

// New starts a server that is closed when the test ends.
func New(t testing.TB) *Server {
	s := &Server{
		handlers:   make(map[string]Handler),
		pathStatus: make(map[string]int),
		counts:     make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// Handle registers h for typ/action, replacing any earlier handler.
func (s *Server) Handle(typ, action string, h Handler) {
	s.mu.Lock()
	s.handlers[typ+"/"+action] = h
	s.mu.Unlock()
}

// JSON answers typ/action with {"js": js}.
func (s *Server) JSON(typ, action string, js any) {
	s.Handle(typ, action, func(Request) (int, any) { return 0, js })
}

// SetPathStatus forces every request to path to answer with code.
func (s *Server) SetPathStatus(path string, code int) {
	s.mu.Lock()
	s.pathStatus[path] = code
	s.mu.Unlock()
}

// StandardAuth installs a handshake and profile that hand out token.
func (s *Server) StandardAuth(token string) {
	s.JSON("stb", "handshake", map[string]any{"token": token, "random": "ABCDEF0123456789ABCDEF0123456789ABCDEF01"})
	s.JSON("stb", "get_profile", map[string]any{"id": "1", "status": 0})
}

// Calls counts requests for typ/action (including ones answered by a path override).
func (s *Server) Calls(typ, action string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[typ+"/"+action]
}

// Requests returns a copy of every request seen so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Last returns the most recent request for typ/action.
func (s *Server) Last(typ, action string) (Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.requests) - 1; i >= 0; i-- {
		r := s.requests[i]
		if r.Query.Get("type") == typ && r.Query.Get("action") == action {
			return r, true
		}
	}
	return Request{}, false
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	req := Request{Path: r.URL.Path, Query: r.URL.Query(), Header: r.Header.Clone()}
	key := req.Query.Get("type") + "/" + req.Query.Get("action")

	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.counts[key]++
	forced, hasForced := s.pathStatus[r.URL.Path]
	h := s.handlers[key]
	s.mu.Unlock()

	if hasForced {
		w.WriteHeader(forced)
		return
	}
	if h == nil {
		http.NotFound(w, r)
		return
	}
	status, body := h(req)
	if status == 0 {
		status = http.StatusOK
	}
	if raw, ok := body.(Raw); ok {
		w.WriteHeader(status)
		w.Write([]byte(raw))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"js": body})
}
