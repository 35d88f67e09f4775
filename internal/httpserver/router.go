// Package httpserver implements the canonical buffered-coroutine protocol
// reader of spec §4.F: an HTTP/1.1 request parser and (method, path) router
// built directly on internal/stream, with no dependency on net/http's
// request parsing (that is the very component being built here).
package httpserver

import (
	"fmt"
	"strings"

	"github.com/corewave/ev80/internal/socket"
	"github.com/corewave/ev80/internal/util"
)

// Headers maps a lowercased header name to its last occurrence's value, per
// spec §4.F's "last occurrence wins on duplicates" rule.
type Headers map[string]string

// Get looks up name case-insensitively.
func (h Headers) Get(name string) string { return h[strings.ToLower(name)] }

// Handler serves one request on an already-accepted Socket. query is the
// raw, still-encoded query string (everything after the first '?'); body is
// the verbatim request body.
type Handler func(s *socket.Socket, query string, headers Headers, body []byte)

// Router dispatches by exact (method, path) match and installs itself as
// the dispatcher's default binding for every newly observed socket (spec
// §4.B/§4.F). Route tables are replaceable without affecting live
// connections, per the Design Notes' hot-reload requirement.
type Router struct {
	routes map[string]map[string]Handler
}

// NewRouter creates an empty route table.
func NewRouter() *Router {
	return &Router{routes: make(map[string]map[string]Handler)}
}

// Handle registers handler for method and path. Re-registering the same
// pair replaces the previous handler.
func (rt *Router) Handle(method, path string, handler Handler) {
	m := rt.routes[method]
	if m == nil {
		m = make(map[string]Handler)
		rt.routes[method] = m
	}
	m[path] = handler
}

func (rt *Router) lookup(method, path string) (Handler, bool) {
	m, ok := rt.routes[method]
	if !ok {
		return nil, false
	}
	h, ok := m[path]
	return h, ok
}

// Bind installs rt as the default binding for s: it runs the keep-alive
// request loop of spec §4.F for the lifetime of the connection.
func (rt *Router) Bind(s *socket.Socket) {
	runConnection(s, rt)
}

// dispatch implements spec §4.F step 6: split the URL, look up the route,
// and either invoke the handler or write a 404.
func (rt *Router) dispatch(s *socket.Socket, req *request) {
	script, query := splitURL(req.url)

	handler, ok := rt.lookup(req.method, script)
	if !ok {
		util.Stats.AddNotFound()
		util.LogDebug("[%s] %s %s -> 404", req.traceID, req.method, req.url)
		s.HTTPResponse("404 Not Found", "text/plain",
			[]byte(fmt.Sprintf("%s was not found on this server", script)))
		return
	}

	util.Stats.AddRequest()
	util.LogDebug("[%s] %s %s", req.traceID, req.method, req.url)
	handler(s, query, req.headers, req.body)
}

// splitURL implements spec §4.F step 5: split on the first '?', no
// URL-decoding of the path.
func splitURL(url string) (script, query string) {
	if i := strings.IndexByte(url, '?'); i >= 0 {
		return url[:i], url[i+1:]
	}
	return url, ""
}
