package server

import (
	"bufio"
	"context"
	"net"
	"strings"

	"github.com/apaul10-dot/Project-Alpha/internal/wire"
)

// Exchange is one parsed request together with the connection it arrived on.
type Exchange struct {
	Request    *wire.Request
	Response   *wire.ResponseWriter
	RemoteAddr string

	conn   net.Conn
	reader *bufio.Reader
}

// HandlerFunc handles one exchange. The connection is closed when it returns
// unless the handler took over the stream.
type HandlerFunc func(ctx context.Context, ex *Exchange)

type routeKey struct {
	method string
	path   string
}

type prefixRoute struct {
	method  string
	prefix  string
	handler HandlerFunc
}

// Router dispatches exchanges on exact (method, path) matches, then on path
// prefixes in registration order.
type Router struct {
	routes   map[routeKey]HandlerFunc
	prefixes []prefixRoute
	notFound HandlerFunc
}

// NewRouter returns a Router that answers unmatched requests with notFound.
func NewRouter(notFound HandlerFunc) *Router {
	return &Router{
		routes:   make(map[routeKey]HandlerFunc),
		notFound: notFound,
	}
}

// Handle registers h for an exact method and path.
func (r *Router) Handle(method, path string, h HandlerFunc) {
	r.routes[routeKey{method: method, path: path}] = h
}

// HandlePrefix registers h for every path starting with prefix.
func (r *Router) HandlePrefix(method, prefix string, h HandlerFunc) {
	r.prefixes = append(r.prefixes, prefixRoute{method: method, prefix: prefix, handler: h})
}

// Lookup returns the handler for method and path, if any.
func (r *Router) Lookup(method, path string) (HandlerFunc, bool) {
	if h, ok := r.routes[routeKey{method: method, path: path}]; ok {
		return h, true
	}
	for _, p := range r.prefixes {
		if p.method == method && strings.HasPrefix(path, p.prefix) {
			return p.handler, true
		}
	}
	return nil, false
}

// Dispatch runs the matching handler, or the not-found handler.
func (r *Router) Dispatch(ctx context.Context, ex *Exchange) {
	if h, ok := r.Lookup(ex.Request.Method, ex.Request.Path); ok {
		h(ctx, ex)
		return
	}
	r.notFound(ctx, ex)
}

// SetupRoutes builds the route table for the phone-facing server.
func SetupRoutes(h *handlers) *Router {
	r := NewRouter(h.notFound)
	r.Handle("GET", "/", h.page("/"))
	r.Handle("GET", "/events", h.events)
	r.Handle("POST", "/send", h.send)
	r.Handle("GET", "/health", h.health)
	r.Handle("GET", "/connect", h.page("/connect"))
	r.Handle("GET", "/profile", h.page("/profile"))
	r.Handle("POST", "/profile", h.saveProfile)
	r.Handle("GET", "/settings", h.page("/settings"))
	r.Handle("POST", "/settings", h.saveSettings)
	r.HandlePrefix("GET", "/assets/", h.asset)
	return r
}
