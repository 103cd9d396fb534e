// Package router classifies intercepted page requests and serves the
// cacheable ones cache-first out of the current store generation.
package router

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/voxproxy/internal/store"
)

// Class is the routing class of an intercepted request path.
type Class int

const (
	// Bypass requests pass through untouched and are never read from or
	// written to the store. Live, stateful or auth-bearing exchanges
	// must never be served stale.
	Bypass Class = iota
	// Cacheable requests are served cache-first with network fallback.
	Cacheable
)

// String returns the string representation of the class.
func (c Class) String() string {
	switch c {
	case Bypass:
		return "bypass"
	case Cacheable:
		return "cacheable"
	default:
		return "unknown"
	}
}

// DefaultBypassPrefixes are the reserved API, auth and realtime-handshake
// namespaces of the chat application.
var DefaultBypassPrefixes = []string{"/api/", "/auth/", "/socket.io/"}

// Classify returns the routing class for a request path. Classification
// is by path prefix only; the router separately refuses to intercept
// mutating methods.
func Classify(path string, bypassPrefixes []string) Class {
	for _, prefix := range bypassPrefixes {
		if strings.HasPrefix(path, prefix) {
			return Bypass
		}
	}
	return Cacheable
}

// StoreSource yields the store generation requests should be served
// from. A nil store means no generation is active and everything goes
// to the network.
type StoreSource interface {
	Current() store.Store
}

// Router is an http.RoundTripper that interposes the offline store
// between the page and the network.
//
// Cacheable read requests are looked up in the current store first; a
// hit is returned with no network call. On a miss the request falls
// back to the network, and a 200 response is duplicated into the store
// fire-and-forget while the original is handed back to the caller.
// Errors and non-200 responses are propagated unchanged and never
// written to the store.
type Router struct {
	stores         StoreSource
	next           http.RoundTripper
	bypassPrefixes []string
	originHost     string
	logger         *log.Logger

	writes sync.WaitGroup
}

// Option configures a Router.
type Option func(*Router)

// WithBypassPrefixes overrides the default bypass prefixes.
func WithBypassPrefixes(prefixes []string) Option {
	return func(rt *Router) { rt.bypassPrefixes = prefixes }
}

// WithOriginHost marks requests to host as same-origin, keying them by
// origin-relative URL so store keys match the install manifest.
func WithOriginHost(host string) Option {
	return func(rt *Router) { rt.originHost = host }
}

// WithLogger sets the router's logger.
func WithLogger(logger *log.Logger) Option {
	return func(rt *Router) { rt.logger = logger }
}

// New creates a Router over the given store source and next transport.
// A nil next falls back to http.DefaultTransport.
func New(stores StoreSource, next http.RoundTripper, opts ...Option) *Router {
	if next == nil {
		next = http.DefaultTransport
	}
	rt := &Router{
		stores:         stores,
		next:           next,
		bypassPrefixes: DefaultBypassPrefixes,
		logger:         log.Default(),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// RoundTrip implements http.RoundTripper.
func (rt *Router) RoundTrip(req *http.Request) (*http.Response, error) {
	// Mutating methods always go directly to the network, classification
	// notwithstanding.
	if !readMethod(req.Method) {
		return rt.next.RoundTrip(req)
	}
	if Classify(req.URL.Path, rt.bypassPrefixes) == Bypass {
		return rt.next.RoundTrip(req)
	}

	st := rt.stores.Current()
	if st == nil {
		// No generation active yet: fetch live.
		return rt.next.RoundTrip(req)
	}

	key := rt.key(req)

	// Cache lookup always precedes the network fallback.
	if entry, err := st.Get(key); err == nil {
		rt.logger.Debug("cache hit", "method", key.Method, "url", key.URL)
		return entryResponse(entry, req), nil
	}

	resp, err := rt.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		// Never cache error responses.
		return resp, nil
	}

	body, err := io.ReadAll(resp.Body)
	closeErr := resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("unable to read response body: %w", err)
	}
	if closeErr != nil {
		rt.logger.Debug("response body close failed", "err", closeErr)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	entry := &store.Entry{
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: time.Now(),
	}

	// Fire-and-forget: the caller gets the response before the store
	// write is guaranteed to have completed. A crash in between leaves
	// the store un-updated for this key, which self-heals on the next
	// access.
	rt.writes.Add(1)
	go func() {
		defer rt.writes.Done()
		if err := st.Put(key, entry); err != nil {
			rt.logger.Warn("cache populate failed", "url", key.URL, "err", err)
		}
	}()

	return resp, nil
}

// Flush blocks until all in-flight store writes have completed.
func (rt *Router) Flush() {
	rt.writes.Wait()
}

// key derives the store key for a request. Same-origin requests are
// keyed by origin-relative URL so they match install-manifest paths.
func (rt *Router) key(req *http.Request) store.Key {
	u := req.URL.String()
	if req.URL.Host == "" || (rt.originHost != "" && req.URL.Host == rt.originHost) {
		u = req.URL.RequestURI()
	}
	return store.Key{Method: req.Method, URL: u}
}

// readMethod reports whether method is read-only and thus interceptable.
func readMethod(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

// entryResponse synthesizes an http.Response from a stored entry.
func entryResponse(entry *store.Entry, req *http.Request) *http.Response {
	header := entry.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	return &http.Response{
		Status:        http.StatusText(entry.Status),
		StatusCode:    entry.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(entry.Body)),
		ContentLength: int64(len(entry.Body)),
		Request:       req,
	}
}
