package server

import (
	"net/url"
	"sync"
)

// EndpointServer is the handle routed to by the demultiplexer: a logical
// server reachable under one or more endpoint and discovery URLs.
type EndpointServer interface {
	EndpointURLs() []string
	DiscoveryURLs() []string
	HandleConnection(conn *AcceptedConn) error
}

// EndpointDemultiplexer maps endpoint-URL paths to registered servers, so
// one acceptor can front several logical servers. Registration is
// first-writer-wins per path: an existing binding is never overwritten.
type EndpointDemultiplexer struct {
	mu                 sync.RWMutex
	servers            map[string]EndpointServer
	strictEndpointURLs bool
}

// NewEndpointDemultiplexer returns an empty registry with strict endpoint
// URL matching enabled.
func NewEndpointDemultiplexer() *EndpointDemultiplexer {
	return &EndpointDemultiplexer{
		servers:            make(map[string]EndpointServer),
		strictEndpointURLs: true,
	}
}

// Register binds every endpoint and discovery URL path of srv that is not
// already bound. Repeated registration of the same server is a no-op.
func (d *EndpointDemultiplexer) Register(srv EndpointServer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, u := range srv.EndpointURLs() {
		key := pathOrURL(u)
		if _, ok := d.servers[key]; !ok {
			d.servers[key] = srv
		}
	}
	for _, u := range srv.DiscoveryURLs() {
		key := pathOrURL(u)
		if _, ok := d.servers[key]; !ok {
			d.servers[key] = srv
		}
	}
}

// Unregister removes every path that currently maps to srv. Paths srv lost
// to an earlier registration stay with their owner.
func (d *EndpointDemultiplexer) Unregister(srv EndpointServer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, u := range srv.EndpointURLs() {
		key := pathOrURL(u)
		if d.servers[key] == srv {
			delete(d.servers, key)
		}
	}
	for _, u := range srv.DiscoveryURLs() {
		key := pathOrURL(u)
		if d.servers[key] == srv {
			delete(d.servers, key)
		}
	}
}

// Lookup returns the server registered for the path of endpointURL. When
// strict matching is off and exactly one server is registered, that server
// is returned for any path.
func (d *EndpointDemultiplexer) Lookup(endpointURL string) (EndpointServer, bool) {
	path := pathOrURL(endpointURL)
	d.mu.RLock()
	defer d.mu.RUnlock()
	if srv, ok := d.servers[path]; ok {
		return srv, true
	}
	if d.strictEndpointURLs {
		return nil, false
	}
	var only EndpointServer
	for _, srv := range d.servers {
		if only == nil {
			only = srv
		} else if srv != only {
			return nil, false
		}
	}
	if only == nil {
		return nil, false
	}
	return only, true
}

// SetStrictEndpointURLs controls the single-server fallback: when strict is
// false and only one server is registered, Lookup returns it even when the
// path does not match.
func (d *EndpointDemultiplexer) SetStrictEndpointURLs(strict bool) {
	d.mu.Lock()
	d.strictEndpointURLs = strict
	d.mu.Unlock()
}

// Len returns the number of bound paths.
func (d *EndpointDemultiplexer) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.servers)
}

// pathOrURL extracts the path component of an endpoint URL. A string that
// does not parse as a URL is returned unchanged and used as the key itself.
func pathOrURL(endpointURL string) string {
	u, err := url.Parse(endpointURL)
	if err != nil || u.Host == "" {
		return endpointURL
	}
	return u.Path
}
