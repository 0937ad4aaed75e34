package server

import (
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opcnet-io/uastack/ua"
)

// AcceptedConn is a connection that finished the Hello exchange: the raw
// transport, the parsed Hello and an id for log correlation.
type AcceptedConn struct {
	ID    string
	Conn  net.Conn
	Hello *Hello
}

// SocketAcceptor listens for OPC UA TCP connections and routes each one, by
// the endpoint URL of its Hello frame, to the registered server that serves
// that endpoint. The acceptor owns its registry: there is no process-wide
// socket map.
type SocketAcceptor struct {
	mu       sync.Mutex
	address  string
	demux    *EndpointDemultiplexer
	ln       net.Listener
	closing  chan struct{}
	closed   bool
	trace    bool
	serverWG sync.WaitGroup
}

// NewSocketAcceptor initializes an acceptor bound to address
// (host:port) when ListenAndServe is called.
func NewSocketAcceptor(address string, options ...AcceptorOption) *SocketAcceptor {
	a := &SocketAcceptor{
		address: address,
		demux:   NewEndpointDemultiplexer(),
		closing: make(chan struct{}),
	}
	for _, opt := range options {
		opt(a)
	}
	return a
}

// AcceptorOption is a functional option applied to an acceptor.
type AcceptorOption func(*SocketAcceptor)

// WithStrictEndpointURLs controls whether a lookup miss may fall back to the
// only registered server. (default: strict)
func WithStrictEndpointURLs(strict bool) AcceptorOption {
	return func(a *SocketAcceptor) {
		a.demux.SetStrictEndpointURLs(strict)
	}
}

// WithAcceptorTrace logs accepted connections and routing decisions.
func WithAcceptorTrace() AcceptorOption {
	return func(a *SocketAcceptor) {
		a.trace = true
	}
}

// Register adds srv to the endpoint registry.
func (a *SocketAcceptor) Register(srv EndpointServer) {
	a.demux.Register(srv)
}

// Unregister removes srv from the endpoint registry.
func (a *SocketAcceptor) Unregister(srv EndpointServer) {
	a.demux.Unregister(srv)
}

// Demultiplexer returns the endpoint registry.
func (a *SocketAcceptor) Demultiplexer() *EndpointDemultiplexer {
	return a.demux
}

// Addr returns the bound address, or nil before ListenAndServe.
func (a *SocketAcceptor) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ln == nil {
		return nil
	}
	return a.ln.Addr()
}

// ListenAndServe accepts connections until Shutdown. It always returns a
// non-nil error; after Shutdown the error is BadServerHalted.
func (a *SocketAcceptor) ListenAndServe() error {
	ln, err := net.Listen("tcp", a.address)
	if err != nil {
		return ua.BadResourceUnavailable
	}
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		ln.Close()
		return ua.BadServerHalted
	}
	a.ln = ln
	a.mu.Unlock()

	go func() {
		<-a.closing
		ln.Close()
	}()

	err = a.serve(ln)
	a.serverWG.Wait()
	return err
}

func (a *SocketAcceptor) serve(ln net.Listener) error {
	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-a.closing:
				return ua.BadServerHalted
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if delay == 0 {
					delay = 5 * time.Millisecond
				} else {
					delay *= 2
				}
				if max := 1 * time.Second; delay > max {
					delay = max
				}
				time.Sleep(delay)
				continue
			}
			return ua.BadTCPInternalError
		}
		delay = 0
		a.serverWG.Add(1)
		go a.handleConnection(conn)
	}
}

// handleConnection runs the Hello exchange and routes the connection. A
// miss closes the connection with Bad_TcpEndpointUrlInvalid.
func (a *SocketAcceptor) handleConnection(conn net.Conn) {
	defer a.serverWG.Done()
	id := uuid.NewString()

	buf := *(bytesPool.Get().(*[]byte))
	defer bytesPool.Put(&buf)
	hello, err := readHello(conn, buf)
	if err != nil {
		if code, ok := err.(ua.StatusCode); ok {
			writeErrorFrame(conn, code, "")
		}
		conn.Close()
		return
	}

	srv, ok := a.demux.Lookup(hello.EndpointURL)
	if !ok {
		if a.trace {
			log.Printf("connection %s: no server for endpoint %q\n", id, hello.EndpointURL)
		}
		writeErrorFrame(conn, ua.BadTCPEndpointURLInvalid, "")
		conn.Close()
		return
	}
	if a.trace {
		log.Printf("connection %s: %s -> %q\n", id, conn.RemoteAddr(), hello.EndpointURL)
	}
	srv.HandleConnection(&AcceptedConn{ID: id, Conn: conn, Hello: hello})
}

// Shutdown stops accepting and unblocks ListenAndServe.
func (a *SocketAcceptor) Shutdown() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	close(a.closing)
}
