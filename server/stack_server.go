package server

import (
	"crypto/rsa"
	"log"
	mathrand "math/rand"
	"sync"
	"sync/atomic"

	"github.com/gammazero/workerpool"
	"github.com/opcnet-io/uastack/ua"
)

const (
	defaultMaxBufferSize  uint32 = 64 * 1024
	defaultMaxMessageSize uint32 = 16 * 1024 * 1024
	defaultMaxChunkCount  uint32 = 4096
	// the default number of worker threads that may be created.
	defaultMaxWorkerThreads int = 4
)

// ChannelHandler runs the channel-open exchange for an accepted connection.
// It is the collaborator boundary of this stack: request dispatch above the
// channel belongs to it, not to the server.
type ChannelHandler func(ch *SecureChannel, hello *Hello) error

// Server is one logical OPC UA server behind an acceptor: a set of endpoint
// and discovery URLs, the certificate identity, and the live channels opened
// against it. Channel-open work runs on a bounded worker pool so asymmetric
// crypto stays off the accept path.
type Server struct {
	sync.RWMutex
	applicationName  string
	endpointURLs     []string
	discoveryURLs    []string
	localCertificate []byte
	localPrivateKey  *rsa.PrivateKey
	maxBufferSize    uint32
	maxMessageSize   uint32
	maxChunkCount    uint32
	maxWorkerThreads int
	handler          ChannelHandler
	trace            bool
	workerpool       *workerpool.WorkerPool
	channelManager   *ChannelManager
	closing          chan struct{}
	closed           bool
	lastChannelID    uint32
}

// New initializes a Server serving the given endpoint URLs.
func New(applicationName string, endpointURLs []string, options ...Option) (*Server, error) {
	srv := &Server{
		applicationName:  applicationName,
		endpointURLs:     endpointURLs,
		discoveryURLs:    endpointURLs,
		maxBufferSize:    defaultMaxBufferSize,
		maxMessageSize:   defaultMaxMessageSize,
		maxChunkCount:    defaultMaxChunkCount,
		maxWorkerThreads: defaultMaxWorkerThreads,
		closing:          make(chan struct{}),
		lastChannelID:    mathrand.Uint32(),
	}
	for _, opt := range options {
		if err := opt(srv); err != nil {
			return nil, err
		}
	}
	srv.workerpool = workerpool.New(srv.maxWorkerThreads)
	srv.channelManager = NewChannelManager(srv.closing)
	return srv, nil
}

// ApplicationName returns the server name used in logs.
func (srv *Server) ApplicationName() string {
	return srv.applicationName
}

// EndpointURLs returns the endpoint URLs this server answers for.
func (srv *Server) EndpointURLs() []string {
	return srv.endpointURLs
}

// DiscoveryURLs returns the discovery URLs this server answers for.
func (srv *Server) DiscoveryURLs() []string {
	return srv.discoveryURLs
}

// LocalCertificate returns the DER bytes of the server certificate.
func (srv *Server) LocalCertificate() []byte {
	return srv.localCertificate
}

// LocalPrivateKey returns the server's RSA key.
func (srv *Server) LocalPrivateKey() *rsa.PrivateKey {
	return srv.localPrivateKey
}

// ChannelManager returns the registry of live channels.
func (srv *Server) ChannelManager() *ChannelManager {
	return srv.channelManager
}

// Closing is closed when the server begins shutting down.
func (srv *Server) Closing() <-chan struct{} {
	return srv.closing
}

// HandleConnection answers the Hello with an Acknowledge, builds the secure
// channel with the negotiated limits and hands it to the channel handler on
// the worker pool.
func (srv *Server) HandleConnection(c *AcceptedConn) error {
	srv.RLock()
	if srv.closed {
		srv.RUnlock()
		writeErrorFrame(c.Conn, ua.BadServerHalted, "")
		c.Conn.Close()
		return ua.BadServerHalted
	}
	srv.RUnlock()

	if c.Hello.ProtocolVersion < protocolVersion {
		writeErrorFrame(c.Conn, ua.BadProtocolVersionUnsupported, "")
		c.Conn.Close()
		return ua.BadProtocolVersionUnsupported
	}

	parameters := srv.negotiateParameters(c.Hello)
	ch := NewSecureChannel(srv.nextChannelID(), parameters, c.Conn)
	ch.localCertificate = srv.localCertificate
	ch.localPrivateKey = srv.localPrivateKey
	srv.channelManager.Add(ch)

	if err := writeAck(c.Conn, parameters); err != nil {
		srv.channelManager.Delete(ch)
		c.Conn.Close()
		return ua.BadCommunicationError
	}

	if srv.trace {
		log.Printf("connection %s: channel %d open for %q\n", c.ID, ch.ChannelID(), c.Hello.EndpointURL)
	}

	handler := srv.handler
	if handler == nil {
		return nil
	}
	srv.workerpool.Submit(func() {
		if err := handler(ch, c.Hello); err != nil {
			if srv.trace {
				log.Printf("connection %s: channel %d closed: %s\n", c.ID, ch.ChannelID(), err)
			}
			ch.Close()
			srv.channelManager.Delete(ch)
		}
	})
	return nil
}

// negotiateParameters limits each direction to what the peer can handle.
func (srv *Server) negotiateParameters(hello *Hello) ChannelParameters {
	p := ChannelParameters{
		LocalReceiveBufferSize:  srv.maxBufferSize,
		LocalSendBufferSize:     srv.maxBufferSize,
		LocalMaxMessageSize:     srv.maxMessageSize,
		LocalMaxChunkCount:      srv.maxChunkCount,
		RemoteReceiveBufferSize: hello.ReceiveBufferSize,
		RemoteSendBufferSize:    hello.SendBufferSize,
		RemoteMaxMessageSize:    hello.MaxMessageSize,
		RemoteMaxChunkCount:     hello.MaxChunkCount,
	}
	// limit the receive buffer to what the sender can send
	if p.LocalReceiveBufferSize > hello.SendBufferSize {
		p.LocalReceiveBufferSize = hello.SendBufferSize
	}
	// limit the send buffer to what the receiver can receive
	if p.LocalSendBufferSize > hello.ReceiveBufferSize {
		p.LocalSendBufferSize = hello.ReceiveBufferSize
	}
	// limit the max message size to what the receiver can receive
	if hello.MaxMessageSize > 0 && p.LocalMaxMessageSize > hello.MaxMessageSize {
		p.LocalMaxMessageSize = hello.MaxMessageSize
	}
	// limit the max chunk count to what the receiver can receive
	if hello.MaxChunkCount > 0 && p.LocalMaxChunkCount > hello.MaxChunkCount {
		p.LocalMaxChunkCount = hello.MaxChunkCount
	}
	return p
}

func (srv *Server) nextChannelID() uint32 {
	return atomic.AddUint32(&srv.lastChannelID, 1)
}

// Close shuts the server down: all channels close and the worker pool
// drains.
func (srv *Server) Close() error {
	srv.Lock()
	if srv.closed {
		srv.Unlock()
		return ua.BadServerHalted
	}
	srv.closed = true
	srv.Unlock()
	close(srv.closing)
	srv.workerpool.StopWait()
	return nil
}
