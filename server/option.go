package server

import (
	"crypto/rsa"
	"crypto/tls"

	"github.com/opcnet-io/uastack/ua"
)

// Option is a functional option to be applied to a server during
// initialization.
type Option func(*Server) error

// WithCertificate loads the server certificate and key from PEM files.
func WithCertificate(certPath, keyPath string) Option {
	return func(srv *Server) error {
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return err
		}
		priv, ok := cert.PrivateKey.(*rsa.PrivateKey)
		if !ok {
			return ua.BadCertificateInvalid
		}
		srv.localCertificate = cert.Certificate[0]
		srv.localPrivateKey = priv
		return nil
	}
}

// WithCertificateBytes sets the server certificate and key directly.
func WithCertificateBytes(certificate []byte, privateKey *rsa.PrivateKey) Option {
	return func(srv *Server) error {
		srv.localCertificate = certificate
		srv.localPrivateKey = privateKey
		return nil
	}
}

// WithDiscoveryURLs sets the discovery URLs. (default: the endpoint URLs)
func WithDiscoveryURLs(urls []string) Option {
	return func(srv *Server) error {
		srv.discoveryURLs = urls
		return nil
	}
}

// WithTransportLimits sets the limits on the size of the buffers and
// messages. (default: 64Kb, 16Mb, 4096)
func WithTransportLimits(maxBufferSize, maxMessageSize, maxChunkCount uint32) Option {
	return func(srv *Server) error {
		srv.maxBufferSize = maxBufferSize
		srv.maxMessageSize = maxMessageSize
		srv.maxChunkCount = maxChunkCount
		return nil
	}
}

// WithMaxWorkerThreads sets the number of worker threads that may be
// created. (default: 4)
func WithMaxWorkerThreads(value int) Option {
	return func(srv *Server) error {
		srv.maxWorkerThreads = value
		return nil
	}
}

// WithChannelHandler sets the function that runs the channel-open exchange
// for each accepted connection.
func WithChannelHandler(handler ChannelHandler) Option {
	return func(srv *Server) error {
		srv.handler = handler
		return nil
	}
}

// WithTrace logs connection and channel lifecycle events.
func WithTrace() Option {
	return func(srv *Server) error {
		srv.trace = true
		return nil
	}
}
