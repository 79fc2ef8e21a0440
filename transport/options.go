package transport

import (
	"crypto/tls"
	"time"

	"go.uber.org/zap"
)

const (
	// NoTimeout disables a timeout.
	NoTimeout time.Duration = 0
)

type Options struct {
	// Host to listen on
	Host string

	// Port to listen on. Use 0 to have one assigned, LocalPort reports it once
	// the server is listening.
	Port int

	// AcceptTimeout bounds each wait for a new connection. Expiry is not an
	// error, the accept loop simply waits again.
	AcceptTimeout time.Duration

	// ReadTimeout bounds each individual read on accepted channels.
	ReadTimeout time.Duration

	// Reuseport controls setting SO_REUSEPORT on the listening socket
	Reuseport bool

	// TLSConfig, when set, wraps every accepted connection in a TLS server.
	TLSConfig *tls.Config

	// KeepAlive is the TCP keep-alive period for accepted connections. Zero
	// leaves the operating system default in place.
	KeepAlive time.Duration

	// MaxFrameSize bounds the size of a single received message. Zero means
	// no limit.
	MaxFrameSize int64

	// ChunkSize is the largest chunk written by streaming sends.
	ChunkSize int

	// ConfigFactory replaces the factory built from the fields above.
	ConfigFactory ConfigFactory

	// Handler is invoked once for every accepted connection. Defaults to
	// NopHandler.
	Handler ClientHandler

	ConnectionManagerFactory ConnectionManagerFactory
	ServerExecutorFactory    ServerExecutorFactory

	// Metrics is optional
	Metrics *Metrics

	Log *zap.Logger
}
