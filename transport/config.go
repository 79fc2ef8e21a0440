package transport

import (
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	reuseport "github.com/kavu/go_reuseport"
	"go.uber.org/zap"

	"github.com/luma/coolsocket/protocol"
)

// ConfigFactory produces the listening socket of a session and turns accepted
// sockets into channels. Settings only apply to sockets and channels created
// after they were changed.
type ConfigFactory interface {
	// CreateListener returns a bound listener that has already been passed
	// through ConfigureListener.
	CreateListener() (net.Listener, error)

	ConfigureListener(listener net.Listener) error

	// ConfigureClient configures an accepted socket and wraps it in a Channel.
	ConfigureClient(conn net.Conn) (*Channel, error)

	BindAddress() string

	// Port returns the configured port, or 0 when the bind address has none.
	Port() int

	AcceptTimeout() time.Duration

	SetAcceptTimeout(timeout time.Duration)
	SetReadTimeout(timeout time.Duration)
	SetBindAddress(addr string)
}

// deadlineListener is implemented by *net.TCPListener and *net.UnixListener.
type deadlineListener interface {
	SetDeadline(t time.Time) error
}

type DefaultConfigFactory struct {
	mu sync.RWMutex

	addr          string
	acceptTimeout time.Duration
	readTimeout   time.Duration

	reuseport    bool
	tlsConfig    *tls.Config
	keepAlive    time.Duration
	maxFrameSize int64
	chunkSize    int

	metrics *Metrics
	log     *zap.Logger
}

// NewConfigFactory builds a factory from the socket related fields of options.
func NewConfigFactory(options Options) *DefaultConfigFactory {
	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	return &DefaultConfigFactory{
		addr:          net.JoinHostPort(options.Host, strconv.Itoa(options.Port)),
		acceptTimeout: options.AcceptTimeout,
		readTimeout:   options.ReadTimeout,
		reuseport:     options.Reuseport,
		tlsConfig:     options.TLSConfig,
		keepAlive:     options.KeepAlive,
		maxFrameSize:  options.MaxFrameSize,
		chunkSize:     options.ChunkSize,
		metrics:       options.Metrics,
		log:           log,
	}
}

func (f *DefaultConfigFactory) CreateListener() (net.Listener, error) {
	addr := f.BindAddress()

	f.mu.RLock()
	useReuseport := f.reuseport
	f.mu.RUnlock()

	var (
		listener net.Listener
		err      error
	)

	if useReuseport {
		listener, err = reuseport.Listen("tcp", addr)
	} else {
		listener, err = net.Listen("tcp", addr)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: failed to listen on %s: %w", protocol.ErrIO, addr, err)
	}

	if err := f.ConfigureListener(listener); err != nil {
		listener.Close()
		return nil, err
	}

	return listener, nil
}

// ConfigureListener checks the listener can honour the accept timeout. The
// timeout itself is armed by the executor before every accept.
func (f *DefaultConfigFactory) ConfigureListener(listener net.Listener) error {
	if f.AcceptTimeout() <= 0 {
		return nil
	}

	if _, ok := listener.(deadlineListener); !ok {
		return fmt.Errorf("%w: %T does not support accept timeouts", protocol.ErrIO, listener)
	}

	return nil
}

func (f *DefaultConfigFactory) ConfigureClient(conn net.Conn) (*Channel, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetNoDelay(true); err != nil {
			return nil, fmt.Errorf("%w: failed to disable nagle: %w", protocol.ErrIO, err)
		}

		if f.keepAlive > 0 {
			if err := tcpConn.SetKeepAlive(true); err != nil {
				return nil, fmt.Errorf("%w: failed to enable keep-alive: %w", protocol.ErrIO, err)
			}

			if err := tcpConn.SetKeepAlivePeriod(f.keepAlive); err != nil {
				return nil, fmt.Errorf("%w: failed to set keep-alive period: %w", protocol.ErrIO, err)
			}
		}
	}

	if f.tlsConfig != nil {
		conn = tls.Server(conn, f.tlsConfig)
	}

	return NewChannel(conn, ChannelOptions{
		ReadTimeout:  f.readTimeout,
		MaxFrameSize: f.maxFrameSize,
		ChunkSize:    f.chunkSize,
		Metrics:      f.metrics,
		Log:          f.log.Named("conn"),
	}), nil
}

func (f *DefaultConfigFactory) BindAddress() string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.addr
}

func (f *DefaultConfigFactory) Port() int {
	_, port, err := net.SplitHostPort(f.BindAddress())
	if err != nil {
		return 0
	}

	n, err := strconv.Atoi(port)
	if err != nil {
		return 0
	}

	return n
}

func (f *DefaultConfigFactory) AcceptTimeout() time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.acceptTimeout
}

func (f *DefaultConfigFactory) ReadTimeout() time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.readTimeout
}

func (f *DefaultConfigFactory) SetAcceptTimeout(timeout time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.acceptTimeout = timeout
}

func (f *DefaultConfigFactory) SetReadTimeout(timeout time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.readTimeout = timeout
}

func (f *DefaultConfigFactory) SetBindAddress(addr string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.addr = addr
}

var _ ConfigFactory = (*DefaultConfigFactory)(nil)
