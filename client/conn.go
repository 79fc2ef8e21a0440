package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/luma/coolsocket/protocol"
	"github.com/luma/coolsocket/transport"
)

// Dialer opens outbound channels. The zero value connects without any
// timeout, TLS or frame size limit.
type Dialer struct {
	// Timeout bounds establishing the connection, including the TLS
	// handshake. Zero means no timeout.
	Timeout time.Duration

	// ReadTimeout bounds each individual read on the returned channel.
	ReadTimeout time.Duration

	// TLSConfig, when set, wraps the connection in a TLS client.
	TLSConfig *tls.Config

	MaxFrameSize int64
	ChunkSize    int

	Metrics *transport.Metrics
	Log     *zap.Logger
}

// Connect opens a channel to addr. Failures are reported as protocol.ErrIO.
// When the dial timed out or ctx expired they also match protocol.ErrTimeout.
func (d *Dialer) Connect(ctx context.Context, addr string) (*transport.Channel, error) {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}

	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	dialer := net.Dialer{}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, dialError(addr, err)
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		// Frames are written in one go, there is nothing for Nagle to coalesce
		_ = tcpConn.SetNoDelay(true)
	}

	if d.TLSConfig != nil {
		tlsConn := tls.Client(conn, d.TLSConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, dialError(addr, err)
		}
		conn = tlsConn
	}

	ch := transport.NewChannel(conn, transport.ChannelOptions{
		ReadTimeout:  d.ReadTimeout,
		MaxFrameSize: d.MaxFrameSize,
		ChunkSize:    d.ChunkSize,
		Metrics:      d.Metrics,
		Log:          log.Named("conn"),
	})

	log.Debug("Connected",
		zap.String("addr", addr),
		zap.Uint64("channel", ch.ID()))

	return ch, nil
}

// Connect opens a channel to addr, giving up after timeout. A timeout of zero
// waits for as long as the operating system does.
func Connect(addr string, timeout time.Duration) (*transport.Channel, error) {
	d := Dialer{Timeout: timeout}
	return d.Connect(context.Background(), addr)
}

func dialError(addr string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || protocol.IsTimeout(err) {
		return fmt.Errorf("%w: %w: connecting to %s: %w", protocol.ErrIO, protocol.ErrTimeout, addr, err)
	}

	return fmt.Errorf("%w: connecting to %s: %w", protocol.ErrIO, addr, err)
}
