package transport

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/luma/coolsocket/protocol"
)

var channelIDs atomic.Uint64

type ChannelOptions struct {
	// ReadTimeout bounds each individual read, not a whole message.
	ReadTimeout time.Duration

	MaxFrameSize int64
	ChunkSize    int

	Metrics *Metrics
	Log     *zap.Logger
}

// Channel is one connected stream socket speaking the frame protocol.
//
// Sends and receives may happen concurrently and in any order. Close may be
// called from any goroutine at any time, including while a send or receive is
// blocked, which then fails with protocol.ErrClosed.
type Channel struct {
	id uint64

	conn net.Conn

	// raw is the socket under conn. Close shuts it down directly so closing
	// never waits on a protocol exchange such as a TLS close_notify.
	raw net.Conn

	readTimeout atomic.Int64

	readMu sync.Mutex
	reader *protocol.Reader

	writeMu   sync.Mutex
	chunkSize int

	closeOnce sync.Once
	closed    atomic.Bool

	metrics *Metrics
	log     *zap.Logger
}

func NewChannel(conn net.Conn, options ChannelOptions) *Channel {
	c := &Channel{
		id:        channelIDs.Add(1),
		conn:      conn,
		raw:       conn,
		chunkSize: options.ChunkSize,
		metrics:   options.Metrics,
		log:       options.Log,
	}

	if tlsConn, ok := conn.(*tls.Conn); ok {
		c.raw = tlsConn.NetConn()
	}

	if c.log == nil {
		c.log = zap.NewNop()
	}
	c.log = c.log.With(zap.Uint64("channel", c.id))

	c.readTimeout.Store(int64(options.ReadTimeout))
	c.reader = protocol.NewReader(deadlineReader{c}, options.MaxFrameSize)

	return c
}

func (c *Channel) ID() uint64 {
	return c.id
}

func (c *Channel) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Channel) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *Channel) ReadTimeout() time.Duration {
	return time.Duration(c.readTimeout.Load())
}

// SetReadTimeout changes the per-read timeout for subsequent reads. Zero
// blocks indefinitely.
func (c *Channel) SetReadTimeout(timeout time.Duration) {
	c.readTimeout.Store(int64(timeout))
}

// Receive blocks until the next message arrived. It fails with
// protocol.ErrTimeout if a single read stalls for longer than the read
// timeout, after which the channel is still usable.
func (c *Channel) Receive() (*protocol.Response, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if c.closed.Load() {
		return nil, protocol.ErrClosed
	}

	resp, err := c.reader.ReadFrame()
	if err != nil {
		return nil, err
	}

	resp.ChannelID = c.id
	c.metrics.frameReceived(resp.Length)

	return resp, nil
}

// Send writes data as one message and returns once it has been written out
// in full.
func (c *Channel) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return protocol.ErrClosed
	}

	if err := protocol.WriteFrame(c.conn, data); err != nil {
		return err
	}

	c.metrics.frameSent(int64(len(data)))
	return nil
}

func (c *Channel) SendString(s string) error {
	return c.Send([]byte(s))
}

// SendChunks sends one message of unspecified length made of chunks.
func (c *Channel) SendChunks(chunks ...[]byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return protocol.ErrClosed
	}

	if err := protocol.WriteChunks(c.conn, chunks...); err != nil {
		return err
	}

	var n int64
	for _, chunk := range chunks {
		n += int64(len(chunk))
	}

	c.metrics.frameSent(n)
	return nil
}

// SendStream sends everything r yields as one chunked message.
func (c *Channel) SendStream(r io.Reader) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return protocol.ErrClosed
	}

	counter := &countingReader{r: r}
	if err := protocol.WriteStream(c.conn, counter, c.chunkSize); err != nil {
		return err
	}

	c.metrics.frameSent(counter.n)
	return nil
}

// StreamWriter starts a chunked message. Other sends on this channel block
// until the returned writer is closed, so it must always be closed.
func (c *Channel) StreamWriter() (io.WriteCloser, error) {
	c.writeMu.Lock()

	if c.closed.Load() {
		c.writeMu.Unlock()
		return nil, protocol.ErrClosed
	}

	return &channelStream{
		c:  c,
		sw: protocol.NewStreamWriter(c.conn, c.chunkSize),
	}, nil
}

// Close shuts the socket down. It is safe to call concurrently with any
// other method and any number of times.
func (c *Channel) Close() error {
	var err error

	c.closeOnce.Do(func() {
		c.closed.Store(true)

		if cerr := c.raw.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = protocol.Classify(cerr)
		}

		c.log.Debug("Channel closed")
	})

	return err
}

func (c *Channel) Closed() bool {
	return c.closed.Load()
}

// deadlineReader arms the read timeout before every underlying read, so the
// timeout applies per read rather than per message.
type deadlineReader struct {
	c *Channel
}

func (d deadlineReader) Read(p []byte) (int, error) {
	var deadline time.Time
	if timeout := d.c.ReadTimeout(); timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	if err := d.c.conn.SetReadDeadline(deadline); err != nil {
		return 0, err
	}

	return d.c.conn.Read(p)
}

type channelStream struct {
	c      *Channel
	sw     *protocol.StreamWriter
	n      int64
	closed bool
}

func (s *channelStream) Write(p []byte) (int, error) {
	if s.closed {
		return 0, protocol.ErrStreamClosed
	}

	n, err := s.sw.Write(p)
	s.n += int64(n)
	return n, err
}

func (s *channelStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	defer s.c.writeMu.Unlock()

	if err := s.sw.Close(); err != nil {
		return err
	}

	s.c.metrics.frameSent(s.n)
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
