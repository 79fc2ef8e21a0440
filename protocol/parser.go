package protocol

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"slices"
)

const (
	// LengthUnspecified marks a frame whose payload follows as chunks.
	LengthUnspecified int64 = -1

	// HeaderSize is the size of the length header that starts every frame.
	HeaderSize = 8

	// ChunkHeaderSize is the size of the length prefix of every chunk.
	ChunkHeaderSize = 4

	readBufferSize = 16 * 1024

	// Payloads are allocated in steps so a bogus length header cannot make us
	// allocate memory the peer never sends.
	allocStep = 1 << 20
)

// Reader reads frames from a stream.
//
// A Reader is not safe for concurrent use. To avoid denial of service attacks
// set maxSize to bound the size of a single message.
type Reader struct {
	r       *bufio.Reader
	maxSize int64

	// err is sticky once the stream lost its framing
	err error
}

// NewReader returns a Reader that refuses messages larger than maxSize bytes.
// A maxSize of zero means no limit.
func NewReader(r io.Reader, maxSize int64) *Reader {
	return &Reader{
		r:       bufio.NewReaderSize(r, readBufferSize),
		maxSize: maxSize,
	}
}

// ReadFrame blocks until a whole frame has been received and returns it as a
// Response.
//
// Each read on the underlying reader is bounded by whatever deadline that
// reader applies, so a timeout that happens before the first header byte
// arrives leaves the Reader usable. A failure after a frame has started
// poisons it.
func (r *Reader) ReadFrame() (*Response, error) {
	if r.err != nil {
		return nil, r.err
	}

	var header [HeaderSize]byte
	n, err := io.ReadFull(r.r, header[:])
	if err != nil {
		return nil, r.fail(n > 0, err)
	}

	length := int64(binary.BigEndian.Uint64(header[:]))

	switch {
	case length == LengthUnspecified:
		return r.readChunked()

	case length < 0:
		return nil, r.poison(fmt.Errorf("%w: invalid length %d", ErrMalformedFrame, length))

	case r.maxSize > 0 && length > r.maxSize:
		return nil, r.poison(fmt.Errorf("%w: %d bytes exceeds the limit of %d",
			ErrFrameTooLarge, length, r.maxSize))
	}

	data, err := r.readPayload(make([]byte, 0, min(length, allocStep)), length)
	if err != nil {
		return nil, r.fail(true, err)
	}

	return NewResponse(data, false), nil
}

func (r *Reader) readChunked() (*Response, error) {
	var (
		size [ChunkHeaderSize]byte
		data = []byte{}
	)

	for {
		if _, err := io.ReadFull(r.r, size[:]); err != nil {
			return nil, r.fail(true, err)
		}

		n := int64(binary.BigEndian.Uint32(size[:]))
		if n == 0 {
			// Terminal chunk
			break
		}

		if r.maxSize > 0 && int64(len(data))+n > r.maxSize {
			return nil, r.poison(fmt.Errorf("%w: chunked payload exceeds the limit of %d",
				ErrFrameTooLarge, r.maxSize))
		}

		var err error
		if data, err = r.readPayload(data, n); err != nil {
			return nil, r.fail(true, err)
		}
	}

	return NewResponse(data, true), nil
}

// readPayload appends exactly n bytes to buf. Partial reads are accumulated by
// io.ReadFull, only a read that yields nothing ends it early.
func (r *Reader) readPayload(buf []byte, n int64) ([]byte, error) {
	for n > 0 {
		step := int(min(n, allocStep))
		start := len(buf)

		buf = slices.Grow(buf, step)[:start+step]
		if _, err := io.ReadFull(r.r, buf[start:]); err != nil {
			return nil, err
		}

		n -= int64(step)
	}

	return buf, nil
}

func (r *Reader) fail(started bool, err error) error {
	err = Classify(err)

	if started {
		r.err = fmt.Errorf("%w: %w", ErrBrokenStream, err)
	}

	return err
}

func (r *Reader) poison(err error) error {
	r.err = fmt.Errorf("%w: %w", ErrBrokenStream, err)
	return err
}

// Broken reports whether the stream lost its framing.
func (r *Reader) Broken() bool {
	return r.err != nil
}

// ReadFrame reads a single frame from data. Use a Reader when reading more
// than one frame from the same stream, as this buffers ahead.
func ReadFrame(data io.Reader, maxSize int64) (*Response, error) {
	return NewReader(data, maxSize).ReadFrame()
}
