package protocol

import (
	"encoding/binary"
	"io"
	"math"
	"net"
)

const (
	// DefaultChunkSize is the chunk size used by streaming writes when none is
	// configured.
	DefaultChunkSize = 8 * 1024

	maxChunkSize = math.MaxInt32
)

var (
	// Terminal ends a chunked frame.
	Terminal = []byte{0, 0, 0, 0}
)

// WriteFrame writes data as a single frame of known length.
func WriteFrame(w io.Writer, data []byte) error {
	buffers := net.Buffers{EncodeHeader(int64(len(data)))}
	if len(data) > 0 {
		buffers = append(buffers, data)
	}

	return writeBuffers(w, buffers)
}

func WriteString(w io.Writer, s string) error {
	return WriteFrame(w, []byte(s))
}

// WriteChunks writes a frame of unspecified length carrying the
// concatenation of chunks. Empty chunks are skipped.
func WriteChunks(w io.Writer, chunks ...[]byte) error {
	buffers := net.Buffers{EncodeHeader(LengthUnspecified)}

	for _, chunk := range chunks {
		buffers = appendChunk(buffers, chunk)
	}

	return writeBuffers(w, append(buffers, Terminal))
}

// WriteStream copies r into a chunked frame until r reports EOF. Each chunk is
// at most chunkSize bytes.
func WriteStream(w io.Writer, r io.Reader, chunkSize int) error {
	sw := NewStreamWriter(w, chunkSize)

	if _, err := io.Copy(sw, r); err != nil {
		return Classify(err)
	}

	return sw.Close()
}

// EncodeHeader returns the length header of a frame.
func EncodeHeader(length int64) []byte {
	header := make([]byte, HeaderSize)
	binary.BigEndian.PutUint64(header, uint64(length))
	return header
}

// StreamWriter writes one chunked frame. Every call to Write sends its data
// immediately as one or more chunks and Close sends the terminal chunk.
type StreamWriter struct {
	w         io.Writer
	chunkSize int
	started   bool
	closed    bool
}

func NewStreamWriter(w io.Writer, chunkSize int) *StreamWriter {
	if chunkSize <= 0 || chunkSize > maxChunkSize {
		chunkSize = DefaultChunkSize
	}

	return &StreamWriter{w: w, chunkSize: chunkSize}
}

func (s *StreamWriter) Write(p []byte) (int, error) {
	if s.closed {
		return 0, ErrStreamClosed
	}

	var buffers net.Buffers
	if !s.started {
		buffers = append(buffers, EncodeHeader(LengthUnspecified))
	}

	for rest := p; len(rest) > 0; {
		n := min(len(rest), s.chunkSize)
		buffers = appendChunk(buffers, rest[:n])
		rest = rest[n:]
	}

	if len(buffers) == 0 {
		return 0, nil
	}

	if err := writeBuffers(s.w, buffers); err != nil {
		return 0, err
	}

	s.started = true
	return len(p), nil
}

// Close terminates the frame. Closing an already closed StreamWriter is a
// no-op.
func (s *StreamWriter) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	buffers := net.Buffers{Terminal}
	if !s.started {
		buffers = net.Buffers{EncodeHeader(LengthUnspecified), Terminal}
	}

	return writeBuffers(s.w, buffers)
}

func appendChunk(buffers net.Buffers, chunk []byte) net.Buffers {
	for len(chunk) > 0 {
		n := min(len(chunk), maxChunkSize)

		size := make([]byte, ChunkHeaderSize)
		binary.BigEndian.PutUint32(size, uint32(n))

		buffers = append(buffers, size, chunk[:n])
		chunk = chunk[n:]
	}

	return buffers
}

// writeBuffers uses writev when w is a connection and falls back to
// sequential writes otherwise. Either way all bytes are written or an error
// is returned.
func writeBuffers(w io.Writer, buffers net.Buffers) error {
	_, err := buffers.WriteTo(w)
	return Classify(err)
}
