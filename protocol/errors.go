package protocol

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

var (
	// ErrIO is the kind shared by every failure of the underlying stream.
	ErrIO = errors.New("i/o failure")

	// ErrTimeout is returned when a bounded read elapsed without data. A read
	// timeout is not an ErrIO, the channel stays usable.
	ErrTimeout = errors.New("timed out")

	// ErrDataFormat is returned when a structured view of a Response cannot be
	// decoded.
	ErrDataFormat = errors.New("data format")

	ErrClosed         = fmt.Errorf("%w: connection closed", ErrIO)
	ErrMalformedFrame = fmt.Errorf("%w: malformed frame", ErrIO)
	ErrFrameTooLarge  = fmt.Errorf("%w: frame too large", ErrIO)
	ErrBrokenStream   = fmt.Errorf("%w: stream is no longer framed", ErrIO)
	ErrStreamClosed   = errors.New("stream writer already closed")
)

// Classify maps an error returned by a net.Conn (or any io.Reader/io.Writer)
// onto the error kinds of this package. Errors that already carry a kind are
// returned untouched.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil

	case errors.Is(err, ErrIO), errors.Is(err, ErrTimeout):
		return err

	case IsTimeout(err):
		return fmt.Errorf("%w: %w", ErrTimeout, err)

	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return fmt.Errorf("%w: %w", ErrClosed, err)

	default:
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
}

// IsTimeout reports whether err is a deadline expiry reported by the network
// stack.
func IsTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
