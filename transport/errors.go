package transport

import (
	"errors"
	"fmt"

	"github.com/luma/coolsocket/protocol"
)

var (
	// ErrInvalidState is returned when an operation is attempted outside the
	// lifecycle phase it requires.
	ErrInvalidState = errors.New("invalid state")

	ErrAlreadyListening = fmt.Errorf("%w: the server is already running", ErrInvalidState)
	ErrNotListening     = fmt.Errorf("%w: the server is not running or has not started yet", ErrInvalidState)
	ErrNegativeTimeout  = fmt.Errorf("%w: timeout must not be negative", ErrInvalidState)
	ErrManagerClosed    = fmt.Errorf("%w: connection manager is closed", ErrInvalidState)

	ErrStartFailed = fmt.Errorf("%w: the server could not start listening", protocol.ErrIO)
	ErrStopFailed  = fmt.Errorf("%w: the server could not stop listening", protocol.ErrIO)
)
