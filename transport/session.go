package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

type State int32

const (
	StateCreated State = iota
	StateStarting
	StateListening
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateListening:
		return "listening"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Session is one run of a server listening for connections. It owns the
// listener and is never reused: once it reaches StateStopped it is discarded.
//
// IsListening is true from the moment the accept loop is ready until the
// listener and every channel have been closed.
type Session struct {
	server   *Server
	listener net.Listener
	factory  ConfigFactory
	conns    ConnectionManager
	executor ServerExecutor
	handler  ClientHandler

	ctx         context.Context
	cancel      context.CancelFunc
	interrupted atomic.Bool

	mu        sync.Mutex
	state     State
	listening bool

	// changed is closed and replaced on every state change
	changed chan struct{}

	closeListenerOnce sync.Once
	done              chan struct{}

	log *zap.Logger
}

func newSession(
	server *Server,
	listener net.Listener,
	conns ConnectionManager,
	executor ServerExecutor,
) *Session {
	ctx, cancel := context.WithCancel(context.Background())

	return &Session{
		server:   server,
		listener: listener,
		factory:  server.factory,
		conns:    conns,
		executor: executor,
		handler:  server.handler,
		ctx:      ctx,
		cancel:   cancel,
		state:    StateCreated,
		changed:  make(chan struct{}),
		done:     make(chan struct{}),
		log:      server.log.Named("session").With(zap.Stringer("addr", listener.Addr())),
	}
}

func (s *Session) start() {
	s.mu.Lock()
	s.state = StateStarting
	s.notifyLocked()
	s.mu.Unlock()

	go s.run()
}

func (s *Session) run() {
	defer close(s.done)
	defer s.exit()

	s.mu.Lock()
	if s.state == StateStarting {
		s.state = StateListening
		s.listening = true
		s.notifyLocked()
	}
	s.mu.Unlock()

	s.log.Info("Listening")

	if err := s.serve(); err != nil && !s.Interrupted() {
		s.log.Error("Server exited with an unexpected error", zap.Error(err))
	}
}

func (s *Session) serve() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("server executor panicked: %v", r)
		}
	}()

	return s.executor.Serve(s.ctx, s.listener, s.factory, s.conns, s.handler)
}

// exit tears everything down however the accept loop ended.
func (s *Session) exit() {
	s.mu.Lock()
	s.state = StateStopping
	s.notifyLocked()
	s.mu.Unlock()

	s.cancel()

	if err := s.conns.CloseAll(); err != nil {
		s.log.Warn("Some connections did not close cleanly", zap.Error(err))
	}

	s.closeListener()
	s.server.detach(s)

	s.mu.Lock()
	s.state = StateStopped
	s.listening = false
	s.notifyLocked()
	s.mu.Unlock()

	s.log.Info("Stopped listening")
}

// Interrupt asks the session to stop: it closes every tracked channel and the
// listener, which unblocks the accept loop. It does not wait for the session
// to reach StateStopped, use Done or WaitUntilStateChange for that.
func (s *Session) Interrupt() {
	s.interrupted.Store(true)
	s.cancel()

	s.mu.Lock()
	if s.state == StateListening {
		s.state = StateStopping
		s.notifyLocked()
	}
	s.mu.Unlock()

	if err := s.conns.CloseAll(); err != nil {
		s.log.Debug("Some connections did not close cleanly", zap.Error(err))
	}

	s.closeListener()
}

func (s *Session) closeListener() {
	s.closeListenerOnce.Do(func() {
		err := s.listener.Close()
		if err != nil && !errors.Is(err, net.ErrClosed) && !s.Interrupted() {
			s.log.Info("The listener was already closed", zap.Error(err))
		}
	})
}

// Interrupted reports whether Interrupt has been called.
func (s *Session) Interrupted() bool {
	return s.interrupted.Load()
}

func (s *Session) IsListening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.listening
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Done is closed once the session reached StateStopped.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *Session) LocalPort() int {
	if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}

	return 0
}

func (s *Session) ConnectionManager() ConnectionManager {
	return s.conns
}

// WaitUntilStateChange blocks until the state changes or timeout elapsed. A
// timeout of zero waits indefinitely. It returns false on timeout. A return
// does not guarantee any particular state, check it again afterwards.
func (s *Session) WaitUntilStateChange(timeout time.Duration) bool {
	s.mu.Lock()
	changed := s.changed
	s.mu.Unlock()

	if timeout <= 0 {
		<-changed
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-changed:
		return true
	case <-timer.C:
		return false
	}
}

// waitUntil blocks until cond holds or timeout elapsed. cond is called with
// s.mu held, so no state change can slip by between checking and waiting.
func (s *Session) waitUntil(cond func() bool, timeout time.Duration) bool {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		s.mu.Lock()
		if cond() {
			s.mu.Unlock()
			return true
		}
		changed := s.changed
		s.mu.Unlock()

		select {
		case <-changed:
		case <-deadline:
			s.mu.Lock()
			defer s.mu.Unlock()
			return cond()
		}
	}
}

func (s *Session) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}
