package transport

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/luma/coolsocket/protocol"
)

// Server listens for connections and hands each one to its ClientHandler.
//
// A Server runs at most one Session at a time. The current session is only
// ever set by StartAsync and cleared by the session itself as it exits.
type Server struct {
	factory              ConfigFactory
	handler              ClientHandler
	newConnectionManager ConnectionManagerFactory
	newServerExecutor    ServerExecutorFactory

	metrics *Metrics
	log     *zap.Logger

	mu      sync.Mutex
	session *Session
}

func NewServer(options Options) *Server {
	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}
	options.Log = log

	s := &Server{
		factory:              options.ConfigFactory,
		handler:              options.Handler,
		newConnectionManager: options.ConnectionManagerFactory,
		newServerExecutor:    options.ServerExecutorFactory,
		metrics:              options.Metrics,
		log:                  log,
	}

	if s.factory == nil {
		s.factory = NewConfigFactory(options)
	}

	if s.handler == nil {
		s.handler = NopHandler
	}

	if s.newConnectionManager == nil {
		s.newConnectionManager = func() ConnectionManager {
			return NewConnectionManager(options.Metrics)
		}
	}

	if s.newServerExecutor == nil {
		s.newServerExecutor = func() ServerExecutor {
			return NewServerExecutor(options.Metrics, log.Named("executor"))
		}
	}

	return s
}

// StartAsync starts a new session without waiting for it to listen.
func (s *Server) StartAsync() (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil {
		return nil, ErrAlreadyListening
	}

	conns := s.newConnectionManager()

	listener, err := s.factory.CreateListener()
	if err != nil {
		return nil, protocol.Classify(err)
	}

	session := newSession(s, listener, conns, s.newServerExecutor())
	s.session = session
	s.metrics.sessionStarted()

	session.start()

	return session, nil
}

// Start starts a new session and waits up to timeout for it to listen. A
// timeout of zero waits indefinitely. If the session does not listen in time
// it is interrupted and ErrStartFailed is returned.
func (s *Server) Start(timeout time.Duration) error {
	if timeout < 0 {
		return ErrNegativeTimeout
	}

	session, err := s.StartAsync()
	if err != nil {
		return err
	}

	session.waitUntil(func() bool {
		return session.listening || session.state == StateStopped
	}, timeout)

	if !session.IsListening() {
		session.Interrupt()
		return ErrStartFailed
	}

	s.log.Info("Server started", zap.Stringer("addr", session.Addr()))
	return nil
}

// StopAsync interrupts the listening session and returns it without waiting
// for it to stop.
func (s *Server) StopAsync() (*Session, error) {
	session := s.Session()

	if session == nil || !session.IsListening() {
		return nil, ErrNotListening
	}

	session.Interrupt()
	return session, nil
}

// Stop interrupts the listening session, closing every connection without
// notice, and waits up to timeout for it to stop. A timeout of zero waits
// indefinitely.
func (s *Server) Stop(timeout time.Duration) error {
	if timeout < 0 {
		return ErrNegativeTimeout
	}

	session, err := s.StopAsync()
	if err != nil {
		return err
	}

	session.waitUntil(func() bool {
		return !session.listening
	}, timeout)

	if session.IsListening() {
		return ErrStopFailed
	}

	s.log.Info("Server stopped")
	return nil
}

// StopBestEffort stops the listening session and waits for it to stop. It
// only fails when there is nothing to stop: i/o failures during shutdown are
// logged and otherwise ignored.
func (s *Server) StopBestEffort() error {
	err := s.Stop(NoTimeout)
	if err != nil && errors.Is(err, protocol.ErrIO) {
		s.log.Debug("Ignoring failure to stop", zap.Error(err))
		return nil
	}

	return err
}

// Restart stops the listening session and starts a new one, waiting up to
// timeout for each.
func (s *Server) Restart(timeout time.Duration) error {
	if timeout < 0 {
		return ErrNegativeTimeout
	}

	if err := s.Stop(timeout); err != nil {
		return err
	}

	return s.Start(timeout)
}

// Session returns the active session, or nil if there is none.
func (s *Server) Session() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.session
}

// InSession reports whether a session exists and has not exited yet.
func (s *Server) InSession() bool {
	return s.Session() != nil
}

func (s *Server) IsListening() bool {
	session := s.Session()
	return session != nil && session.IsListening()
}

// LocalPort returns the port the server is listening on, or the configured
// port when there is no session.
func (s *Server) LocalPort() int {
	if session := s.Session(); session != nil {
		return session.LocalPort()
	}

	return s.factory.Port()
}

func (s *Server) ConfigFactory() ConfigFactory {
	return s.factory
}

func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// detach clears the current session if it is still session.
func (s *Server) detach(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == session {
		s.session = nil
	}
}
