package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/luma/coolsocket/protocol"
)

// ServerExecutor runs the accept loop of a session. Serve returns when the
// listener is closed. It must return nil if that happened because ctx was
// cancelled.
type ServerExecutor interface {
	Serve(
		ctx context.Context,
		listener net.Listener,
		factory ConfigFactory,
		conns ConnectionManager,
		handler ClientHandler,
	) error
}

// ServerExecutorFactory creates a ServerExecutor for every new session.
type ServerExecutorFactory func() ServerExecutor

// DefaultServerExecutor accepts connections and runs the handler of each one
// on its own goroutine.
type DefaultServerExecutor struct {
	metrics *Metrics
	log     *zap.Logger
}

func NewServerExecutor(metrics *Metrics, log *zap.Logger) *DefaultServerExecutor {
	if log == nil {
		log = zap.NewNop()
	}

	return &DefaultServerExecutor{metrics: metrics, log: log}
}

func (e *DefaultServerExecutor) Serve(
	ctx context.Context,
	listener net.Listener,
	factory ConfigFactory,
	conns ConnectionManager,
	handler ClientHandler,
) error {
	for {
		if ctx.Err() != nil {
			e.log.Info("Stopped accepting new connections")
			return nil
		}

		if timeout := factory.AcceptTimeout(); timeout > 0 {
			if l, ok := listener.(deadlineListener); ok {
				// A failure here means the listener was closed, Accept reports it
				_ = l.SetDeadline(time.Now().Add(timeout))
			}
		}

		conn, err := listener.Accept()
		if err != nil {
			if protocol.IsTimeout(err) {
				continue
			}

			if ctx.Err() != nil {
				// The listener was closed while we were waiting for new
				// connections, that's fine.
				e.log.Info("Stopped accepting new connections")
				return nil
			}

			e.metrics.acceptFailed()

			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("%w: listener closed unexpectedly: %w", protocol.ErrIO, err)
			}

			return fmt.Errorf("%w: failed to accept: %w", protocol.ErrIO, err)
		}

		ch, err := factory.ConfigureClient(conn)
		if err != nil {
			e.log.Warn("Failed to configure client",
				zap.Stringer("remote", conn.RemoteAddr()),
				zap.Error(err))
			conn.Close()
			continue
		}

		if err := conns.Add(ch); err != nil {
			e.log.Debug("Connection refused by the connection manager",
				zap.Uint64("channel", ch.ID()),
				zap.Error(err))
			continue
		}

		e.metrics.connectionAccepted()

		go e.handle(ctx, conns, handler, ch)
	}
}

func (e *DefaultServerExecutor) handle(ctx context.Context, conns ConnectionManager, handler ClientHandler, ch *Channel) {
	log := e.log.With(
		zap.Uint64("channel", ch.ID()),
		zap.Stringer("remote", ch.RemoteAddr()))

	defer func() {
		if r := recover(); r != nil {
			e.metrics.handlerFailed()
			log.Error("Client handler panicked", zap.Any("panic", r), zap.Stack("stack"))
		}

		conns.Remove(ch)

		if err := ch.Close(); err != nil {
			log.Debug("Channel did not close cleanly", zap.Error(err))
		}
	}()

	if err := handler.OnConnected(ctx, ch); err != nil {
		if ctx.Err() != nil {
			log.Debug("Client handler stopped by shutdown", zap.Error(err))
			return
		}

		e.metrics.handlerFailed()
		log.Warn("Client handler failed", zap.Error(err))
	}
}

var _ ServerExecutor = (*DefaultServerExecutor)(nil)
