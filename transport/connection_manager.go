package transport

import (
	"sync"

	"go.uber.org/multierr"
)

// ConnectionManager tracks the channels of one session so they can all be
// closed when the session stops.
//
// Once CloseAll has started, Add refuses new channels and closes them
// instead, so no channel can outlive a completed CloseAll.
type ConnectionManager interface {
	Add(ch *Channel) error
	Remove(ch *Channel)
	CloseAll() error
	Len() int
}

// ConnectionManagerFactory creates a ConnectionManager for every new session.
type ConnectionManagerFactory func() ConnectionManager

type DefaultConnectionManager struct {
	mu       sync.Mutex
	channels map[uint64]*Channel
	closed   bool

	metrics *Metrics
}

func NewConnectionManager(metrics *Metrics) *DefaultConnectionManager {
	return &DefaultConnectionManager{
		channels: make(map[uint64]*Channel),
		metrics:  metrics,
	}
}

func (m *DefaultConnectionManager) Add(ch *Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		ch.Close()
		return ErrManagerClosed
	}

	if _, ok := m.channels[ch.ID()]; !ok {
		m.channels[ch.ID()] = ch
		m.metrics.connectionAdded()
	}

	return nil
}

func (m *DefaultConnectionManager) Remove(ch *Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.channels[ch.ID()]; ok {
		delete(m.channels, ch.ID())
		m.metrics.connectionRemoved()
	}
}

// CloseAll closes every tracked channel. Closing a channel only shuts its
// socket down, so holding the lock across it never waits on a peer.
func (m *DefaultConnectionManager) CloseAll() (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true

	for id, ch := range m.channels {
		err = multierr.Append(err, ch.Close())
		delete(m.channels, id)
		m.metrics.connectionRemoved()
	}

	return err
}

func (m *DefaultConnectionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.channels)
}

var _ ConnectionManager = (*DefaultConnectionManager)(nil)
