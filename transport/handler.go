package transport

import "context"

// ClientHandler runs the application side of one accepted connection. It is
// invoked exactly once per connection on a goroutine of its own. The channel
// is closed by the server once OnConnected returns, closing it earlier is
// allowed. ctx is cancelled when the session stops.
type ClientHandler interface {
	OnConnected(ctx context.Context, ch *Channel) error
}

// ClientHandlerFunc adapts a plain function to a ClientHandler.
type ClientHandlerFunc func(ctx context.Context, ch *Channel) error

func (f ClientHandlerFunc) OnConnected(ctx context.Context, ch *Channel) error {
	return f(ctx, ch)
}

// NopHandler returns immediately, so connections are closed as soon as they
// are accepted.
var NopHandler ClientHandler = ClientHandlerFunc(func(context.Context, *Channel) error {
	return nil
})
