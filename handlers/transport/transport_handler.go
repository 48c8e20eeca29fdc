// Package transport defines the boundary between the session engine and the
// remote speech-model host.
package transport

import (
	"context"
	"errors"

	"duplexkit/core"
)

// ErrTransportClosed is returned by sends on a closed session. Callers treat
// it as a no-op.
var ErrTransportClosed = errors.New("transport closed")

// Session is one open bidirectional channel to the host.
type Session interface {
	SendAudio(ctx context.Context, frame core.EncodedAudio) error
	SendToolResponse(ctx context.Context, resp core.ToolResponse) error

	// StartReceiving reads until the channel ends or ctx is done, mapping
	// every wire message onto the events in events/session. A remote close
	// is delivered as *session.Closed and a read failure as *session.Error;
	// in both cases StartReceiving returns afterwards. It is called once.
	StartReceiving(ctx context.Context, out chan<- core.IEvent)

	// Close ends the session. It is idempotent.
	Close() error
}

// Deliver posts ev on out unless ctx ends first. It reports whether the event
// was delivered.
func Deliver(ctx context.Context, out chan<- core.IEvent, ev core.IEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// IsClosed reports whether err means the session was already closed.
func IsClosed(err error) bool {
	return errors.Is(err, ErrTransportClosed)
}
