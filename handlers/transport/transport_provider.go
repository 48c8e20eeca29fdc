package transport

import (
	"context"
)

// Dialer opens sessions against one remote host. Open returns once the
// channel is usable for sending; the host acknowledges the setup later with a
// session.Opened event.
type Dialer interface {
	Open(ctx context.Context, config OpenConfig) (Session, error)
}

type DialerFunc func(ctx context.Context, config OpenConfig) (Session, error)

func (f DialerFunc) Open(ctx context.Context, config OpenConfig) (Session, error) {
	return f(ctx, config)
}
