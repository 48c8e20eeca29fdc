package runner

import (
	"sync"

	"duplexkit/core"
)

// notifier runs hook calls in posting order on its own goroutine. The session
// loop only queues calls, so a hook may call back into the Runner (Stop,
// Start) without waiting on the loop that is delivering it.
type notifier struct {
	logger *core.Logger

	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}

	drained chan struct{}
}

func newNotifier(logger *core.Logger) *notifier {
	n := &notifier{
		logger:  logger,
		wake:    make(chan struct{}, 1),
		drained: make(chan struct{}),
	}
	go n.run()
	return n
}

// post queues fn. Calls posted after close are dropped.
func (n *notifier) post(fn func()) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.queue = append(n.queue, fn)
	n.mu.Unlock()
	n.signal()
}

// close lets the queue drain and then ends the goroutine.
func (n *notifier) close() {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	n.signal()
}

func (n *notifier) signal() {
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *notifier) run() {
	defer close(n.drained)
	for {
		n.mu.Lock()
		batch := n.queue
		n.queue = nil
		closed := n.closed
		n.mu.Unlock()

		for _, fn := range batch {
			n.call(fn)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-n.wake
	}
}

func (n *notifier) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.With(map[string]interface{}{"panic": r}).Error("session hook panicked")
		}
	}()
	fn()
}
