// Package tools multiplexes tool invocations requested by the remote host
// over the open session and guarantees one response per invocation id.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"duplexkit/core"
	"duplexkit/metrics"
)

var (
	// ErrTimeout is reported to the host when an invocation exceeds the
	// configured deadline.
	ErrTimeout = errors.New("tool invocation timed out")
	// ErrNotRegistered is reported when no executor handles the tool name.
	ErrNotRegistered = errors.New("tool is not registered")
)

type Status int

const (
	StatusDispatched Status = iota
	StatusResolved
	StatusErrored
)

func (s Status) String() string {
	switch s {
	case StatusDispatched:
		return "dispatched"
	case StatusResolved:
		return "resolved"
	case StatusErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// RespondFunc completes an invocation. Exactly one call per id has effect;
// later calls, calls for unknown ids and calls after the router closed are
// ignored.
type RespondFunc func(id, name string, result map[string]any, err error)

// Handler runs one invocation and eventually calls respond. It runs on its
// own goroutine and may block.
type Handler func(call core.FunctionCall, respond RespondFunc)

// SendFunc writes a response to the transport.
type SendFunc func(resp core.ToolResponse) error

type invocation struct {
	call      core.FunctionCall
	status    Status
	startedAt time.Time
	timer     *time.Timer
}

// Router keeps the correlation table from invocation id to status. Every
// dispatched call is resolved exactly once: by the handler's respond, by a
// panic in the handler, or by the timeout.
type Router struct {
	send    SendFunc
	handler Handler
	timeout time.Duration
	logger  *core.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	table  map[string]*invocation
	closed bool
	wg     sync.WaitGroup
}

func NewRouter(send SendFunc, handler Handler, config ToolsConfig, logger *core.Logger, m *metrics.Metrics) *Router {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Router{
		send:    send,
		handler: handler,
		timeout: config.Timeout(),
		logger:  logger.With(map[string]interface{}{"component": "tools"}),
		metrics: m,
		table:   make(map[string]*invocation),
	}
}

// Dispatch starts every call concurrently and returns immediately. Calls
// whose id was already seen are ignored.
func (r *Router) Dispatch(calls []core.FunctionCall) {
	for _, call := range calls {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			r.logger.With(map[string]interface{}{"tool_id": call.ID, "tool": call.Name}).Debug("ignoring tool call after close")
			return
		}
		if call.ID == "" {
			r.mu.Unlock()
			r.logger.With(map[string]interface{}{"tool": call.Name}).Warn("ignoring tool call without id")
			continue
		}
		if _, seen := r.table[call.ID]; seen {
			r.mu.Unlock()
			r.logger.With(map[string]interface{}{"tool_id": call.ID, "tool": call.Name}).Warn("ignoring duplicate tool call id")
			continue
		}
		inv := &invocation{call: call, status: StatusDispatched, startedAt: time.Now()}
		r.table[call.ID] = inv
		if r.timeout > 0 {
			id, name := call.ID, call.Name
			inv.timer = time.AfterFunc(r.timeout, func() {
				r.resolve(id, name, nil, ErrTimeout, "timeout")
			})
		}
		r.wg.Add(1)
		r.mu.Unlock()

		r.logger.With(map[string]interface{}{"tool_id": call.ID, "tool": call.Name}).Debug("dispatching tool call")
		go r.run(call)
	}
}

func (r *Router) run(call core.FunctionCall) {
	defer r.wg.Done()
	defer func() {
		if rec := recover(); rec != nil {
			r.resolve(call.ID, call.Name, nil, fmt.Errorf("tool invocation panicked: %v", rec), "panic")
		}
	}()

	if r.handler == nil {
		r.resolve(call.ID, call.Name, nil, fmt.Errorf("%w: %q", ErrNotRegistered, call.Name), "error")
		return
	}
	r.handler(call, r.Respond)
}

// Respond is the RespondFunc handed to handlers.
func (r *Router) Respond(id, name string, result map[string]any, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.resolve(id, name, result, err, outcome)
}

func (r *Router) resolve(id, name string, result map[string]any, err error, outcome string) {
	r.mu.Lock()
	inv, ok := r.table[id]
	if !ok || inv.status != StatusDispatched || r.closed {
		r.mu.Unlock()
		r.logger.With(map[string]interface{}{"tool_id": id, "known": ok}).Debug("discarding tool result")
		return
	}
	if err != nil {
		inv.status = StatusErrored
	} else {
		inv.status = StatusResolved
	}
	if inv.timer != nil {
		inv.timer.Stop()
	}
	if name == "" {
		name = inv.call.Name
	}
	elapsed := time.Since(inv.startedAt)
	r.mu.Unlock()

	resp := core.ToolResponse{ID: id, Name: name, Result: result}
	if err != nil {
		resp.Result = nil
		resp.Error = err.Error()
		r.logger.With(map[string]interface{}{"tool_id": id, "tool": name, "error": err}).Warn("tool invocation failed")
	}
	r.metrics.RecordToolInvocation(outcome, elapsed)

	if r.send == nil {
		return
	}
	if sendErr := r.send(resp); sendErr != nil {
		r.logger.With(map[string]interface{}{"tool_id": id, "error": sendErr}).Warn("failed to send tool response")
	}
}

// Status returns the state of an invocation.
func (r *Router) Status(id string) (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.table[id]
	if !ok {
		return 0, false
	}
	return inv.status, true
}

// Pending returns the number of invocations not yet resolved.
func (r *Router) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, inv := range r.table {
		if inv.status == StatusDispatched {
			n++
		}
	}
	return n
}

// Close stops accepting calls and discards every result that arrives later.
// Running handlers are not interrupted.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for id, inv := range r.table {
		if inv.timer != nil {
			inv.timer.Stop()
		}
		if inv.status == StatusDispatched {
			r.logger.With(map[string]interface{}{"tool_id": id, "tool": inv.call.Name}).Debug("abandoning in-flight tool call")
		}
	}
}

// Wait blocks until every handler goroutine has returned or ctx is done.
func (r *Router) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
