package write

import (
	"context"
	"sync/atomic"
)

// Result is the outcome of a successfully applied command.
type Result struct {
	// Index is the log index the command was applied at.
	Index uint64
}

// ResponseChannel completes a single client request. It is created by the client, handed to the
// partition with the request and then held by whatever part of the pipeline currently owns the
// request. Exactly one of ReportSuccess or ReportError takes effect, later calls are ignored.
type ResponseChannel struct {
	completed atomic.Bool
	proposed  atomic.Bool
	committed atomic.Bool

	proposedC  chan struct{}
	committedC chan struct{}
	doneC      chan struct{}

	result Result
	err    error
}

func NewResponseChannel() *ResponseChannel {
	return &ResponseChannel{
		proposedC:  make(chan struct{}),
		committedC: make(chan struct{}),
		doneC:      make(chan struct{}),
	}
}

// NotifyProposed signals that the command was accepted by the log. Repeated calls are ignored.
func (ch *ResponseChannel) NotifyProposed() {
	if ch.proposed.CompareAndSwap(false, true) {
		close(ch.proposedC)
	}
}

// NotifyCommitted signals that the command was committed. It implies NotifyProposed.
func (ch *ResponseChannel) NotifyCommitted() {
	ch.NotifyProposed()
	if ch.committed.CompareAndSwap(false, true) {
		close(ch.committedC)
	}
}

// ReportSuccess completes the request. It returns false if the request was already completed.
func (ch *ResponseChannel) ReportSuccess(res Result) bool {
	if !ch.completed.CompareAndSwap(false, true) {
		return false
	}
	ch.result = res
	close(ch.doneC)
	return true
}

// ReportError completes the request with err. It returns false if the request was already completed.
func (ch *ResponseChannel) ReportError(err error) bool {
	if !ch.completed.CompareAndSwap(false, true) {
		return false
	}
	ch.err = err
	close(ch.doneC)
	return true
}

// Completed reports whether a terminal outcome was recorded.
func (ch *ResponseChannel) Completed() bool {
	return ch.completed.Load()
}

// Proposed is closed once the command was proposed.
func (ch *ResponseChannel) Proposed() <-chan struct{} {
	return ch.proposedC
}

// Committed is closed once the command was committed.
func (ch *ResponseChannel) Committed() <-chan struct{} {
	return ch.committedC
}

// Done is closed once the request is completed.
func (ch *ResponseChannel) Done() <-chan struct{} {
	return ch.doneC
}

// Wait blocks until the request is completed or ctx is done.
func (ch *ResponseChannel) Wait(ctx context.Context) (Result, error) {
	select {
	case <-ch.doneC:
		return ch.result, ch.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
