package util

import (
	"runtime"
	"sync/atomic"
)

type mailboxNode[T any] struct {
	value T
	next  atomic.Pointer[mailboxNode[T]]
}

// Mailbox is an unbounded lock-free multi-producer single-consumer queue.
//
// Producers call Push from any goroutine. The single consumer waits on Notify and then drains the
// queue with TryPop until it reports empty. This split lets the consumer tell "no more work right
// now" apart from "wait for work", which a plain channel cannot.
//
// Items pushed by one producer are popped in push order. Items of different producers are ordered
// by when their push linked them in.
type Mailbox[T any] struct {
	head    *mailboxNode[T] // consumer owned
	tail    atomic.Pointer[mailboxNode[T]]
	notify  chan struct{}
	closed  atomic.Bool
	pushing atomic.Int64 // producers between the closed check and linking their node
	size    atomic.Int64
}

// NewMailbox creates an empty mailbox.
func NewMailbox[T any]() *Mailbox[T] {
	sentinel := &mailboxNode[T]{}
	m := &Mailbox[T]{
		head:   sentinel,
		notify: make(chan struct{}, 1),
	}
	m.tail.Store(sentinel)
	return m
}

// Push appends v. It returns false if the mailbox was closed, in which case the caller still owns v.
// A true result means the consumer will see v, either through TryPop or through Close's drain.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (m *Mailbox[T]) Push(v T) bool {
	m.pushing.Add(1)
	if m.closed.Load() {
		m.pushing.Add(-1)
		return false
	}
	n := &mailboxNode[T]{value: v}
	prev := m.tail.Swap(n)
	prev.next.Store(n)
	m.size.Add(1)
	m.pushing.Add(-1)

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return true
}

// TryPop removes the oldest item. ok is false if the mailbox is empty. A producer that is between
// linking and publishing its node is treated as not yet pushed; it wakes the consumer afterwards.
//
// Thread-safety: Only the consumer may call this method.
func (m *Mailbox[T]) TryPop() (v T, ok bool) {
	next := m.head.next.Load()
	if next == nil {
		return v, false
	}
	m.head = next
	v = next.value
	var zero T
	next.value = zero // help go gc
	m.size.Add(-1)
	return v, true
}

// Notify returns the channel the consumer waits on. A receive means at least one push happened
// since the previous receive; it does not mean the queue is non-empty.
func (m *Mailbox[T]) Notify() <-chan struct{} {
	return m.notify
}

// Close stops accepting items and returns everything still queued, oldest first. Items pushed
// concurrently with Close are either returned here or rejected by Push, never both and never lost,
// as long as producers that see Push fail handle the item themselves.
//
// Thread-safety: Only the consumer may call this method.
func (m *Mailbox[T]) Close() []T {
	m.closed.Store(true)
	for m.pushing.Load() != 0 {
		runtime.Gosched()
	}
	var rest []T
	for {
		v, ok := m.TryPop()
		if !ok {
			return rest
		}
		rest = append(rest, v)
	}
}

// IsClosed returns true if the mailbox is closed.
func (m *Mailbox[T]) IsClosed() bool {
	return m.closed.Load()
}

// Len returns an approximate number of queued items.
func (m *Mailbox[T]) Len() int {
	return int(m.size.Load())
}
