// Package rpc implements a single-producer-multi-caller, single-consumer
// request/reply primitive: a handle that callers use to ask questions, and
// a receiver, owned by exactly one task, that answers them one at a time.
package rpc

import "errors"

// bufSize is the inbound message channel capacity.
const bufSize = 4

var (
	// ErrReceiverClosed is returned from Call when the receiver has shut down.
	ErrReceiverClosed = errors.New("rpc: receiver closed")
	// ErrSenderClosed is returned from ReplyOnce/TryReplyOnce once the
	// receiver has been closed.
	ErrSenderClosed = errors.New("rpc: sender closed")
	// ErrEmpty is returned from TryReplyOnce when no message is pending.
	ErrEmpty = errors.New("rpc: empty")
)

type message[Q any, A any] struct {
	question Q
	reply    chan A
}

// Handle is the caller side of an Rpc pair. It is safe to copy and share
// across goroutines; every copy shares the same inbound channel.
type Handle[Q any, A any] struct {
	ch   chan message[Q, A]
	done <-chan struct{}
}

// Receiver is the owner side of an Rpc pair. It must be used by exactly one
// goroutine at a time.
type Receiver[Q any, A any] struct {
	ch   chan message[Q, A]
	done chan struct{}
}

// New constructs a linked Handle/Receiver pair.
func New[Q any, A any]() (Handle[Q, A], *Receiver[Q, A]) {
	ch := make(chan message[Q, A], bufSize)
	done := make(chan struct{})
	return Handle[Q, A]{ch: ch, done: done}, &Receiver[Q, A]{ch: ch, done: done}
}

// Call sends q to the receiver and suspends until it replies. It fails with
// ErrReceiverClosed if the receiver has shut down before the question could
// be delivered or answered.
func (h Handle[Q, A]) Call(q Q) (A, error) {
	var zero A
	reply := make(chan A, 1)
	select {
	case h.ch <- message[Q, A]{question: q, reply: reply}:
	case <-h.done:
		return zero, ErrReceiverClosed
	}
	select {
	case a := <-reply:
		return a, nil
	case <-h.done:
		return zero, ErrReceiverClosed
	}
}

// ReplyOnce blocks until one message is available, invokes f synchronously
// under the receiver's exclusive ownership, and delivers the result.
func (r *Receiver[Q, A]) ReplyOnce(f func(Q) A) error {
	select {
	case m := <-r.ch:
		m.reply <- f(m.question)
		return nil
	case <-r.done:
		return ErrSenderClosed
	}
}

// TryReplyOnce is the non-blocking variant of ReplyOnce. It fails with
// ErrEmpty if no message is currently pending.
func (r *Receiver[Q, A]) TryReplyOnce(f func(Q) A) error {
	select {
	case m := <-r.ch:
		m.reply <- f(m.question)
		return nil
	case <-r.done:
		return ErrSenderClosed
	default:
		return ErrEmpty
	}
}

// Close shuts the receiver down. Pending and future Calls fail with
// ErrReceiverClosed; pending and future ReplyOnce/TryReplyOnce calls fail
// with ErrSenderClosed.
func (r *Receiver[Q, A]) Close() {
	close(r.done)
}
