// Package pipeline implements the duplex message pipeline: a Receiver that
// drains the transport's receive side into a stream of FrameReaders, and a
// Dispatcher that peeks each one's routing header and hands it to the
// registered Waiter.
package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/ripplegraph/dbrpc/internal/framereader"
)

// ErrCanceled is returned by Waiter.Await when the waiter is canceled
// before a message is dispatched to it.
var ErrCanceled = errors.New("pipeline: waiter canceled")

// Waiter is a registered consumer for inbound messages correlated by id. A
// non-persistent waiter is dispatched to at most once; a persistent one may
// receive any number of messages over its lifetime (e.g. subscription
// notifications) until explicitly canceled.
type Waiter struct {
	ID         string
	Persistent bool

	result     chan *framereader.FrameReader
	cancel     chan struct{}
	cancelOnce sync.Once
}

// NewWaiter creates a Waiter keyed by id.
func NewWaiter(id string, persistent bool) *Waiter {
	return &Waiter{
		ID:         id,
		Persistent: persistent,
		result:     make(chan *framereader.FrameReader),
		cancel:     make(chan struct{}),
	}
}

// Cancel signals the waiter's cancellation exactly once. A reader already
// in flight to this waiter's Dispatch call is rejected and should be
// discarded by the caller.
func (w *Waiter) Cancel() {
	w.cancelOnce.Do(func() { close(w.cancel) })
}

// Canceled reports the waiter's cancellation signal.
func (w *Waiter) Canceled() <-chan struct{} {
	return w.cancel
}

// Dispatch hands fr to the waiter, blocking until it is received or the
// waiter is canceled. It reports whether the hand-off succeeded; a false
// result means the caller must dispose of fr itself.
func (w *Waiter) Dispatch(fr *framereader.FrameReader) bool {
	select {
	case <-w.cancel:
		return false
	default:
	}
	select {
	case w.result <- fr:
		return true
	case <-w.cancel:
		return false
	}
}

// Await blocks until a message is dispatched to this waiter, the waiter is
// canceled, or ctx is done. On ctx cancellation the waiter is canceled so a
// racing Dispatch does not leak a FrameReader to no one.
func (w *Waiter) Await(ctx context.Context) (*framereader.FrameReader, error) {
	select {
	case fr := <-w.result:
		return fr, nil
	case <-w.cancel:
		return nil, ErrCanceled
	case <-ctx.Done():
		w.Cancel()
		// A Dispatch racing this Cancel may already have committed to the
		// unbuffered send; drain it without blocking so its FrameReader
		// isn't abandoned.
		select {
		case fr := <-w.result:
			fr.Close()
		default:
		}
		return nil, ctx.Err()
	}
}
