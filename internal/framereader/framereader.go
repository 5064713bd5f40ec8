// Package framereader implements the append-only, seekable byte stream that
// reassembles the frames of one logical WebSocket message. A FrameReader is
// published to the dispatch queue as soon as its first frame arrives so the
// consumer can begin peeking the routing header before the message is
// fully received (see the Receiver in package pipeline).
package framereader

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/ripplegraph/dbrpc/internal/bufpool"
)

// Errors returned by FrameReader operations.
var (
	// ErrAlreadyTerminal is returned by Append when called after the
	// message has already been marked end-of-message.
	ErrAlreadyTerminal = errors.New("framereader: message already complete")

	// ErrClosed is returned by any operation performed after Close.
	ErrClosed = errors.New("framereader: reader is closed")

	// errInvalidOffset is returned by ReadAt for an out-of-range offset.
	errInvalidOffset = errors.New("framereader: offset out of range")

	// errEOF is returned by ReadAt when the terminal stream is exhausted.
	errEOF = io.EOF
)

// FrameReader accumulates the frames of a single WebSocket message into a
// pooled, seekable byte stream. It is safe for one writer (the producer
// appending frames) and any number of concurrent readers: the producer keeps
// appending after it has handed the reader off, and the mutex here guards
// the block list, length and terminal/closed flags, so a read observes every
// byte appended before it took the lock.
type FrameReader struct {
	pool *bufpool.Pool

	mu       sync.Mutex
	blocks   [][]byte // each len(block) <= pool.BlockSize(); only the last may be partially filled
	length   int64
	terminal bool
	closed   bool

	readyOnce sync.Once
	ready     chan struct{} // closed exactly once, on the first Append or on Close

	doneOnce sync.Once
	done     chan struct{} // closed exactly once, on the terminal Append

	changed chan struct{} // closed and replaced on every Append/Close; broadcasts progress
}

// New creates an empty FrameReader drawing its backing blocks from pool.
func New(pool *bufpool.Pool) *FrameReader {
	return &FrameReader{
		pool:    pool,
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
		changed: make(chan struct{}),
	}
}

// Ready returns a channel that is closed once the first frame has been
// appended, or the reader is closed beforehand. Consumers that need to peek header bytes must wait on this
// before reading, since a FrameReader may be published to the dispatch
// queue before any data has arrived.
func (f *FrameReader) Ready() <-chan struct{} {
	return f.ready
}

// Done returns a channel that is closed once the message has reached its
// terminal (end-of-message) state, or the reader is closed beforehand.
// Consumers that need the whole body — not just a header peek — must wait
// on this before reading, since a FrameReader may be dispatched to a waiter
// before the message has finished arriving (the Dispatcher only waits for
// enough bytes to peek the routing header, not for the full message).
func (f *FrameReader) Done() <-chan struct{} {
	return f.done
}

// WaitReadable blocks until at least n bytes have been accumulated, the
// reader reaches its terminal state (which may mean fewer than n bytes will
// ever arrive), or ctx is done. It lets a consumer that needs a bounded
// prefix — one that may itself span more than one frame — wait for enough
// of the stream to arrive without polling Length in a loop.
func (f *FrameReader) WaitReadable(ctx context.Context, n int64) error {
	for {
		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			return ErrClosed
		}
		if f.length >= n || f.terminal {
			f.mu.Unlock()
			return nil
		}
		changed := f.changed
		f.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Append adds a frame's payload to the stream. endOfMessage transitions the
// reader to its terminal (immutable) state.
func (f *FrameReader) Append(data []byte, endOfMessage bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	if f.terminal {
		return ErrAlreadyTerminal
	}

	first := len(f.blocks) == 0 && f.length == 0

	for len(data) > 0 {
		block, offset := f.lastBlockForWrite()
		n := copy(block[offset:], data)
		if n == 0 {
			// The current last block is full; allocate another.
			nb := f.pool.Get()
			f.blocks = append(f.blocks, nb[:0])
			continue
		}
		f.setLastBlockLen(offset + n)
		f.length += int64(n)
		data = data[n:]
	}

	if endOfMessage {
		f.terminal = true
	}

	if first {
		f.readyOnce.Do(func() { close(f.ready) })
	}
	if f.terminal {
		f.doneOnce.Do(func() { close(f.done) })
	}

	old := f.changed
	f.changed = make(chan struct{})
	close(old)
	return nil
}

// lastBlockForWrite returns the full-capacity backing array of the current
// last block and the number of bytes already written into it. If there is
// no block yet, one is allocated.
func (f *FrameReader) lastBlockForWrite() (block []byte, offset int) {
	if len(f.blocks) == 0 {
		nb := f.pool.Get()
		f.blocks = append(f.blocks, nb[:0])
	}
	idx := len(f.blocks) - 1
	used := f.blocks[idx]
	return used[:cap(used)], len(used)
}

func (f *FrameReader) setLastBlockLen(n int) {
	idx := len(f.blocks) - 1
	base := f.blocks[idx][:cap(f.blocks[idx])]
	f.blocks[idx] = base[:n]
}

// Length returns the number of bytes accumulated so far.
func (f *FrameReader) Length() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.length
}

// ReadAt performs a random-access read starting at offset; it never
// advances any internal cursor, so repeated calls at the same offset
// observe the same bytes. Unlike io.ReaderAt, a short read does not always
// return an error: it returns io.EOF only when fewer bytes than len(buf) are
// available AND the reader is in its terminal state; otherwise a short read
// returns a nil error so a peek against a still-growing stream isn't
// mistaken for end of stream.
func (f *FrameReader) ReadAt(offset int64, buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, ErrClosed
	}
	if offset < 0 || offset > f.length {
		return 0, errInvalidOffset
	}

	blockSize := int64(f.pool.BlockSize())
	remaining := f.length - offset
	toRead := int64(len(buf))
	if toRead > remaining {
		toRead = remaining
	}

	var n int64
	for n < toRead {
		pos := offset + n
		blockIdx := int(pos / blockSize)
		blockOff := int(pos % blockSize)
		block := f.blocks[blockIdx]
		avail := int64(len(block) - blockOff)
		want := toRead - n
		if avail > want {
			avail = want
		}
		copy(buf[n:n+avail], block[blockOff:blockOff+int(avail)])
		n += avail
	}

	if n < int64(len(buf)) && f.terminal {
		return int(n), errEOF
	}
	return int(n), nil
}

// Close returns the backing blocks to the pool. Subsequent operations fail
// with ErrClosed.
func (f *FrameReader) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true
	f.readyOnce.Do(func() { close(f.ready) })
	f.doneOnce.Do(func() { close(f.done) })
	old := f.changed
	f.changed = make(chan struct{})
	close(old)

	for _, b := range f.blocks {
		f.pool.Put(b[:cap(b)])
	}
	f.blocks = nil
	return nil
}
