package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/ripplegraph/dbrpc/internal/framereader"
	"github.com/ripplegraph/dbrpc/internal/ttlcache"
	"github.com/ripplegraph/dbrpc/logx"
	"github.com/ripplegraph/dbrpc/rpc"
	"github.com/ripplegraph/dbrpc/types"
)

// ErrConnectionClosed is surfaced from the dispatch loop when the in-queue
// reports a terminal transport error (including an orderly close from the
// peer), ending the loop.
var ErrConnectionClosed = errors.New("pipeline: connection closed")

// Dispatcher owns the TTL cache of registered waiters and drains the
// Receiver's out-queue, peeking each FrameReader's routing header and
// handing it to the matching waiter.
type Dispatcher struct {
	in             <-chan item
	headerBytesMax int
	logger         types.Logger
	cache          *ttlcache.Cache[*Waiter]

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	errMu   sync.Mutex
	lastErr error
}

// NewDispatcher creates a Dispatcher draining in, with waiters held for
// slidingExpiration and swept every evictionInterval.
func NewDispatcher(in <-chan item, slidingExpiration, evictionInterval time.Duration, headerBytesMax int, logger types.Logger) *Dispatcher {
	if logger == nil {
		logger = logx.NewDefaultLogger()
	}
	d := &Dispatcher{
		in:             in,
		headerBytesMax: headerBytesMax,
		logger:         logger,
	}
	d.cache = ttlcache.New[*Waiter](slidingExpiration,
		ttlcache.WithSweepInterval[*Waiter](evictionInterval),
		ttlcache.WithRelease[*Waiter](func(_ string, w *Waiter) {
			w.Cancel()
		}),
	)
	return d
}

// Register inserts waiter, returning false if its id already has a waiter
// registered (a correlation-id collision).
func (d *Dispatcher) Register(waiter *Waiter) bool {
	return d.cache.TryAdd(waiter.ID, waiter)
}

// Unregister removes and releases the waiter for id, if any.
func (d *Dispatcher) Unregister(id string) {
	d.cache.TryRemove(id)
}

// Err returns the error that ended the dispatch loop, or nil if it is still
// running or was closed cleanly.
func (d *Dispatcher) Err() error {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	return d.lastErr
}

func (d *Dispatcher) setErr(err error) {
	d.errMu.Lock()
	d.lastErr = err
	d.errMu.Unlock()
}

// Open starts the dispatch loop. It fails with ErrAlreadyOpen if a loop is
// already running.
func (d *Dispatcher) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return ErrAlreadyOpen
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	d.running = true

	go d.loop(ctx)
	return nil
}

// Close requests cancellation, awaits the dispatch loop's termination, and
// releases every still-registered waiter.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	cancel := d.cancel
	done := d.done
	d.mu.Unlock()

	cancel()
	<-done
	d.cache.Close()
	return nil
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			return
		case it, ok := <-d.in:
			if !ok {
				return
			}
			if it.err != nil {
				d.setErr(ErrConnectionClosed)
				return
			}
			d.dispatchOne(ctx, it.fr)
		}
	}
}

// dispatchOne implements spec.md §4.4's dispatch algorithm for a single
// FrameReader: wait for readability, peek the header, look up the waiter,
// and either dispatch or discard.
func (d *Dispatcher) dispatchOne(ctx context.Context, fr *framereader.FrameReader) {
	// The header may span more than one frame (spec.md §8's "header bytes
	// split across two frames" boundary case), so wait for at least
	// headerBytesMax bytes rather than just the first frame's arrival —
	// otherwise a short first frame yields a truncated peek window and an
	// id that's really there gets treated as missing.
	if err := fr.WaitReadable(ctx, int64(d.headerBytesMax)); err != nil {
		fr.Close()
		return
	}

	peekLen := d.headerBytesMax
	if l := fr.Length(); l < int64(peekLen) {
		peekLen = int(l)
	}
	buf := make([]byte, peekLen)
	n, err := fr.ReadAt(0, buf)
	if err != nil && !errors.Is(err, io.EOF) {
		fr.Close()
		return
	}

	hdr, err := rpc.ParseHeader(buf[:n])
	if err != nil || hdr.ID == "" {
		d.logger.Debug("Dispatcher: discarding message with unparseable header")
		fr.Close()
		return
	}

	waiter, ok := d.cache.TryGet(hdr.ID)
	if !ok {
		d.logger.Debug("Dispatcher: discarding message with unknown id %s", hdr.ID)
		fr.Close()
		return
	}

	if !waiter.Dispatch(fr) {
		d.logger.Debug("Dispatcher: waiter %s canceled before dispatch", hdr.ID)
		fr.Close()
		d.Unregister(hdr.ID)
		return
	}
	if !waiter.Persistent {
		d.Unregister(hdr.ID)
	}
}
