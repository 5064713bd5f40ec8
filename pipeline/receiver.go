package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/ripplegraph/dbrpc/internal/bufpool"
	"github.com/ripplegraph/dbrpc/internal/framereader"
	"github.com/ripplegraph/dbrpc/logx"
	"github.com/ripplegraph/dbrpc/types"
)

// ErrAlreadyOpen is returned by Open when the component already has a
// background task running.
var ErrAlreadyOpen = errors.New("pipeline: already open")

// item carries either a freshly published FrameReader or the terminal
// error that ended the receive loop.
type item struct {
	fr  *framereader.FrameReader
	err error
}

// Receiver owns the transport's receive side. It drives a background loop
// that reads frames into a FrameReader and publishes that FrameReader to
// its out-queue as soon as the first frame arrives, so the Dispatcher can
// begin header inspection before the message is complete.
type Receiver struct {
	transport types.Transport
	pool      *bufpool.Pool
	queueCap  int
	logger    types.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	out     chan item
}

// NewReceiver creates a Receiver over transport, using pool for each
// message's FrameReader backing storage and queueCap as the out-queue's
// capacity.
func NewReceiver(transport types.Transport, pool *bufpool.Pool, queueCap int, logger types.Logger) *Receiver {
	if logger == nil {
		logger = logx.NewDefaultLogger()
	}
	return &Receiver{
		transport: transport,
		pool:      pool,
		queueCap:  queueCap,
		logger:    logger,
	}
}

// Out returns the channel of published FrameReaders. It is only valid
// after a successful Open and is replaced on every Open/Close cycle.
func (r *Receiver) Out() <-chan item {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.out
}

// Open starts the receive loop. It fails with ErrAlreadyOpen if a loop is
// already running.
func (r *Receiver) Open() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrAlreadyOpen
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	r.out = make(chan item, r.queueCap)
	r.running = true

	go r.loop(ctx)
	return nil
}

// Close requests cancellation and awaits the receive loop's termination.
// It is idempotent.
func (r *Receiver) Close() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()

	cancel()
	<-done
	return nil
}

func (r *Receiver) loop(ctx context.Context) {
	defer close(r.done)
	defer close(r.out)

	for {
		if err := r.receiveOneMessage(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			r.logger.Warn("Receiver: receive loop terminating: %v", err)
			select {
			case r.out <- item{err: err}:
			case <-ctx.Done():
			}
			return
		}
	}
}

// receiveOneMessage reads frames until end-of-message, publishing the
// FrameReader to the out-queue as soon as the first frame has arrived.
func (r *Receiver) receiveOneMessage(ctx context.Context) error {
	data, final, err := r.transport.ReceiveFrame(ctx)
	if err != nil {
		return err
	}

	fr := framereader.New(r.pool)
	if err := fr.Append(data, final); err != nil {
		fr.Close()
		return err
	}

	select {
	case r.out <- item{fr: fr}:
	case <-ctx.Done():
		fr.Close()
		return ctx.Err()
	}

	for !final {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		data, final, err = r.transport.ReceiveFrame(ctx)
		if err != nil {
			// fr has already been handed off to the Dispatcher/waiter; it
			// is no longer this loop's to close. The caller observing the
			// publish will see the message stall and the pipeline error
			// propagate through the next out-queue item.
			return err
		}
		if err := fr.Append(data, final); err != nil {
			return err
		}
	}
	return nil
}
