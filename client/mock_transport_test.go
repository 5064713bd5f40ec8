package client

import (
	"context"
	"sync"

	"github.com/ripplegraph/dbrpc/types"
)

var _ types.Transport = (*fakeTransport)(nil)

// fakeFrame is one frame queued for a fakeTransport's ReceiveFrame to
// return.
type fakeFrame struct {
	data  []byte
	final bool
	err   error
}

// fakeTransport is a types.Transport test double that lets a test script
// inbound frames and inspect what was sent, without a real socket.
type fakeTransport struct {
	mu     sync.Mutex
	frames chan fakeFrame
	sent   [][]byte
	closed bool

	// onSend, if set, is invoked synchronously from Send before recording
	// the payload, letting a test script a reply keyed by the outbound
	// request's correlation id.
	onSend func(data []byte)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{frames: make(chan fakeFrame, 64)}
}

func (f *fakeTransport) pushFrame(data []byte, final bool) {
	f.frames <- fakeFrame{data: data, final: final}
}

func (f *fakeTransport) Send(ctx context.Context, data []byte) error {
	f.mu.Lock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.sent = append(f.sent, cp)
	onSend := f.onSend
	f.mu.Unlock()
	if onSend != nil {
		onSend(cp)
	}
	return nil
}

func (f *fakeTransport) ReceiveFrame(ctx context.Context) ([]byte, bool, error) {
	select {
	case fr := <-f.frames:
		if fr.err != nil {
			return nil, false, fr.err
		}
		return fr.data, fr.final, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) sentMessages() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}
