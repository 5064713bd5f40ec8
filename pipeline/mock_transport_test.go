package pipeline

import (
	"context"
	"sync"

	"github.com/ripplegraph/dbrpc/types"
)

var _ types.Transport = (*mockTransport)(nil)

// mockFrame is one frame queued for a mockTransport's ReceiveFrame to
// return.
type mockFrame struct {
	data  []byte
	final bool
	err   error
}

// mockTransport is a hand-rolled types.Transport test double: ReceiveFrame
// drains a preloaded queue of frames (or blocks until one is pushed), and
// Send records every outbound payload.
type mockTransport struct {
	mu     sync.Mutex
	frames chan mockFrame
	sent   [][]byte
	closed bool
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		frames: make(chan mockFrame, 64),
	}
}

func (m *mockTransport) pushFrame(data []byte, final bool) {
	m.frames <- mockFrame{data: data, final: final}
}

func (m *mockTransport) pushErr(err error) {
	m.frames <- mockFrame{err: err}
}

func (m *mockTransport) Send(ctx context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.sent = append(m.sent, cp)
	return nil
}

func (m *mockTransport) ReceiveFrame(ctx context.Context) ([]byte, bool, error) {
	select {
	case f := <-m.frames:
		if f.err != nil {
			return nil, false, f.err
		}
		return f.data, f.final, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockTransport) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockTransport) sentMessages() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.sent))
	copy(out, m.sent)
	return out
}
