// Package websocket provides a types.Transport implementation over raw
// WebSocket frames, used by the duplex pipeline to send and receive
// JSON-RPC envelopes with the database server.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/ripplegraph/dbrpc/logx"
	"github.com/ripplegraph/dbrpc/types"
)

// frameOrError holds either a received frame or an error from the reader
// goroutine.
type frameOrError struct {
	data  []byte
	final bool
	err   error
}

// WebSocketTransport implements types.Transport over a single WebSocket
// connection. Receive is exposed per-frame (ReceiveFrame) rather than
// per-message so the caller can reassemble fragmented messages while
// publishing partial progress, instead of blocking until the whole message
// has arrived.
type WebSocketTransport struct {
	conn       net.Conn
	state      ws.State
	writeMutex sync.Mutex
	logger     types.Logger
	closed     bool
	closeMutex sync.Mutex
	readMutex  sync.Mutex
	isServer   bool
	ctx        context.Context
	cancel     context.CancelFunc
}

var _ types.Transport = (*WebSocketTransport)(nil)

// NewWebSocketTransport wraps an already-handshaken connection. state must
// be ws.StateClientSide or ws.StateServerSide and governs frame masking.
func NewWebSocketTransport(conn net.Conn, state ws.State, logger types.Logger) *WebSocketTransport {
	if logger == nil {
		logger = logx.NewDefaultLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WebSocketTransport{
		conn:     conn,
		logger:   logger,
		state:    state,
		isServer: state == ws.StateServerSide,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Send writes data as a single, complete text message.
func (t *WebSocketTransport) Send(ctx context.Context, data []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	t.closeMutex.Lock()
	if t.closed {
		t.closeMutex.Unlock()
		return fmt.Errorf("transport is closed")
	}
	t.closeMutex.Unlock()

	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()

	if len(data) == 0 {
		return fmt.Errorf("cannot send empty message")
	}

	deadline, hasDeadline := ctx.Deadline()
	if !hasDeadline {
		deadline = time.Now().Add(30 * time.Second)
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		t.logger.Warn("WebSocketTransport: failed to set write deadline: %v", err)
	}

	err := wsutil.WriteMessage(t.conn, t.state, ws.OpText, data)
	if resetErr := t.conn.SetWriteDeadline(time.Time{}); resetErr != nil {
		t.logger.Warn("WebSocketTransport: failed to reset write deadline: %v", resetErr)
	}

	if err != nil {
		t.logger.Error("WebSocketTransport: failed to write message: %v", err)
		_ = t.Close()
		return fmt.Errorf("failed to write websocket message: %w", err)
	}
	return nil
}

// ReceiveFrame reads exactly one WebSocket data frame and reports whether
// it is the final frame of its message (header.Fin). Control frames are
// handled transparently: pings are answered with a pong and the read loop
// continues; a close frame surfaces as an error so the caller can tear the
// pipeline down.
func (t *WebSocketTransport) ReceiveFrame(ctx context.Context) ([]byte, bool, error) {
	t.closeMutex.Lock()
	if t.closed {
		t.closeMutex.Unlock()
		return nil, false, fmt.Errorf("transport is closed")
	}
	t.closeMutex.Unlock()

	frameChan := make(chan frameOrError, 1)
	go t.readOneDataFrame(frameChan)

	select {
	case <-ctx.Done():
		go t.Close()
		return nil, false, ctx.Err()
	case <-t.ctx.Done():
		return nil, false, fmt.Errorf("transport closed")
	case f := <-frameChan:
		if f.err != nil {
			t.closeMutex.Lock()
			isClosed := t.closed
			t.closeMutex.Unlock()
			if !isClosed {
				go t.Close()
			}
			return nil, false, mapReadError(f.err)
		}
		return f.data, f.final, nil
	}
}

// readOneDataFrame reads and unmasks frames from the connection until it
// produces one data frame (or a terminal error), transparently answering
// pings and surfacing closes as errors.
func (t *WebSocketTransport) readOneDataFrame(out chan<- frameOrError) {
	t.readMutex.Lock()
	defer t.readMutex.Unlock()

	for {
		header, err := ws.ReadHeader(t.conn)
		if err != nil {
			out <- frameOrError{err: fmt.Errorf("failed to read header: %w", err)}
			return
		}

		payload := make([]byte, header.Length)
		if _, err := io.ReadFull(t.conn, payload); err != nil {
			out <- frameOrError{err: fmt.Errorf("failed to read payload (length %d): %w", header.Length, err)}
			return
		}

		if header.Masked {
			if !t.isServer {
				out <- frameOrError{err: ws.ErrProtocolMaskUnexpected}
				return
			}
			ws.Cipher(payload, header.Mask, 0)
		} else if t.isServer {
			out <- frameOrError{err: ws.ErrProtocolMaskRequired}
			return
		}

		if header.OpCode.IsControl() {
			switch header.OpCode {
			case ws.OpClose:
				code, reason := ws.ParseCloseFrameDataUnsafe(payload)
				out <- frameOrError{err: wsutil.ClosedError{Code: code, Reason: reason}}
				return
			case ws.OpPing:
				go t.writePong(payload)
				continue
			case ws.OpPong:
				continue
			default:
				continue
			}
		}

		// Data frame (OpText, OpBinary, or a continuation of one).
		out <- frameOrError{data: payload, final: header.Fin}
		return
	}
}

func (t *WebSocketTransport) writePong(payload []byte) {
	frame := ws.NewPongFrame(payload)
	if !t.isServer {
		ws.MaskFrameInPlace(frame)
	}
	if err := ws.WriteFrame(t.conn, frame); err != nil {
		t.logger.Warn("WebSocketTransport: failed to write pong: %v", err)
	}
}

func mapReadError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "use of closed network connection") {
		return fmt.Errorf("websocket connection closed: %w", err)
	}
	var closeErr wsutil.ClosedError
	if errors.As(err, &closeErr) {
		return fmt.Errorf("websocket closed by peer with code %d: %w", closeErr.Code, err)
	}
	return fmt.Errorf("websocket read error: %w", err)
}

// Close performs an orderly close handshake and releases the underlying
// connection. It is idempotent.
func (t *WebSocketTransport) Close() error {
	t.closeMutex.Lock()
	if t.closed {
		t.closeMutex.Unlock()
		return nil
	}
	t.closed = true
	t.cancel()
	conn := t.conn
	t.closeMutex.Unlock()

	if conn == nil {
		return nil
	}

	ctx, cancelTimeout := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelTimeout()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetWriteDeadline(deadline); err != nil {
			t.logger.Warn("WebSocketTransport: failed to set write deadline for close frame: %v", err)
		}
	}

	closePayload := ws.NewCloseFrameBody(ws.StatusNormalClosure, "Orderly connection close")
	if err := wsutil.WriteMessage(conn, t.state, ws.OpClose, closePayload); err != nil {
		t.logger.Warn("WebSocketTransport: failed to write close frame: %v", err)
	}
	if err := conn.SetWriteDeadline(time.Time{}); err != nil {
		t.logger.Warn("WebSocketTransport: failed to reset write deadline after close frame: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.logger.Warn("WebSocketTransport: error closing underlying connection: %v", err)
	}
	return nil
}

// RemoteAddr returns the remote network address.
func (t *WebSocketTransport) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

// LocalAddr returns the local network address.
func (t *WebSocketTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// IsClosed reports whether Close has been called.
func (t *WebSocketTransport) IsClosed() bool {
	t.closeMutex.Lock()
	defer t.closeMutex.Unlock()
	return t.closed
}
