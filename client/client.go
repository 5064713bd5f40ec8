// Package client implements the duplex JSON-RPC-over-WebSocket pipeline
// façade: a single Open/Send/Close surface over the Receiver and Dispatcher
// in the pipeline package.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"

	"github.com/ripplegraph/dbrpc/internal/bufpool"
	"github.com/ripplegraph/dbrpc/internal/framereader"
	"github.com/ripplegraph/dbrpc/pipeline"
	"github.com/ripplegraph/dbrpc/rpc"
	"github.com/ripplegraph/dbrpc/types"
)

// Client is the public façade over the duplex pipeline: one WebSocket
// connection, one Receiver draining it, one Dispatcher routing inbound
// payloads to request waiters.
type Client struct {
	cfg Config

	mu         sync.Mutex
	open       bool
	transport  types.Transport
	pool       *bufpool.Pool
	receiver   *pipeline.Receiver
	dispatcher *pipeline.Dispatcher
	logger     types.Logger
}

// New builds a Client for url with the given options applied over the
// documented defaults. The connection is not established until Open.
func New(url string, opts ...Option) *Client {
	cfg := DefaultConfig(url)
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Client{cfg: cfg, logger: cfg.Logger}
}

// Open dials the transport and starts the Receiver and Dispatcher. It
// fails with ErrAlreadyOpen if already open.
func (c *Client) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open {
		return ErrAlreadyOpen
	}

	transport, err := c.cfg.dial(ctx, c.cfg.URL, c.logger)
	if err != nil {
		return NewTransportError("dial", "failed to establish connection", err)
	}

	pool := bufpool.New(c.cfg.BlockSize)
	receiver := pipeline.NewReceiver(transport, pool, c.cfg.ChannelTxMax, c.logger)
	dispatcher := pipeline.NewDispatcher(receiver.Out(), c.cfg.CacheSlidingExpiration, c.cfg.CacheEvictionInterval, c.cfg.HeaderBytesMax, c.logger)

	if err := receiver.Open(); err != nil {
		transport.Close()
		return NewTransportError("open", "failed to start receiver", err)
	}
	if err := dispatcher.Open(); err != nil {
		receiver.Close()
		transport.Close()
		return NewTransportError("open", "failed to start dispatcher", err)
	}

	c.transport = transport
	c.pool = pool
	c.receiver = receiver
	c.dispatcher = dispatcher
	c.open = true
	return nil
}

// Close shuts the pipeline down in dependency order: dispatcher first (so
// no more waiters are touched), then the receiver, then the transport. It
// is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return nil
	}
	c.open = false

	var firstErr error
	if err := c.dispatcher.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := c.receiver.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := c.transport.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Send issues a JSON-RPC request and blocks for its correlated response,
// subject to ctx cancellation. A nil params is replaced with the shared
// empty-params sentinel.
func (c *Client) Send(ctx context.Context, method string, params []any) (*rpc.Response, error) {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return nil, ErrNotOpen
	}
	dispatcher := c.dispatcher
	transport := c.transport
	c.mu.Unlock()

	id, err := rpc.NewID(c.cfg.IDBytes)
	if err != nil {
		return nil, NewClientError("failed to generate correlation id", 0, err)
	}

	waiter := pipeline.NewWaiter(id, false)
	if !dispatcher.Register(waiter) {
		return nil, NewProtocolError(KindDuplicateCorrelationID, "correlation id already registered", nil)
	}

	req := rpc.NewRequest(id, method, params)
	body, err := json.Marshal(req)
	if err != nil {
		dispatcher.Unregister(id)
		return nil, NewClientError("failed to encode request", 0, err)
	}

	if err := transport.Send(ctx, body); err != nil {
		dispatcher.Unregister(id)
		return nil, NewTransportError("send", "failed to write request", err)
	}

	fr, err := waiter.Await(ctx)
	if err != nil {
		dispatcher.Unregister(id)
		if err == pipeline.ErrCanceled || ctx.Err() != nil {
			return nil, ErrCanceled
		}
		return nil, NewTransportError("await", "failed waiting for response", err)
	}
	defer fr.Close()

	// The Dispatcher only waits for the header to become peekable before
	// matching and dispatching fr (pipeline.Dispatcher.dispatchOne); for a
	// response spanning more than one frame, the body may still be
	// mid-stream at this point. Wait for end-of-message before reading it.
	select {
	case <-fr.Done():
	case <-ctx.Done():
		return nil, ErrCanceled
	}

	return c.decodeResponse(fr)
}

// decodeResponse reads the full body out of fr and validates it describes
// a response, not a notification. The caller must have awaited fr.Done()
// first: fr.Length() is only the final body length once the message has
// reached its terminal state.
func (c *Client) decodeResponse(fr *framereader.FrameReader) (*rpc.Response, error) {
	buf := make([]byte, fr.Length())
	n, err := fr.ReadAt(0, buf)
	if err != nil && n < len(buf) {
		return nil, NewClientError("failed to read response body", 0, err)
	}

	hdr, err := rpc.ParseHeader(buf)
	if err != nil || hdr.IsEmpty() {
		return nil, NewProtocolError(KindInvalidResponse, "response header is empty or malformed", ErrInvalidResponse)
	}
	if hdr.IsNotify() {
		return nil, NewProtocolError(KindExpectedResponseGotNotify, "received a notify where a response was expected", ErrExpectedResponseGotNotify)
	}

	dec := json.NewDecoder(bytes.NewReader(buf))
	var resp rpc.Response
	if err := dec.Decode(&resp); err != nil {
		return nil, NewProtocolError(KindInvalidResponse, "failed to decode response", err)
	}
	return &resp, nil
}
