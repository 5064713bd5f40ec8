package client

import (
	"context"
	"time"

	"github.com/ripplegraph/dbrpc/logx"
	"github.com/ripplegraph/dbrpc/transport/websocket"
	"github.com/ripplegraph/dbrpc/types"
)

// dialFunc establishes the underlying transport. It is a field rather than
// a hardcoded call so tests can substitute a fake transport without
// dialing a real socket.
type dialFunc func(ctx context.Context, url string, logger types.Logger) (types.Transport, error)

// Config holds the tunables of the duplex pipeline. Defaults match the
// server's documented limits; construct one with DefaultConfig and layer
// Options on top.
type Config struct {
	// URL is the WebSocket endpoint to dial.
	URL string

	// ChannelRxMax is the capacity reserved for a future send-side queue.
	// The client currently sends requests synchronously with no queue on
	// that path, so this field is accepted for configuration-table parity
	// but otherwise unused.
	ChannelRxMax int

	// ChannelTxMax is the capacity of the Receiver's out-queue: how many
	// in-flight inbound messages may be buffered awaiting dispatch before
	// the receive loop blocks.
	ChannelTxMax int

	// HeaderBytesMax bounds how many leading bytes of an inbound payload
	// the Dispatcher peeks to parse the routing header.
	HeaderBytesMax int

	// IDBytes is the number of random bytes used to generate each
	// request's correlation id; Send always generates the id.
	IDBytes int

	// BlockSize is the allocation unit for each message's FrameReader
	// backing storage.
	BlockSize int

	// MessageSize is an advisory cap on a single message's total size,
	// exposed for callers that want to reject oversized payloads; it is
	// not enforced internally.
	MessageSize int

	// CacheSlidingExpiration is how long a registered waiter survives
	// without activity before the Dispatcher evicts it.
	CacheSlidingExpiration time.Duration

	// CacheEvictionInterval is how often the waiter cache sweeps for
	// expired entries.
	CacheEvictionInterval time.Duration

	// Logger receives diagnostic output from every layer of the pipeline.
	Logger types.Logger

	dial dialFunc
}

// DefaultConfig returns a Config populated with the documented defaults.
func DefaultConfig(url string) Config {
	logger := logx.NewDefaultLogger()
	return Config{
		URL:                    url,
		ChannelRxMax:           16,
		ChannelTxMax:           16,
		HeaderBytesMax:         512,
		IDBytes:                9,
		BlockSize:              16 * 1024,
		MessageSize:            64 * 1024,
		CacheSlidingExpiration: 30 * time.Second,
		CacheEvictionInterval:  5 * time.Second,
		Logger:                 logger,
		dial:                   websocket.Dial,
	}
}

// Option mutates a Config, applied in order by New.
type Option func(*Config)

// WithLogger overrides the default logger.
func WithLogger(logger types.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// WithChannelTxMax overrides the Receiver out-queue capacity.
func WithChannelTxMax(n int) Option {
	return func(c *Config) { c.ChannelTxMax = n }
}

// WithHeaderBytesMax overrides the header-peek window.
func WithHeaderBytesMax(n int) Option {
	return func(c *Config) { c.HeaderBytesMax = n }
}

// WithIDBytes overrides the correlation id length, in bytes.
func WithIDBytes(n int) Option {
	return func(c *Config) { c.IDBytes = n }
}

// WithBlockSize overrides the FrameReader backing block size.
func WithBlockSize(n int) Option {
	return func(c *Config) { c.BlockSize = n }
}

// WithCacheSlidingExpiration overrides how long an idle waiter survives.
func WithCacheSlidingExpiration(d time.Duration) Option {
	return func(c *Config) { c.CacheSlidingExpiration = d }
}

// WithCacheEvictionInterval overrides the waiter cache's sweep frequency.
func WithCacheEvictionInterval(d time.Duration) Option {
	return func(c *Config) { c.CacheEvictionInterval = d }
}

// withDialFunc substitutes the transport dialer, used by tests to avoid a
// real network dial.
func withDialFunc(d dialFunc) Option {
	return func(c *Config) { c.dial = d }
}
