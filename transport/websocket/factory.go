package websocket

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"

	"github.com/gobwas/ws"

	"github.com/ripplegraph/dbrpc/logx"
	"github.com/ripplegraph/dbrpc/types"
)

// DefaultDialer is a gobwas/ws Dialer with default options.
var DefaultDialer = ws.Dialer{}

// DefaultHTTPUpgrader is a gobwas/ws HTTPUpgrader with default options, for
// use in an HTTP handler before calling Upgrade.
var DefaultHTTPUpgrader = ws.HTTPUpgrader{}

// Dial establishes a WebSocket connection to urlString and wraps it in a
// WebSocketTransport with client-side masking.
func Dial(ctx context.Context, urlString string, logger types.Logger) (types.Transport, error) {
	if logger == nil {
		logger = logx.NewDefaultLogger()
	}

	if _, err := url.Parse(urlString); err != nil {
		logger.Error("WebSocketTransport: invalid URL %s: %v", urlString, err)
		return nil, fmt.Errorf("invalid websocket url: %w", err)
	}

	logger.Info("WebSocketTransport: dialing %s...", urlString)
	conn, _, _, err := DefaultDialer.Dial(ctx, urlString)
	if err != nil {
		logger.Error("WebSocketTransport: failed to dial %s: %v", urlString, err)
		return nil, fmt.Errorf("failed to dial websocket %s: %w", urlString, err)
	}

	logger.Info("WebSocketTransport: connected to %s", urlString)
	return NewWebSocketTransport(conn, ws.StateClientSide, logger), nil
}

// Upgrade performs the WebSocket handshake on an existing connection,
// typically used server-side after hijacking an HTTP request. The caller
// wraps the same net.Conn in a WebSocketTransport with server-side state.
func Upgrade(conn io.ReadWriter) (ws.Handshake, error) {
	handshake, err := ws.Upgrade(conn)
	if err != nil {
		return handshake, fmt.Errorf("failed to upgrade to websocket: %w", err)
	}
	return handshake, nil
}

// WebSocketTransportFactory bundles a dialer/upgrader pair with a default
// logger for callers that prefer a factory over the package-level helpers.
type WebSocketTransportFactory struct {
	Dialer   ws.Dialer
	Upgrader ws.Upgrader
	Logger   types.Logger
}

// NewWebSocketTransportFactory creates a factory with default dialer and
// upgrader settings.
func NewWebSocketTransportFactory(logger types.Logger) *WebSocketTransportFactory {
	return &WebSocketTransportFactory{
		Dialer:   ws.Dialer{},
		Upgrader: ws.Upgrader{},
		Logger:   logger,
	}
}

// Dial uses the factory's dialer to establish a client-side connection.
func (f *WebSocketTransportFactory) Dial(ctx context.Context, urlString string) (types.Transport, error) {
	logger := f.Logger
	if logger == nil {
		logger = logx.NewDefaultLogger()
	}
	logger.Info("WebSocketTransportFactory: dialing %s...", urlString)
	conn, _, _, err := f.Dialer.Dial(ctx, urlString)
	if err != nil {
		logger.Error("WebSocketTransportFactory: failed to dial %s: %v", urlString, err)
		return nil, fmt.Errorf("factory failed to dial %s: %w", urlString, err)
	}
	return NewWebSocketTransport(conn, ws.StateClientSide, logger), nil
}

// Upgrade uses the factory's upgrader to perform the handshake on an
// existing server-side connection.
func (f *WebSocketTransportFactory) Upgrade(conn net.Conn) (types.Transport, error) {
	logger := f.Logger
	if logger == nil {
		logger = logx.NewDefaultLogger()
	}
	logger.Info("WebSocketTransportFactory: upgrading connection from %s...", conn.RemoteAddr())
	if _, err := f.Upgrader.Upgrade(conn); err != nil {
		logger.Error("WebSocketTransportFactory: failed to upgrade connection: %v", err)
		return nil, fmt.Errorf("factory failed to upgrade connection: %w", err)
	}
	return NewWebSocketTransport(conn, ws.StateServerSide, logger), nil
}
