package client

import (
	"errors"
	"fmt"
)

// Lifecycle and cancellation sentinels, compared with errors.Is.
var (
	ErrNotOpen                   = errors.New("client: not open")
	ErrAlreadyOpen               = errors.New("client: already open")
	ErrClosed                    = errors.New("client: closed")
	ErrCanceled                  = errors.New("client: canceled")
	ErrExpectedResponseGotNotify = errors.New("client: expected response, got notify")
	ErrInvalidResponse           = errors.New("client: invalid response")
	ErrDuplicateCorrelationID    = errors.New("client: duplicate correlation id")
)

// ClientError is the base error type every typed client error embeds.
type ClientError struct {
	Message string
	Code    int
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (code=%d): %v", e.Message, e.Code, e.Cause)
	}
	return fmt.Sprintf("%s (code=%d)", e.Message, e.Code)
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// TransportError wraps an underlying transport I/O or close failure.
type TransportError struct {
	ClientError
	Operation string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %s", e.Operation, e.ClientError.Error())
}

func (e *TransportError) Unwrap() error {
	return e.ClientError.Unwrap()
}

// NewTransportError builds a TransportError for the named operation.
func NewTransportError(operation, message string, cause error) error {
	return &TransportError{
		ClientError: ClientError{Message: message, Cause: cause},
		Operation:   operation,
	}
}

// ProtocolErrorKind distinguishes the protocol-level failures enumerated in
// the error handling design: a notify arriving where a response was
// expected, an empty or undecodable response, and a correlation-id
// registration collision.
type ProtocolErrorKind int

const (
	KindExpectedResponseGotNotify ProtocolErrorKind = iota
	KindInvalidResponse
	KindDuplicateCorrelationID
)

// ProtocolError reports a violation of the JSON-RPC envelope contract.
type ProtocolError struct {
	ClientError
	Kind ProtocolErrorKind
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s", e.ClientError.Error())
}

func (e *ProtocolError) Unwrap() error {
	return e.ClientError.Unwrap()
}

// NewProtocolError builds a ProtocolError of the given kind.
func NewProtocolError(kind ProtocolErrorKind, message string, cause error) error {
	return &ProtocolError{
		ClientError: ClientError{Message: message, Cause: cause},
		Kind:        kind,
	}
}

// NewClientError builds a bare ClientError, used for failures that don't
// fit one of the typed categories above (e.g. correlation-id generation).
func NewClientError(message string, code int, cause error) error {
	return &ClientError{Message: message, Code: code, Cause: cause}
}

// IsTransportError reports whether err is or wraps a TransportError.
func IsTransportError(err error) bool {
	var transportErr *TransportError
	return errors.As(err, &transportErr)
}

// IsProtocolError reports whether err is or wraps a ProtocolError.
func IsProtocolError(err error) bool {
	var protocolErr *ProtocolError
	return errors.As(err, &protocolErr)
}
