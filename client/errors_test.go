package client

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientErrorFormatting(t *testing.T) {
	cause := errors.New("underlying error")
	err := NewClientError("bad thing", 7, cause)

	clientErr, ok := err.(*ClientError)
	require.True(t, ok)
	assert.Equal(t, 7, clientErr.Code)
	assert.Equal(t, "bad thing", clientErr.Message)
	assert.Equal(t, cause, clientErr.Cause)
	assert.Contains(t, err.Error(), "bad thing")

	noCause := NewClientError("bad thing", 7, nil)
	assert.NotContains(t, noCause.Error(), ":")
}

func TestTransportErrorWraps(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewTransportError("send", "write failed", cause)

	assert.True(t, IsTransportError(err))
	assert.False(t, IsProtocolError(err))
	assert.ErrorIs(t, err, cause)

	var transportErr *TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.Equal(t, "send", transportErr.Operation)
}

func TestProtocolErrorWraps(t *testing.T) {
	err := NewProtocolError(KindDuplicateCorrelationID, "id already registered", nil)

	assert.True(t, IsProtocolError(err))
	assert.False(t, IsTransportError(err))

	var protocolErr *ProtocolError
	require.True(t, errors.As(err, &protocolErr))
	assert.Equal(t, KindDuplicateCorrelationID, protocolErr.Kind)
}

func TestSentinelErrorsAreDistinct(t *testing.T) {
	sentinels := []error{
		ErrNotOpen,
		ErrAlreadyOpen,
		ErrClosed,
		ErrCanceled,
		ErrExpectedResponseGotNotify,
		ErrInvalidResponse,
		ErrDuplicateCorrelationID,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i == j {
				continue
			}
			assert.False(t, errors.Is(a, b), "sentinels %v and %v should be distinct", a, b)
		}
	}
}
