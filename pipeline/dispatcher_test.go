package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ripplegraph/dbrpc/internal/bufpool"
	"github.com/ripplegraph/dbrpc/internal/framereader"
)

var errConnReset = errors.New("connection reset")

func newTestFrame(t *testing.T, body string, final bool) *framereader.FrameReader {
	t.Helper()
	fr := framereader.New(bufpool.New(64))
	require.NoError(t, fr.Append([]byte(body), final))
	return fr
}

func newTestDispatcher(in chan item) *Dispatcher {
	return NewDispatcher(in, time.Hour, time.Minute, 512, nil)
}

func TestDispatcherMatchesRegisteredWaiter(t *testing.T) {
	in := make(chan item, 1)
	d := newTestDispatcher(in)
	require.NoError(t, d.Open())
	defer d.Close()

	waiter := NewWaiter("abc", false)
	require.True(t, d.Register(waiter))

	in <- item{fr: newTestFrame(t, `{"id":"abc","result":1}`, true)}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	fr, err := waiter.Await(ctx)
	require.NoError(t, err)
	require.NotNil(t, fr)
	fr.Close()
}

func TestDispatcherLocatesHeaderSplitAcrossFrames(t *testing.T) {
	in := make(chan item, 1)
	d := NewDispatcher(in, time.Hour, time.Minute, 20, nil)
	require.NoError(t, d.Open())
	defer d.Close()

	waiter := NewWaiter("abc", false)
	require.True(t, d.Register(waiter))

	// The id value is split across the two frames ("ab" then "c"), so the
	// dispatcher must wait for headerBytesMax bytes (or terminal) rather
	// than peeking only what the first frame delivered.
	fr := framereader.New(bufpool.New(8))
	require.NoError(t, fr.Append([]byte(`{"id":"ab`), false))
	in <- item{fr: fr}

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, fr.Append([]byte(`c","result":1}`), true))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := waiter.Await(ctx)
	require.NoError(t, err)
	got.Close()
}

func TestDispatcherDiscardsUnknownID(t *testing.T) {
	in := make(chan item, 1)
	d := newTestDispatcher(in)
	require.NoError(t, d.Open())
	defer d.Close()

	in <- item{fr: newTestFrame(t, `{"id":"zzz","method":"live.update"}`, true)}

	// No waiter was registered for "zzz"; nothing should panic or hang, and
	// the cache remains empty.
	require.Eventually(t, func() bool { return d.cache.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestDispatcherDiscardsMalformedHeader(t *testing.T) {
	in := make(chan item, 1)
	d := newTestDispatcher(in)
	require.NoError(t, d.Open())
	defer d.Close()

	waiter := NewWaiter("abc", false)
	require.True(t, d.Register(waiter))

	in <- item{fr: newTestFrame(t, `[1,2,3]`, true)}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := waiter.Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDispatcherUnregistersNonPersistentWaiterAfterDispatch(t *testing.T) {
	in := make(chan item, 1)
	d := newTestDispatcher(in)
	require.NoError(t, d.Open())
	defer d.Close()

	waiter := NewWaiter("abc", false)
	require.True(t, d.Register(waiter))

	in <- item{fr: newTestFrame(t, `{"id":"abc","result":1}`, true)}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	fr, err := waiter.Await(ctx)
	require.NoError(t, err)
	fr.Close()

	require.Eventually(t, func() bool { return d.cache.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestDispatcherKeepsPersistentWaiterRegistered(t *testing.T) {
	in := make(chan item, 2)
	d := newTestDispatcher(in)
	require.NoError(t, d.Open())
	defer d.Close()

	waiter := NewWaiter("sub-1", true)
	require.True(t, d.Register(waiter))

	in <- item{fr: newTestFrame(t, `{"id":"sub-1","method":"update","params":[1]}`, true)}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	fr, err := waiter.Await(ctx)
	require.NoError(t, err)
	fr.Close()

	assert.Equal(t, 1, d.cache.Len())

	in <- item{fr: newTestFrame(t, `{"id":"sub-1","method":"update","params":[2]}`, true)}
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	fr2, err := waiter.Await(ctx2)
	require.NoError(t, err)
	fr2.Close()
}

func TestDispatcherConnectionClosedSetsErr(t *testing.T) {
	in := make(chan item, 1)
	d := newTestDispatcher(in)
	require.NoError(t, d.Open())

	in <- item{err: errConnReset}

	require.Eventually(t, func() bool { return d.Err() != nil }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, d.Err(), ErrConnectionClosed)

	require.NoError(t, d.Close())
}

func TestDispatcherRegisterRejectsDuplicateID(t *testing.T) {
	in := make(chan item, 1)
	d := newTestDispatcher(in)
	require.NoError(t, d.Open())
	defer d.Close()

	assert.True(t, d.Register(NewWaiter("dup", false)))
	assert.False(t, d.Register(NewWaiter("dup", false)))
}
