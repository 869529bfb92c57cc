package dispatch

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/dirlink/internal/domain"
)

// nativePair wires a NativeClient to a NativeServer over two pipes.
type nativePair struct {
	client   *NativeClient
	toHost   *io.PipeWriter
	fromHost *io.PipeWriter
	served   chan error
}

func newNativePair(t *testing.T, h RequestHandler) *nativePair {
	t.Helper()
	reqR, reqW := io.Pipe()
	resR, resW := io.Pipe()

	server := NewNativeServer(reqR, resW, h, zap.NewNop())
	p := &nativePair{
		client:   NewNativeClient(resR, reqW, zap.NewNop()),
		toHost:   reqW,
		fromHost: resW,
		served:   make(chan error, 1),
	}
	go func() {
		err := server.Serve(context.Background())
		_ = resW.Close()
		p.served <- err
	}()
	t.Cleanup(func() { _ = p.client.Close() })
	return p
}

func TestNative_RoundTrip(t *testing.T) {
	p := newNativePair(t, echoHandler())

	res, err := p.client.Dispatch(context.Background(), domain.RewriteRequest{
		ID:     "mine",
		Action: domain.ActionOpenDirectory,
		URL:    "directory:///tmp",
	})

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "mine", res.ID, "caller id restored")

	res, err = p.client.Dispatch(context.Background(), openReq("directory:///fail"))
	require.NoError(t, err)
	assert.Equal(t, "boom", res.Error)
}

// TestNative_ResponsesMatchedOutOfOrder verifies correlation ids route late replies
func TestNative_ResponsesMatchedOutOfOrder(t *testing.T) {
	slow := make(chan struct{})
	h := funcHandler(func(ctx context.Context, req domain.RewriteRequest) domain.RewriteResult {
		if req.URL == "directory:///slow" {
			<-slow
			return domain.RewriteResult{ID: req.ID, Error: "slow"}
		}
		return domain.RewriteResult{ID: req.ID, Error: "fast"}
	})
	p := newNativePair(t, h)

	var wg sync.WaitGroup
	var slowRes domain.RewriteResult
	wg.Add(1)
	go func() {
		defer wg.Done()
		var err error
		slowRes, err = p.client.Dispatch(context.Background(), openReq("directory:///slow"))
		assert.NoError(t, err)
	}()

	fastRes, err := p.client.Dispatch(context.Background(), openReq("directory:///fast"))
	require.NoError(t, err)
	assert.Equal(t, "fast", fastRes.Error)

	close(slow)
	wg.Wait()
	assert.Equal(t, "slow", slowRes.Error)
}

func TestNative_ServerReturnsOnEOF(t *testing.T) {
	p := newNativePair(t, echoHandler())

	require.NoError(t, p.toHost.Close())

	select {
	case err := <-p.served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop at end of stream")
	}
}

// TestNative_StreamClosedFailsPending verifies waiting callers get a transport error
func TestNative_StreamClosedFailsPending(t *testing.T) {
	reqR, reqW := io.Pipe()
	resR, resW := io.Pipe()
	c := NewNativeClient(resR, reqW, zap.NewNop())
	defer c.Close()

	// Drain requests without answering.
	go func() { _, _ = io.Copy(io.Discard, reqR) }()

	errc := make(chan error, 1)
	go func() {
		_, err := c.Dispatch(context.Background(), openReq("directory:///tmp"))
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, resW.Close())

	select {
	case err := <-errc:
		assert.True(t, errors.Is(err, ErrClosed))
	case <-time.After(2 * time.Second):
		t.Fatal("pending request was not failed")
	}

	<-c.Done()
	_, err := c.Dispatch(context.Background(), openReq("directory:///tmp"))
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestNative_MalformedRequest(t *testing.T) {
	reqR, reqW := io.Pipe()
	resR, resW := io.Pipe()
	server := NewNativeServer(reqR, resW, echoHandler(), zap.NewNop())
	go func() { _ = server.Serve(context.Background()) }()
	defer reqW.Close()

	go func() {
		_ = WriteMessage(reqW, "not an object")
	}()

	var res domain.RewriteResult
	require.NoError(t, ReadMessage(resR, &res))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "invalid request")
}

func TestNative_ContextCanceledWhileWaiting(t *testing.T) {
	never := make(chan struct{})
	defer close(never)
	h := funcHandler(func(ctx context.Context, req domain.RewriteRequest) domain.RewriteResult {
		<-never
		return domain.RewriteResult{}
	})
	p := newNativePair(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.client.Dispatch(ctx, openReq("directory:///tmp"))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
