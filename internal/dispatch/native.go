package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/dirlink/internal/domain"
)

// NativeServer answers native messaging requests on a byte stream, usually
// the host's stdin/stdout. Nothing else may write to w.
type NativeServer struct {
	r       io.Reader
	w       io.Writer
	handler RequestHandler
	logger  *zap.Logger

	wmu sync.Mutex
	wg  sync.WaitGroup
}

// NewNativeServer creates a server reading requests from r and writing
// responses to w.
func NewNativeServer(r io.Reader, w io.Writer, handler RequestHandler, logger *zap.Logger) *NativeServer {
	return &NativeServer{
		r:       r,
		w:       w,
		handler: handler,
		logger:  logger,
	}
}

// Serve reads frames until the stream ends or ctx is canceled. Requests are
// handled concurrently; each gets exactly one response. A clean end of stream
// returns nil. Serve waits for in-flight requests before returning.
func (s *NativeServer) Serve(ctx context.Context) error {
	frames := make(chan []byte)
	errc := make(chan error, 1)

	// The reader cannot be interrupted; on cancel it is left blocked until
	// the stream closes with the process.
	go func() {
		for {
			payload, err := ReadFrame(s.r)
			if err != nil {
				errc <- err
				return
			}
			select {
			case frames <- payload:
			case <-ctx.Done():
				return
			}
		}
	}()

	defer s.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errc:
			if errors.Is(err, io.EOF) {
				s.logger.Info("native messaging stream closed")
				return nil
			}
			return err
		case payload := <-frames:
			s.wg.Add(1)
			go s.handle(ctx, payload)
		}
	}
}

func (s *NativeServer) handle(ctx context.Context, payload []byte) {
	defer s.wg.Done()

	var req domain.RewriteRequest
	var res domain.RewriteResult
	if err := json.Unmarshal(payload, &req); err != nil {
		s.logger.Warn("malformed request", zap.Error(err))
		res = domain.RewriteResult{Error: fmt.Sprintf("invalid request: %v", err)}
	} else {
		res = s.safeHandle(ctx, req)
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := WriteMessage(s.w, res); err != nil {
		s.logger.Error("failed to write response", zap.String("id", req.ID), zap.Error(err))
	}
}

func (s *NativeServer) safeHandle(ctx context.Context, req domain.RewriteRequest) (res domain.RewriteResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panicked", zap.Any("panic", r))
			res = domain.RewriteResult{ID: req.ID, Error: fmt.Sprintf("internal error: %v", r)}
		}
	}()
	return s.handler.Handle(ctx, req)
}

// NativeClient multiplexes concurrent requests over one native messaging
// stream. Responses are matched to requests by correlation id.
type NativeClient struct {
	w      io.Writer
	closer io.Closer
	logger *zap.Logger

	wmu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan domain.RewriteResult
	err     error
	done    chan struct{}
}

// NewNativeClient starts reading responses from r. Requests are written to w,
// which is closed by Close.
func NewNativeClient(r io.Reader, w io.WriteCloser, logger *zap.Logger) *NativeClient {
	c := &NativeClient{
		w:       w,
		closer:  w,
		logger:  logger,
		pending: make(map[string]chan domain.RewriteResult),
		done:    make(chan struct{}),
	}
	go c.readLoop(r)
	return c
}

// Dispatch sends req and waits for the matching response. The returned
// result carries the caller's own ID.
func (c *NativeClient) Dispatch(ctx context.Context, req domain.RewriteRequest) (domain.RewriteResult, error) {
	callerID := req.ID
	req.ID = uuid.NewString()
	reply := make(chan domain.RewriteResult, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return domain.RewriteResult{}, err
	}
	c.pending[req.ID] = reply
	c.mu.Unlock()

	c.wmu.Lock()
	err := WriteMessage(c.w, req)
	c.wmu.Unlock()
	if err != nil {
		c.forget(req.ID)
		return domain.RewriteResult{}, fmt.Errorf("send request: %w", err)
	}

	select {
	case res := <-reply:
		res.ID = callerID
		return res, nil
	case <-c.done:
		select {
		case res := <-reply:
			res.ID = callerID
			return res, nil
		default:
			return domain.RewriteResult{}, c.closeErr()
		}
	case <-ctx.Done():
		c.forget(req.ID)
		return domain.RewriteResult{}, fmt.Errorf("await response: %w", ctx.Err())
	}
}

// Close closes the request stream. Pending requests fail with ErrClosed.
func (c *NativeClient) Close() error {
	err := c.closer.Close()
	c.fail(ErrClosed)
	return err
}

// Done is closed once the stream has failed or been closed.
func (c *NativeClient) Done() <-chan struct{} {
	return c.done
}

func (c *NativeClient) readLoop(r io.Reader) {
	for {
		var res domain.RewriteResult
		if err := ReadMessage(r, &res); err != nil {
			c.fail(err)
			return
		}

		c.mu.Lock()
		reply, ok := c.pending[res.ID]
		delete(c.pending, res.ID)
		c.mu.Unlock()

		if !ok {
			c.logger.Debug("response for unknown request", zap.String("id", res.ID))
			continue
		}
		reply <- res
	}
}

func (c *NativeClient) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return
	}
	switch {
	case errors.Is(err, ErrClosed):
		c.err = ErrClosed
	case errors.Is(err, io.EOF):
		c.err = ErrClosed
	default:
		c.err = fmt.Errorf("%w: %v", ErrClosed, err)
	}
	c.pending = make(map[string]chan domain.RewriteResult)
	close(c.done)
}

func (c *NativeClient) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *NativeClient) closeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// HostProcess is a native messaging host running as a child process.
type HostProcess struct {
	*NativeClient
	cmd *exec.Cmd
}

// StartHost runs bin with args and connects a client to its stdio.
func StartHost(logger *zap.Logger, bin string, args ...string) (*HostProcess, error) {
	cmd := exec.Command(bin, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open host stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open host stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start host %s: %w", bin, err)
	}

	logger.Info("native host started", zap.String("bin", bin), zap.Int("pid", cmd.Process.Pid))
	return &HostProcess{
		NativeClient: NewNativeClient(stdout, stdin, logger),
		cmd:          cmd,
	}, nil
}

// Close ends the request stream and waits for the host to exit.
func (p *HostProcess) Close() error {
	_ = p.NativeClient.Close()
	return p.cmd.Wait()
}

var _ domain.Dispatcher = (*NativeClient)(nil)
